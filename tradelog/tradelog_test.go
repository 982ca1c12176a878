package tradelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masts-go/order"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func closedOrder(ticket int64, symbol string, pnl float64) order.Order {
	return order.Order{
		Ticket:     ticket,
		Symbol:     symbol,
		Kind:       order.KindBuy,
		Lots:       1,
		Price:      1.095,
		StopLoss:   1.085,
		Magic:      7,
		Comment:    "ema",
		Status:     order.StatusClosed,
		CreatedAt:  t0,
		OpenTime:   t0,
		OpenPrice:  order.Price(1.095),
		CloseTime:  t0.Add(4 * time.Hour),
		ClosePrice: order.Price(1.1),
		Commission: -11,
		PnL:        pnl,
	}
}

func TestWriterAppendsOneLinePerOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	w, err := Open(path, true)
	require.NoError(t, err)

	require.NoError(t, w.Append(closedOrder(1, "EURUSD", 489)))
	canceled := order.Order{Ticket: 2, Symbol: "EURUSD", Kind: order.KindSellLimit, Lots: 0.1, Price: 1.2,
		Status: order.StatusCanceled, CreatedAt: t0, CloseTime: t0.Add(time.Hour)}
	require.NoError(t, w.Append(canceled))
	assert.Error(t, w.Append(order.Order{Ticket: 3, Status: order.StatusOpen}))
	assert.Equal(t, 2, w.Lines())
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"open_time":"2024-03-04 00:00:00"`)
	assert.Contains(t, lines[0], `"close_time":"2024-03-04 04:00:00"`)
	assert.Contains(t, lines[0], `"status":"CLOSED"`)
	assert.Contains(t, lines[1], `"open_price":null`)
	assert.Contains(t, lines[1], `"close_price":null`)

	recs, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Ticket)
	require.NotNil(t, recs[0].OpenPrice)
	assert.Equal(t, 1.095, *recs[0].OpenPrice)
	assert.Equal(t, "selllimit", recs[1].Type)
	assert.Equal(t, "2024-03-04 00:00:00", recs[1].OpenTime)
	assert.Nil(t, recs[1].OpenPrice)
}

func TestWriterAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	for i := int64(1); i <= 2; i++ {
		w, err := Open(path, false)
		require.NoError(t, err)
		require.NoError(t, w.Append(closedOrder(i, "EURUSD", 1)))
		require.NoError(t, w.Close())
	}
	recs, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestReadReportsLineNumber(t *testing.T) {
	_, err := Read(strings.NewReader("{\"ticket\":1}\n\nnot-json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	w, err := Open(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(closedOrder(1, "EURUSD", 489)))
	require.NoError(t, w.Append(closedOrder(2, "EURUSD", -511)))
	require.NoError(t, w.Append(closedOrder(3, "USDJPY", 323.33)))
	require.NoError(t, w.Append(order.Order{Ticket: 4, Symbol: "EURUSD", Kind: order.KindBuyStop,
		Status: order.StatusCanceled, CreatedAt: t0}))
	require.NoError(t, w.Close())

	s, err := SummarizeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Closed)
	assert.Equal(t, 1, s.Canceled)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 812.33, s.GrossProfit)
	assert.Equal(t, -511.0, s.GrossLoss)
	assert.Equal(t, -33.0, s.Commission)
	assert.Equal(t, 301.33, s.NetPnL)
	assert.Equal(t, []string{"EURUSD", "USDJPY"}, s.Symbols())
	assert.Equal(t, -22.0, s.BySymbol["EURUSD"])

	_, err = Summarize(strings.NewReader("{\"status\":\"OPEN\"}\n"))
	assert.Error(t, err)
}
