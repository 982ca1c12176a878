package order

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestLedgerTicketsStrictlyIncreasing(t *testing.T) {
	l := NewLedger()
	for i := int64(1); i <= 3; i++ {
		o := l.Add(Order{Symbol: "EURUSD", Kind: KindBuy, Lots: 0.1})
		assert.Equal(t, i, o.Ticket)
		assert.Equal(t, StatusPending, o.Status)
	}
	dup, err := l.Duplicate(2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), dup)
	assert.Equal(t, int64(5), l.Add(Order{Symbol: "EURUSD", Kind: KindSell}).Ticket)
	assert.Equal(t, 5, l.Len())

	_, err = l.Duplicate(42)
	assert.True(t, errors.Is(err, ErrUnknownTicket))
}

func TestLedgerLifecycle(t *testing.T) {
	l := NewLedger()
	o := l.Add(Order{Symbol: "EURUSD", Kind: KindBuyLimit, Lots: 0.1, Price: 1.095, CreatedAt: t0})
	assert.False(t, o.OpenPrice.IsSet())

	filled, err := l.Fill(o.Ticket, 1.095, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, filled.Status)
	assert.Equal(t, KindBuy, filled.Kind)
	assert.Equal(t, 1.095, filled.OpenPrice.Or(0))

	_, err = l.Fill(o.Ticket, 1.1, t0.Add(2*time.Hour))
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	closed, err := l.Close(o.Ticket, 1.1, t0.Add(3*time.Hour), -1, 49)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, 49.0, closed.PnL)

	_, err = l.Close(o.Ticket, 1.1, t0.Add(4*time.Hour), 0, 0)
	assert.True(t, errors.Is(err, ErrTerminal))
	_, err = l.Amend(o.Ticket, func(o *Order) { o.StopLoss = 1 })
	assert.True(t, errors.Is(err, ErrTerminal))
}

func TestLedgerCancel(t *testing.T) {
	l := NewLedger()
	o := l.Add(Order{Symbol: "EURUSD", Kind: KindSellLimit, Lots: 0.1, Price: 1.2})
	c, err := l.Cancel(o.Ticket, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, c.Status)
	assert.False(t, c.ClosePrice.IsSet())

	_, err = l.Fill(o.Ticket, 1.2, t0)
	assert.True(t, errors.Is(err, ErrTerminal))
}

func TestLedgerLiveAndHistory(t *testing.T) {
	l := NewLedger()
	a := l.Add(Order{Symbol: "EURUSD", Kind: KindBuy, Magic: 7})
	b := l.Add(Order{Symbol: "GBPUSD", Kind: KindBuyLimit, Magic: 7})
	c := l.Add(Order{Symbol: "EURUSD", Kind: KindSellStop, Magic: 9})
	_, err := l.Fill(a.Ticket, 1.1, t0)
	require.NoError(t, err)
	_, err = l.Cancel(c.Ticket, t0.Add(time.Hour))
	require.NoError(t, err)

	live := l.Live(nil)
	require.Len(t, live, 2)
	assert.Equal(t, a.Ticket, live[0].Ticket)
	assert.Equal(t, b.Ticket, live[1].Ticket)

	byMagic := l.Live(func(o Order) bool { return o.Magic == 7 && o.Symbol == "EURUSD" })
	require.Len(t, byMagic, 1)

	assert.Len(t, l.History(t0), 1)
	assert.Empty(t, l.History(t0.Add(2*time.Hour)))
	assert.Len(t, l.List(), 3)
}

func TestStateMachine(t *testing.T) {
	sm := NewStateMachine()
	testCases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusOpen, true},
		{StatusPending, StatusCanceled, true},
		{StatusOpen, StatusClosed, true},
		{StatusOpen, StatusCanceled, false},
		{StatusPending, StatusClosed, false},
		{StatusClosed, StatusOpen, false},
		{StatusCanceled, StatusPending, false},
	}
	for _, tc := range testCases {
		err := sm.ValidateTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.Error(t, err, "%s -> %s", tc.from, tc.to)
		}
	}
	assert.True(t, sm.IsFinalState(StatusClosed))
	assert.False(t, sm.IsFinalState(StatusOpen))
	assert.ElementsMatch(t, []Status{StatusOpen, StatusCanceled}, sm.AllowedTransitions(StatusPending))
	assert.Empty(t, sm.AllowedTransitions(StatusCanceled))
}
