package account

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masts-go/order"
)

var at = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	specs := map[string]SymbolSpec{
		"EURUSD": {PipValue: 0.0001, ContractSize: 100000, MinVolume: 0.01},
		"USDJPY": {PipValue: 0.01, ContractSize: 100000, MinVolume: 0.01},
		"USDCHF": {PipValue: 0.0001, ContractSize: 100000, MinVolume: 0.01},
	}
	rates := StaticRates{"EURUSD": 1.1, "USDJPY": 150}
	return NewLedger(DefaultConfig(), specs, rates)
}

func openOrder(symbol string, kind order.Kind, lots, open float64) order.Order {
	return order.Order{Ticket: 1, Symbol: symbol, Kind: kind, Lots: lots, Status: order.StatusOpen, OpenPrice: order.Price(open)}
}

func TestCommission(t *testing.T) {
	l := newTestLedger()
	testCases := []struct {
		name   string
		symbol string
		lots   float64
		want   float64
	}{
		// 5 EUR 单边，按 1.1 换算为 5.5 USD，往返 -11
		{"converted from base currency", "EURUSD", 1, -11},
		{"same currency", "USDJPY", 1, -10},
		// 0.125 四舍五入（远离零）到 0.13
		{"half rounds away from zero", "USDCHF", 0.025, -0.26},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.Commission(tc.symbol, tc.lots, at)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProfit(t *testing.T) {
	l := newTestLedger()

	buy := openOrder("EURUSD", order.KindBuy, 1, 1.1000)
	// 500 按基础货币 EUR 以 1.1 换算为 550，再加手续费
	pnl, err := l.Profit(buy, 1.1050, -11, at)
	require.NoError(t, err)
	assert.Equal(t, 539.0, pnl)

	sell := openOrder("EURUSD", order.KindSell, 1, 1.1000)
	pnl, err = l.Profit(sell, 1.1050, -11, at)
	require.NoError(t, err)
	assert.Equal(t, -561.0, pnl)

	// 基础货币 USD 与账户货币相同，不换算
	jpy := openOrder("USDJPY", order.KindBuy, 1, 150.00)
	pnl, err = l.Profit(jpy, 150.50, -10, at)
	require.NoError(t, err)
	assert.Equal(t, 49990.0, pnl)

	_, err = l.Profit(order.Order{Symbol: "EURUSD", Kind: order.KindBuy, Lots: 1}, 1.1, 0, at)
	assert.Error(t, err)
}

func TestSettleUpdatesBalance(t *testing.T) {
	l := newTestLedger()
	s, err := l.Settle(openOrder("EURUSD", order.KindBuy, 1, 1.1000), 1.1050, at)
	require.NoError(t, err)
	assert.Equal(t, -11.0, s.Commission)
	assert.Equal(t, 539.0, s.PnL)
	assert.Equal(t, 100539.0, l.Balance())

	l.MarkToMarket(-100.5)
	info := l.Info()
	assert.Equal(t, 100539.0, info.Balance)
	assert.Equal(t, 100438.5, info.Equity)
	assert.Equal(t, info.Equity, info.FreeMargin)
	assert.Equal(t, "USD", info.Currency)
	assert.Equal(t, 33, info.Leverage)
	assert.Equal(t, int64(1111), info.Number)
}

func TestMissingSpecAndRate(t *testing.T) {
	l := newTestLedger()
	_, err := l.Commission("XAUUSD", 1, at)
	assert.True(t, errors.Is(err, ErrMissingSpec))

	l2 := NewLedger(DefaultConfig(), map[string]SymbolSpec{"GBPJPY": {PipValue: 0.01, ContractSize: 100000}}, StaticRates{})
	_, err = l2.Commission("GBPJPY", 1, at)
	assert.True(t, errors.Is(err, ErrNoRate))
}

func TestStaticRates(t *testing.T) {
	r := StaticRates{"EURUSD": 1.25}
	v, err := r.Rate("usd", "EUR", at)
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)
	v, err = r.Rate("USD", "USD", at)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestSymbolSpecCurrencies(t *testing.T) {
	s := SymbolSpec{}
	assert.Equal(t, "EUR", s.Base("EURUSD"))
	assert.Equal(t, "USD", s.Quote("EURUSD"))
	s = SymbolSpec{BaseCurrency: "XAU", QuoteCurrency: "USD"}
	assert.Equal(t, "XAU", s.Base("GOLD"))
	assert.Equal(t, "USD", s.Quote("GOLD"))
}
