package account

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"masts-go/order"
)

var (
	// ErrMissingSpec 表示缺少品种规格，属于致命配置错误。
	ErrMissingSpec = errors.New("missing symbol spec")
	// ErrNoRate 表示无法换算到账户币种。
	ErrNoRate = errors.New("no exchange rate")
)

// SymbolSpec 是品种合约规格，运行期间只读。
type SymbolSpec struct {
	PipValue      float64
	ContractSize  float64
	MinVolume     float64
	VolumeStep    float64
	BaseCurrency  string // 默认取品种前三位
	QuoteCurrency string // 默认取品种第 4-6 位
}

// Base 返回基础货币。
func (s SymbolSpec) Base(symbol string) string {
	if s.BaseCurrency != "" {
		return s.BaseCurrency
	}
	if len(symbol) >= 3 {
		return symbol[:3]
	}
	return symbol
}

// Quote 返回计价货币。
func (s SymbolSpec) Quote(symbol string) string {
	if s.QuoteCurrency != "" {
		return s.QuoteCurrency
	}
	if len(symbol) >= 6 {
		return symbol[3:6]
	}
	return s.Base(symbol)
}

// Constraints 转换为下单手数限制。
func (s SymbolSpec) Constraints() order.SymbolConstraints {
	return order.SymbolConstraints{MinVolume: s.MinVolume, VolumeStep: s.VolumeStep}
}

// Config 账户初始参数。
type Config struct {
	Name           string
	Number         int64
	Balance        float64
	Currency       string
	Leverage       int
	CommissionRate float64 // 百分比，0.005 表示名义金额的 0.005%
}

// DefaultConfig 返回默认账户配置。
func DefaultConfig() Config {
	return Config{
		Name:           "backtesting_mode",
		Number:         1111,
		Balance:        100000,
		Currency:       "USD",
		Leverage:       33,
		CommissionRate: 0.005,
	}
}

// Info 是账户快照。
type Info struct {
	Name       string  `json:"name"`
	Number     int64   `json:"number"`
	Currency   string  `json:"currency"`
	Leverage   int     `json:"leverage"`
	FreeMargin float64 `json:"free_margin"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
}

// Settlement 是一笔平仓的结算结果。
type Settlement struct {
	Commission float64
	PnL        float64 // 已包含手续费
	Balance    float64
}

// Ledger 维护余额与权益，并计算手续费/盈亏。金额计算使用 decimal，结果保留两位小数。
type Ledger struct {
	mu       sync.RWMutex
	cfg      Config
	specs    map[string]SymbolSpec
	rates    RateProvider
	balance  decimal.Decimal
	floating decimal.Decimal
}

func NewLedger(cfg Config, specs map[string]SymbolSpec, rates RateProvider) *Ledger {
	if rates == nil {
		rates = StaticRates{}
	}
	cp := make(map[string]SymbolSpec, len(specs))
	for k, v := range specs {
		cp[k] = v
	}
	return &Ledger{
		cfg:     cfg,
		specs:   cp,
		rates:   rates,
		balance: decimal.NewFromFloat(cfg.Balance),
	}
}

// Spec 返回品种规格；缺失为致命错误。
func (l *Ledger) Spec(symbol string) (SymbolSpec, error) {
	s, ok := l.specs[symbol]
	if !ok {
		return SymbolSpec{}, fmt.Errorf("%s: %w", symbol, ErrMissingSpec)
	}
	if s.ContractSize <= 0 || s.PipValue <= 0 {
		return SymbolSpec{}, fmt.Errorf("%s: contract size and pip value must be > 0: %w", symbol, ErrMissingSpec)
	}
	return s, nil
}

// Commission 计算往返手续费（开仓+平仓），结果为负数。
func (l *Ledger) Commission(symbol string, lots float64, at time.Time) (float64, error) {
	spec, err := l.Spec(symbol)
	if err != nil {
		return 0, err
	}
	notional := decimal.NewFromFloat(lots).Mul(decimal.NewFromFloat(spec.ContractSize))
	oneSide := notional.Mul(decimal.NewFromFloat(l.cfg.CommissionRate)).Div(decimal.NewFromInt(100))
	converted, err := l.convert(oneSide, spec.Base(symbol), at)
	if err != nil {
		return 0, fmt.Errorf("commission %s: %w", symbol, err)
	}
	return converted.Round(2).Mul(decimal.NewFromInt(-2)).InexactFloat64(), nil
}

// Profit 计算价差盈亏并加上手续费。价差盈亏与手续费一样按基础货币换算。
func (l *Ledger) Profit(o order.Order, closePrice, commission float64, at time.Time) (float64, error) {
	spec, err := l.Spec(o.Symbol)
	if err != nil {
		return 0, err
	}
	open, ok := o.OpenPrice.Get()
	if !ok {
		return 0, fmt.Errorf("profit ticket %d (%s): order has no open price", o.Ticket, o.Symbol)
	}
	diff := decimal.NewFromFloat(closePrice).Sub(decimal.NewFromFloat(open))
	if !o.Kind.IsBuy() {
		diff = diff.Neg()
	}
	raw := diff.Mul(decimal.NewFromFloat(o.Lots)).Mul(decimal.NewFromFloat(spec.ContractSize))
	converted, err := l.convert(raw, spec.Base(o.Symbol), at)
	if err != nil {
		return 0, fmt.Errorf("profit ticket %d (%s): %w", o.Ticket, o.Symbol, err)
	}
	return converted.Round(2).Add(decimal.NewFromFloat(commission)).Round(2).InexactFloat64(), nil
}

// Settle 计算一笔平仓的手续费与盈亏，并记入余额。
func (l *Ledger) Settle(o order.Order, closePrice float64, at time.Time) (Settlement, error) {
	commission, err := l.Commission(o.Symbol, o.Lots, at)
	if err != nil {
		return Settlement{}, err
	}
	pnl, err := l.Profit(o, closePrice, commission, at)
	if err != nil {
		return Settlement{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(decimal.NewFromFloat(pnl))
	return Settlement{Commission: commission, PnL: pnl, Balance: l.balance.InexactFloat64()}, nil
}

// Floating 计算持仓浮动盈亏（不含手续费），用于权益。
func (l *Ledger) Floating(o order.Order, markPrice float64, at time.Time) (float64, error) {
	return l.Profit(o, markPrice, 0, at)
}

// MarkToMarket 更新浮动盈亏合计。
func (l *Ledger) MarkToMarket(floating float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.floating = decimal.NewFromFloat(floating)
}

// Balance 返回当前余额。
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance.InexactFloat64()
}

// Info 返回账户快照。
func (l *Ledger) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	equity := l.balance.Add(l.floating).Round(2).InexactFloat64()
	return Info{
		Name:       l.cfg.Name,
		Number:     l.cfg.Number,
		Currency:   l.cfg.Currency,
		Leverage:   l.cfg.Leverage,
		FreeMargin: equity,
		Balance:    l.balance.Round(2).InexactFloat64(),
		Equity:     equity,
	}
}

func (l *Ledger) convert(amount decimal.Decimal, from string, at time.Time) (decimal.Decimal, error) {
	if from == l.cfg.Currency {
		return amount, nil
	}
	rate, err := l.rates.Rate(from, l.cfg.Currency, at)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(decimal.NewFromFloat(rate)), nil
}
