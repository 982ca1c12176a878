// Package emacross 是一个最小的均线交叉策略，用于演示 strategy.Strategy 接口。
package emacross

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"masts-go/market"
	"masts-go/order"
	"masts-go/timeframe"
)

// Broker 是策略用到的下单与查询能力。
type Broker interface {
	OpenOrder(req order.Request) (int64, error)
	ModifyOrder(ticket int64, m order.Modification) error
	CloseOrder(ticket int64, lots float64) (bool, error)
	OpenOrders() []order.Order
	Quote(symbol string) (market.Quote, bool)
}

// Config 策略参数。价格距离以 pip 表示。
type Config struct {
	Symbol         string
	Timeframe      timeframe.Timeframe
	FastPeriod     int
	SlowPeriod     int
	Lots           float64
	StopLossPips   float64
	TakeProfitPips float64
	TrailingPips   float64 // 0 表示不移动止损
	PipValue       float64
	Magic          int64
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return errors.New("emacross: symbol required")
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("emacross: %w: %q", timeframe.ErrUnknownTimeframe, c.Timeframe)
	}
	if c.FastPeriod < 2 || c.SlowPeriod <= c.FastPeriod {
		return fmt.Errorf("emacross: need 2 <= fast (%d) < slow (%d)", c.FastPeriod, c.SlowPeriod)
	}
	if c.Lots <= 0 || c.PipValue <= 0 {
		return errors.New("emacross: lots and pip value must be > 0")
	}
	if c.StopLossPips < 0 || c.TakeProfitPips < 0 || c.TrailingPips < 0 {
		return errors.New("emacross: pip distances must be >= 0")
	}
	return nil
}

// Strategy 快线上穿慢线做多、下穿做空；反向信号先平掉反向持仓。
type Strategy struct {
	cfg    Config
	broker Broker
	key    market.Key
}

func New(cfg Config, broker Broker) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, errors.New("emacross: broker required")
	}
	return &Strategy{cfg: cfg, broker: broker, key: market.Key{Symbol: cfg.Symbol, Timeframe: cfg.Timeframe}}, nil
}

func (s *Strategy) Name() string { return "emacross" }

// Key 返回驱动策略的序列。
func (s *Strategy) Key() market.Key { return s.key }

func (s *Strategy) RequiredData() map[market.Key]int {
	return map[market.Key]int{s.key: s.cfg.SlowPeriod * 3}
}

// Signal 返回 +1（上穿）、-1（下穿）或 0。
func Signal(closes []float64, fast, slow int) int {
	if len(closes) < slow+1 {
		return 0
	}
	f := talib.Ema(closes, fast)
	sl := talib.Ema(closes, slow)
	n := len(closes) - 1
	prev := f[n-1] - sl[n-1]
	cur := f[n] - sl[n]
	switch {
	case prev <= 0 && cur > 0:
		return 1
	case prev >= 0 && cur < 0:
		return -1
	}
	return 0
}

func (s *Strategy) Execute(historic map[market.Key][]market.Bar) error {
	bars := historic[s.key]
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	sig := Signal(closes, s.cfg.FastPeriod, s.cfg.SlowPeriod)
	if sig == 0 {
		return nil
	}
	q, ok := s.broker.Quote(s.cfg.Symbol)
	if !ok {
		return nil
	}

	wantBuy := sig > 0
	holding := false
	for _, o := range s.mine(order.StatusOpen) {
		if o.Kind.IsBuy() == wantBuy {
			holding = true
			continue
		}
		if _, err := s.broker.CloseOrder(o.Ticket, 0); err != nil {
			return err
		}
	}
	if holding {
		return nil
	}

	req := order.Request{Symbol: s.cfg.Symbol, Lots: s.cfg.Lots, Magic: s.cfg.Magic, Comment: s.Name()}
	pips := s.cfg.PipValue
	if wantBuy {
		req.Kind = order.KindBuy
		if s.cfg.StopLossPips > 0 {
			req.StopLoss = q.Ask - s.cfg.StopLossPips*pips
		}
		if s.cfg.TakeProfitPips > 0 {
			req.TakeProfit = q.Ask + s.cfg.TakeProfitPips*pips
		}
	} else {
		req.Kind = order.KindSell
		if s.cfg.StopLossPips > 0 {
			req.StopLoss = q.Bid + s.cfg.StopLossPips*pips
		}
		if s.cfg.TakeProfitPips > 0 {
			req.TakeProfit = q.Bid - s.cfg.TakeProfitPips*pips
		}
	}
	_, err := s.broker.OpenOrder(req)
	if errors.Is(err, order.ErrRejected) {
		return nil
	}
	return err
}

func (s *Strategy) ManageOrders() error {
	if s.cfg.TrailingPips <= 0 {
		return nil
	}
	q, ok := s.broker.Quote(s.cfg.Symbol)
	if !ok {
		return nil
	}
	step := s.cfg.TrailingPips * s.cfg.PipValue
	for _, o := range s.mine(order.StatusOpen) {
		mark := q.Bid
		if !o.Kind.IsBuy() {
			mark = q.Ask
		}
		sl, ok := TrailingStop(o, mark, step)
		if !ok {
			continue
		}
		err := s.broker.ModifyOrder(o.Ticket, order.Modification{StopLoss: sl, TakeProfit: o.TakeProfit, Expiration: o.Expiration})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Strategy) mine(status order.Status) []order.Order {
	var out []order.Order
	for _, o := range s.broker.OpenOrders() {
		if o.Symbol == s.cfg.Symbol && o.Magic == s.cfg.Magic && o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// TrailingStop 按 step 的整数倍移动止损：价格每走出一个 step，止损推进到
// 开仓价 +（步数-1）*step。只向有利方向移动。
func TrailingStop(o order.Order, mark, step float64) (float64, bool) {
	open, ok := o.OpenPrice.Get()
	if !ok || step <= 0 {
		return 0, false
	}
	diff := mark - open
	if !o.Kind.IsBuy() {
		diff = -diff
	}
	jumps := math.Floor(diff/step + 1e-9)
	if jumps <= 0 {
		return 0, false
	}
	if o.Kind.IsBuy() {
		sl := open + (jumps-1)*step
		if o.StopLoss < sl {
			return sl, true
		}
		return 0, false
	}
	sl := open - (jumps-1)*step
	if o.StopLoss == 0 || sl < o.StopLoss {
		return sl, true
	}
	return 0, false
}
