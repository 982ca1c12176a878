package strategy

import (
	"errors"
	"fmt"

	"masts-go/strategy/emacross"
	"masts-go/timeframe"
)

// StrategyType 策略类型名（配置中的 strategy.type）。
type StrategyType string

const (
	EMACrossStrategy StrategyType = "emacross"
)

// Params 是从配置传入的策略参数。
type Params struct {
	Symbol    string
	Timeframe timeframe.Timeframe
	Magic     int64
	PipValue  float64
	Values    map[string]float64
}

func (p Params) get(name string, def float64) float64 {
	if v, ok := p.Values[name]; ok {
		return v
	}
	return def
}

// StrategyFactory creates strategy instances based on configuration.
type StrategyFactory struct{}

// NewStrategyFactory creates a new StrategyFactory.
func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{}
}

// CreateStrategy 根据类型名创建策略，broker 为回测引擎或实盘桥。
func (f *StrategyFactory) CreateStrategy(strategyType string, p Params, broker Broker) (Strategy, error) {
	if broker == nil {
		return nil, errors.New("strategy factory: broker required")
	}
	switch StrategyType(strategyType) {
	case EMACrossStrategy:
		return emacross.New(emacross.Config{
			Symbol:         p.Symbol,
			Timeframe:      p.Timeframe,
			FastPeriod:     int(p.get("fast", 12)),
			SlowPeriod:     int(p.get("slow", 26)),
			Lots:           p.get("lots", 0.1),
			StopLossPips:   p.get("stop_loss_pips", 0),
			TakeProfitPips: p.get("take_profit_pips", 0),
			TrailingPips:   p.get("trailing_pips", 0),
			PipValue:       p.PipValue,
			Magic:          p.Magic,
		}, broker)
	default:
		return nil, fmt.Errorf("unknown strategy type: %s", strategyType)
	}
}
