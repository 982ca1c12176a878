package strategy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"masts-go/infrastructure/logger"
	"masts-go/market"
	"masts-go/order"
	"masts-go/timeframe"
)

// Strategy 是策略的能力接口，引擎与 Runner 不关心具体实现。
type Strategy interface {
	Name() string
	// RequiredData 返回每个序列需要的历史 K 线根数。
	RequiredData() map[market.Key]int
	// Execute 根据历史数据产生信号并下单。
	Execute(historic map[market.Key][]market.Bar) error
	// ManageOrders 维护已有订单（移动止损等）。
	ManageOrders() error
}

// Runner 将 K 线事件 -> 策略 -> 下单串起来，实现 EventHandler。
// Trigger 序列每收一根 K 线，按注册顺序对每个策略先 ManageOrders 再 Execute。
type Runner struct {
	Broker     Broker
	Strategies []Strategy
	Trigger    market.Key
	Log        *logger.Logger

	historic    map[market.Key][]market.Bar
	trades      []order.Order
	orderEvents int
	errorsSeen  int
	err         error
}

// NewRunner 创建 Runner；log 为 nil 时不输出日志。
func NewRunner(broker Broker, trigger market.Key, log *logger.Logger, strategies ...Strategy) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		Broker:     broker,
		Strategies: strategies,
		Trigger:    trigger,
		Log:        log,
		historic:   make(map[market.Key][]market.Bar),
	}
}

// Err 返回第一个致命错误。引擎在每次回调后检查。
func (r *Runner) Err() error { return r.err }

func (r *Runner) OnTick(string, float64, float64) {}

func (r *Runner) OnBarData(symbol string, tf timeframe.Timeframe, _ market.Bar) {
	if r.err != nil || r.Broker == nil {
		return
	}
	if (market.Key{Symbol: symbol, Timeframe: tf}) != r.Trigger {
		return
	}
	for _, s := range r.Strategies {
		if err := s.ManageOrders(); err != nil {
			if r.fail(s, "manage_orders", err) {
				return
			}
		}
		historic := make(map[market.Key][]market.Bar)
		for key, n := range s.RequiredData() {
			historic[key] = r.Broker.LastBars(key, n)
		}
		if err := s.Execute(historic); err != nil {
			if r.fail(s, "execute", err) {
				return
			}
		}
	}
}

// 拒单不视为致命，策略自行处理；其它错误锁存并返回 true。
func (r *Runner) fail(s Strategy, stage string, err error) bool {
	if errors.Is(err, order.ErrRejected) {
		return false
	}
	r.err = fmt.Errorf("strategy %s %s: %w", s.Name(), stage, err)
	return true
}

func (r *Runner) OnHistoricData(symbol string, tf timeframe.Timeframe, bars []market.Bar) {
	r.historic[market.Key{Symbol: symbol, Timeframe: tf}] = bars
	r.Log.Debug("historic_data", zap.String("symbol", symbol), zap.String("timeframe", tf.String()), zap.Int("bars", len(bars)))
}

// Historic 返回最近一次 GetHistoricData 的结果。
func (r *Runner) Historic(key market.Key) []market.Bar {
	return r.historic[key]
}

func (r *Runner) OnHistoricTrades(trades []order.Order) {
	r.trades = trades
	r.Log.Debug("historic_trades", zap.Int("trades", len(trades)))
}

// Trades 返回最近一次 GetHistoricTrades 的结果。
func (r *Runner) Trades() []order.Order { return r.trades }

func (r *Runner) OnOrderEvent() { r.orderEvents++ }

// OrderEvents 返回收到的订单事件数。
func (r *Runner) OrderEvents() int { return r.orderEvents }

func (r *Runner) OnMessage(msg Message) {
	if msg.Type == MessageError {
		r.errorsSeen++
		r.Log.Warn("engine_message", zap.String("type", string(msg.Type)), zap.String("message", msg.Text))
		return
	}
	r.Log.Debug("engine_message", zap.String("type", string(msg.Type)), zap.String("message", msg.Text))
}

// ErrorMessages 返回收到的 ERROR 消息数（例如拒单）。
func (r *Runner) ErrorMessages() int { return r.errorsSeen }
