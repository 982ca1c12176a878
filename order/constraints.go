package order

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrRejected 表示下单参数不合法；调用方记录日志后继续运行。
	ErrRejected = errors.New("order rejected")
	// ErrTerminal 表示试图修改已结束的订单，属于上游逻辑错误。
	ErrTerminal = errors.New("order is in a terminal state")
	// ErrUnknownTicket 表示账本中不存在该单号。
	ErrUnknownTicket = errors.New("unknown ticket")
)

// SymbolConstraints 描述品种的手数限制。
type SymbolConstraints struct {
	MinVolume  float64
	VolumeStep float64
	MaxVolume  float64
}

// ValidateLots 检查手数是否符合最小/最大/步长。
func (c SymbolConstraints) ValidateLots(lots float64) error {
	if lots <= 0 {
		return fmt.Errorf("lots %.4f must be > 0", lots)
	}
	if c.MinVolume > 0 && lots < c.MinVolume-1e-9 {
		return fmt.Errorf("lots %.4f < minVolume %.4f", lots, c.MinVolume)
	}
	if c.MaxVolume > 0 && lots > c.MaxVolume+1e-9 {
		return fmt.Errorf("lots %.4f > maxVolume %.4f", lots, c.MaxVolume)
	}
	if c.VolumeStep > 0 && !isMultiple(lots, c.VolumeStep) {
		return fmt.Errorf("lots %.4f not aligned to volumeStep %.4f", lots, c.VolumeStep)
	}
	return nil
}

// Validate 检查价格与 SL/TP 的方向关系：
// 多单 TP 必须高于价格、SL 必须低于价格；空单相反。0 表示未设置。
func Validate(o Order, c SymbolConstraints) error {
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrRejected, o.Kind)
	}
	if err := c.ValidateLots(o.Lots); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRejected, o.Symbol, o.Kind, err)
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: %s %s: price must be > 0", ErrRejected, o.Symbol, o.Kind)
	}
	if o.StopLoss < 0 || o.TakeProfit < 0 {
		return fmt.Errorf("%w: %s %s: negative SL/TP", ErrRejected, o.Symbol, o.Kind)
	}
	if o.Kind.IsBuy() {
		if o.TakeProfit > 0 && o.TakeProfit <= o.Price {
			return fmt.Errorf("%w: %s %s: TP %g <= price %g", ErrRejected, o.Symbol, o.Kind, o.TakeProfit, o.Price)
		}
		if o.StopLoss > 0 && o.StopLoss >= o.Price {
			return fmt.Errorf("%w: %s %s: SL %g >= price %g", ErrRejected, o.Symbol, o.Kind, o.StopLoss, o.Price)
		}
		return nil
	}
	if o.TakeProfit > 0 && o.TakeProfit >= o.Price {
		return fmt.Errorf("%w: %s %s: TP %g >= price %g", ErrRejected, o.Symbol, o.Kind, o.TakeProfit, o.Price)
	}
	if o.StopLoss > 0 && o.StopLoss <= o.Price {
		return fmt.Errorf("%w: %s %s: SL %g <= price %g", ErrRejected, o.Symbol, o.Kind, o.StopLoss, o.Price)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
