package backtest

import (
	"errors"
	"fmt"
	"time"

	"masts-go/market"
)

// Mode 是时钟的驱动方式，一次运行只能选一种。
type Mode string

const (
	ModeBar  Mode = "bar"
	ModeTick Mode = "tick"
)

var (
	// ErrInvalidConfig 表示回测参数组合非法（例如同时配置了锚序列与 tick 订阅）。
	ErrInvalidConfig = errors.New("invalid backtest config")
	// ErrTickDataRequired 表示 M1 K 线本身仍有歧义，需要 tick 级数据才能判断先后。
	ErrTickDataRequired = errors.New("tick-level detail required")
	// ErrNoFinerData 表示需要细化时找不到对应时间窗的 M1 数据。
	ErrNoFinerData = errors.New("no finer data for intrabar resolution")
)

// Config 回测配置
type Config struct {
	Start time.Time
	End   time.Time

	// Anchors 决定 K 线驱动模式下的时间推进，每个品种最多一个。
	Anchors []market.Key
	// Ticks 决定 tick 驱动模式下的时间推进。与 Anchors 互斥。
	Ticks []string
	// Bars 是额外订阅的 K 线，收盘时触发 OnBarData。
	Bars []market.Key
	// History 只加载供 LastBars/GetHistoricData 查询，不触发回调。
	History []market.Key

	// SpreadPips 是 K 线驱动模式下 ask 相对 bid（开盘价）的点差。
	SpreadPips float64
}

// Mode 根据订阅推断驱动方式。
func (c Config) Mode() Mode {
	if len(c.Ticks) > 0 {
		return ModeTick
	}
	return ModeBar
}

// Validate 检查参数组合。
func (c Config) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidConfig)
	}
	if !c.End.After(c.Start) {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalidConfig, c.End, c.Start)
	}
	if len(c.Anchors) > 0 && len(c.Ticks) > 0 {
		return fmt.Errorf("%w: bar-driven anchors and tick-driven symbols are mutually exclusive", ErrInvalidConfig)
	}
	if len(c.Anchors) == 0 && len(c.Ticks) == 0 {
		return fmt.Errorf("%w: need anchors (bar mode) or tick symbols (tick mode)", ErrInvalidConfig)
	}
	if c.SpreadPips < 0 {
		return fmt.Errorf("%w: spread_pips must be >= 0", ErrInvalidConfig)
	}
	for _, k := range c.Anchors {
		if !k.Timeframe.Valid() {
			return fmt.Errorf("%w: anchor %s has unknown timeframe", ErrInvalidConfig, k)
		}
	}
	return nil
}

// 运行期需要加载的 K 线序列，按 anchors、bars、history 顺序去重。
func (c Config) seriesKeys() []market.Key {
	seen := make(map[market.Key]bool)
	var out []market.Key
	for _, group := range [][]market.Key{c.Anchors, c.Bars, c.History} {
		for _, k := range group {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
