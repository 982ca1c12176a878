package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrCoverage 表示数据覆盖范围不包含回测区间，属于致命配置错误。
	ErrCoverage = errors.New("series does not cover the run range")
	// ErrUnordered 表示数据时间戳不是严格递增。
	ErrUnordered = errors.New("series timestamps not strictly increasing")
)

// Series 是按时间严格递增的一组 K 线，加载后不再修改。
type Series struct {
	Key  Key
	bars []Bar
}

// NewSeries 校验时间顺序后构造 Series。
func NewSeries(key Key, bars []Bar) (*Series, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, fmt.Errorf("%s row %d (%s): %w", key, i, bars[i].Time.Format(time.RFC3339), ErrUnordered)
		}
	}
	return &Series{Key: key, bars: bars}, nil
}

func (s *Series) Len() int { return len(s.bars) }

// At 返回第 i 根 K 线。
func (s *Series) At(i int) Bar { return s.bars[i] }

// Bars 返回全部 K 线（只读视图）。
func (s *Series) Bars() []Bar { return s.bars }

// IndexOfFirstGE 返回第一根 Time >= t 的下标，耗尽时返回 NotFound。
func (s *Series) IndexOfFirstGE(t time.Time) int {
	i := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Time.Before(t) })
	if i >= len(s.bars) {
		return NotFound
	}
	return i
}

// LastIndexAt 返回时间戳等于 t 的最后一个下标，不存在时返回 NotFound。
func (s *Series) LastIndexAt(t time.Time) int {
	i := sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Time.After(t) }) - 1
	if i < 0 || !s.bars[i].Time.Equal(t) {
		return NotFound
	}
	return i
}

// LastIndexAtOrBefore 返回 Time <= t 的最后一个下标。
func (s *Series) LastIndexAtOrBefore(t time.Time) int {
	i := sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Time.After(t) }) - 1
	if i < 0 {
		return NotFound
	}
	return i
}

// Window 返回 [from, to) 内的 K 线。
func (s *Series) Window(from, to time.Time) []Bar {
	lo := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Time.Before(from) })
	hi := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Time.Before(to) })
	if lo >= hi {
		return nil
	}
	return s.bars[lo:hi]
}

// Covers 检查 [start, end] 完全落在数据范围内。最后一根 K 线按收盘时刻计。
func (s *Series) Covers(start, end time.Time) error {
	if len(s.bars) == 0 {
		return fmt.Errorf("%s is empty: %w", s.Key, ErrCoverage)
	}
	last := s.bars[len(s.bars)-1].End(s.Key.Timeframe)
	return checkCoverage(s.Key.String(), s.bars[0].Time, last, start, end)
}

// TickSeries 是单个品种按时间排序的报价序列。
type TickSeries struct {
	Symbol string
	ticks  []Tick
}

// NewTickSeries 校验时间顺序后构造 TickSeries。相同时间戳的报价视为乱序。
func NewTickSeries(symbol string, ticks []Tick) (*TickSeries, error) {
	for i := 1; i < len(ticks); i++ {
		if !ticks[i].Time.After(ticks[i-1].Time) {
			return nil, fmt.Errorf("%s ticks row %d (%s): %w", symbol, i, ticks[i].Time.Format(time.RFC3339Nano), ErrUnordered)
		}
	}
	return &TickSeries{Symbol: symbol, ticks: ticks}, nil
}

func (s *TickSeries) Len() int { return len(s.ticks) }

func (s *TickSeries) At(i int) Tick { return s.ticks[i] }

// IndexOfFirstGE 返回第一笔 Time >= t 的下标，耗尽时返回 NotFound。
func (s *TickSeries) IndexOfFirstGE(t time.Time) int {
	i := sort.Search(len(s.ticks), func(i int) bool { return !s.ticks[i].Time.Before(t) })
	if i >= len(s.ticks) {
		return NotFound
	}
	return i
}

// Covers 检查 [start, end] 完全落在数据范围内。
func (s *TickSeries) Covers(start, end time.Time) error {
	if len(s.ticks) == 0 {
		return fmt.Errorf("%s ticks are empty: %w", s.Symbol, ErrCoverage)
	}
	return checkCoverage(s.Symbol+"_TICK", s.ticks[0].Time, s.ticks[len(s.ticks)-1].Time, start, end)
}

func checkCoverage(name string, first, last, start, end time.Time) error {
	if start.Before(first) {
		return fmt.Errorf("%s: start %s is before first row %s: %w",
			name, start.Format(time.RFC3339), first.Format(time.RFC3339), ErrCoverage)
	}
	if end.After(last) {
		return fmt.Errorf("%s: end %s is after last row %s: %w",
			name, end.Format(time.RFC3339), last.Format(time.RFC3339), ErrCoverage)
	}
	return nil
}
