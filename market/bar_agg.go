package market

import (
	"fmt"
	"sync"

	"masts-go/timeframe"
)

// BarAggregator 将细周期 K 线按日历边界合成为粗周期 K 线。
type BarAggregator struct {
	Timeframe timeframe.Timeframe
	mu        sync.Mutex
	current   *Bar
}

func NewBarAggregator(tf timeframe.Timeframe) (*BarAggregator, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("aggregator: %w: %q", timeframe.ErrUnknownTimeframe, string(tf))
	}
	return &BarAggregator{Timeframe: tf}, nil
}

// Add 合并一根细周期 K 线；返回新闭合的粗周期 K 线或 nil。
func (a *BarAggregator) Add(b Bar) *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := timeframe.MustClean(b.Time, a.Timeframe)
	if a.current == nil || !start.Equal(a.current.Time) {
		closed := a.current
		a.current = &Bar{
			Time:   start,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
		return closed
	}
	if b.High > a.current.High {
		a.current.High = b.High
	}
	if b.Low < a.current.Low {
		a.current.Low = b.Low
	}
	a.current.Close = b.Close
	a.current.Volume += b.Volume
	return nil
}

// OnPrice 以单个价格更新（例如报价中间价），用于由报价生成 K 线。
func (a *BarAggregator) OnPrice(price, qty float64, ts Tick) *Bar {
	return a.Add(Bar{Time: ts.Time, Open: price, High: price, Low: price, Close: price, Volume: qty})
}

// Flush 返回尚未闭合的 K 线并清空状态。
func (a *BarAggregator) Flush() *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.current
	a.current = nil
	return b
}

// Resample 将序列重采样到更粗的周期。
func Resample(src *Series, tf timeframe.Timeframe) (*Series, error) {
	if tf.Duration() < src.Key.Timeframe.Duration() {
		return nil, fmt.Errorf("resample %s to %s: target must not be finer than source", src.Key, tf)
	}
	agg, err := NewBarAggregator(tf)
	if err != nil {
		return nil, err
	}
	out := make([]Bar, 0, src.Len()/2+1)
	for _, b := range src.Bars() {
		if closed := agg.Add(b); closed != nil {
			out = append(out, *closed)
		}
	}
	if last := agg.Flush(); last != nil {
		out = append(out, *last)
	}
	return NewSeries(Key{Symbol: src.Key.Symbol, Timeframe: tf}, out)
}

// TicksToBars 以 bid 价由报价序列生成 K 线，成交量为报价笔数。
func TicksToBars(ts *TickSeries, tf timeframe.Timeframe) (*Series, error) {
	agg, err := NewBarAggregator(tf)
	if err != nil {
		return nil, err
	}
	var out []Bar
	for i := 0; i < ts.Len(); i++ {
		t := ts.At(i)
		if closed := agg.OnPrice(t.Bid, 1, t); closed != nil {
			out = append(out, *closed)
		}
	}
	if last := agg.Flush(); last != nil {
		out = append(out, *last)
	}
	return NewSeries(Key{Symbol: ts.Symbol, Timeframe: tf}, out)
}
