package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"masts-go/timeframe"
)

var (
	// ErrNoDataDir 表示数据目录不存在。
	ErrNoDataDir = errors.New("data directory does not exist")
	// ErrMissingData 表示找不到请求的数据文件/序列。
	ErrMissingData = errors.New("market data not found")
)

// Loader 从外部存储读取完整的历史序列。
type Loader interface {
	LoadSeries(ctx context.Context, key Key) (*Series, error)
	LoadTicks(ctx context.Context, symbol string) (*TickSeries, error)
}

// Store 保存本次回测加载的全部序列，每个序列只加载一次。
type Store struct {
	loader     Loader
	start, end time.Time

	mu     sync.RWMutex
	series map[Key]*Series
	ticks  map[string]*TickSeries
}

func NewStore(loader Loader, start, end time.Time) *Store {
	return &Store{
		loader: loader,
		start:  start,
		end:    end,
		series: make(map[Key]*Series),
		ticks:  make(map[string]*TickSeries),
	}
}

// Range 返回回测区间。
func (s *Store) Range() (time.Time, time.Time) { return s.start, s.end }

// LoadSeries 加载并校验覆盖范围；已加载则直接返回。
func (s *Store) LoadSeries(ctx context.Context, key Key) (*Series, error) {
	if sr, ok := s.Series(key); ok {
		return sr, nil
	}
	sr, err := s.fetchSeries(ctx, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.series[key] = sr
	s.mu.Unlock()
	return sr, nil
}

// LoadTicks 加载并校验报价序列覆盖范围。
func (s *Store) LoadTicks(ctx context.Context, symbol string) (*TickSeries, error) {
	if ts, ok := s.Ticks(symbol); ok {
		return ts, nil
	}
	ts, err := s.fetchTicks(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ticks[symbol] = ts
	s.mu.Unlock()
	return ts, nil
}

// LoadAll 并行加载启动所需的全部序列，结果按请求顺序登记。
func (s *Store) LoadAll(ctx context.Context, keys []Key, symbols []string) error {
	bars := make([]*Series, len(keys))
	ticks := make([]*TickSeries, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			sr, err := s.fetchSeries(gctx, key)
			if err != nil {
				return err
			}
			bars[i] = sr
			return nil
		})
	}
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			ts, err := s.fetchTicks(gctx, sym)
			if err != nil {
				return err
			}
			ticks[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, key := range keys {
		s.series[key] = bars[i]
	}
	for i, sym := range symbols {
		s.ticks[sym] = ticks[i]
	}
	return nil
}

// Series 返回已加载的序列。
func (s *Store) Series(key Key) (*Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[key]
	return sr, ok
}

// Ticks 返回已加载的报价序列。
func (s *Store) Ticks(symbol string) (*TickSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.ticks[symbol]
	return ts, ok
}

func (s *Store) fetchSeries(ctx context.Context, key Key) (*Series, error) {
	if !key.Timeframe.Valid() {
		return nil, fmt.Errorf("load %s: %w", key, timeframe.ErrUnknownTimeframe)
	}
	sr, err := s.loader.LoadSeries(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if err := sr.Covers(s.start, s.end); err != nil {
		return nil, err
	}
	return sr, nil
}

func (s *Store) fetchTicks(ctx context.Context, symbol string) (*TickSeries, error) {
	ts, err := s.loader.LoadTicks(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load %s ticks: %w", symbol, err)
	}
	if err := ts.Covers(s.start, s.end); err != nil {
		return nil, err
	}
	return ts, nil
}

// MemoryLoader 直接从内存返回序列，供测试与重采样使用。
type MemoryLoader struct {
	Bars  map[Key][]Bar
	Ticks map[string][]Tick
}

func (m MemoryLoader) LoadSeries(_ context.Context, key Key) (*Series, error) {
	bars, ok := m.Bars[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrMissingData)
	}
	return NewSeries(key, bars)
}

func (m MemoryLoader) LoadTicks(_ context.Context, symbol string) (*TickSeries, error) {
	ticks, ok := m.Ticks[symbol]
	if !ok {
		return nil, fmt.Errorf("%s ticks: %w", symbol, ErrMissingData)
	}
	return NewTickSeries(symbol, ticks)
}
