package backtest

import (
	"fmt"
	"time"

	"masts-go/market"
	"masts-go/timeframe"
)

// cursor 是一个 K 线序列的游标。cur 为 NotFound 表示已耗尽（或尚未开始）。
type cursor struct {
	series *market.Series
	cur    int
	prev   int
	next   int // 下一步将推进到的下标（仅锚序列使用）
}

func (c *cursor) key() market.Key { return c.series.Key }

type tickCursor struct {
	series *market.TickSeries
	cur    int
	prev   int
	next   int
}

// Step 描述时钟的一次推进。
type Step struct {
	Time time.Time
	// Anchors 是本步推进的锚序列（K 线驱动模式），按注册顺序。
	Anchors []market.Key
	// Symbol/Tick 是本步推进的报价（tick 驱动模式）。
	Symbol string
	Tick   market.Tick
	// Reindexed 是本步游标前移的辅助序列。
	Reindexed []market.Key
}

// Clock 在全部订阅序列上按时间先后推进虚拟时间，保证虚拟时间单调不减。
// K 线驱动模式下锚序列同步推进；tick 驱动模式下每步只推进最早的一个品种。
type Clock struct {
	mode       Mode
	start, end time.Time
	now        time.Time

	anchors []*cursor
	ticks   []*tickCursor
	aux     []*cursor
	byKey   map[market.Key]*cursor
	started bool
}

// NewBarClock 创建 K 线驱动时钟。锚序列只取 [CleanBoundary(start), end) 内开盘的 K 线。
func NewBarClock(start, end time.Time, anchors []*market.Series, aux []*market.Series) (*Clock, error) {
	if len(anchors) == 0 {
		return nil, fmt.Errorf("bar clock: %w: no anchor series", ErrInvalidConfig)
	}
	c := newClock(ModeBar, start, end)
	seen := make(map[string]market.Key)
	for _, s := range anchors {
		if other, dup := seen[s.Key.Symbol]; dup {
			return nil, fmt.Errorf("bar clock: %w: %s and %s anchor the same symbol", ErrInvalidConfig, other, s.Key)
		}
		seen[s.Key.Symbol] = s.Key
		first, err := timeframe.CleanBoundary(start, s.Key.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("bar clock %s: %w", s.Key, err)
		}
		cur := &cursor{series: s, cur: market.NotFound, prev: market.NotFound, next: c.inBar(s, s.IndexOfFirstGE(first))}
		c.anchors = append(c.anchors, cur)
		c.byKey[s.Key] = cur
	}
	c.addAux(aux)
	return c, nil
}

// NewTickClock 创建 tick 驱动时钟。报价只取 [start, end] 内的部分；ties 按订阅顺序。
func NewTickClock(start, end time.Time, ticks []*market.TickSeries, aux []*market.Series) (*Clock, error) {
	if len(ticks) == 0 {
		return nil, fmt.Errorf("tick clock: %w: no tick series", ErrInvalidConfig)
	}
	c := newClock(ModeTick, start, end)
	for _, s := range ticks {
		c.ticks = append(c.ticks, &tickCursor{series: s, cur: market.NotFound, prev: market.NotFound, next: c.inTick(s, s.IndexOfFirstGE(start))})
	}
	c.addAux(aux)
	return c, nil
}

func newClock(mode Mode, start, end time.Time) *Clock {
	return &Clock{mode: mode, start: start, end: end, now: start, byKey: make(map[market.Key]*cursor)}
}

func (c *Clock) addAux(aux []*market.Series) {
	for _, s := range aux {
		if _, dup := c.byKey[s.Key]; dup {
			continue
		}
		// 初始位置：包含 start 的那根 K 线
		i := s.LastIndexAtOrBefore(c.start)
		cur := &cursor{series: s, cur: i, prev: i, next: market.NotFound}
		c.aux = append(c.aux, cur)
		c.byKey[s.Key] = cur
	}
}

func (c *Clock) inBar(s *market.Series, i int) int {
	if i == market.NotFound || i >= s.Len() || !s.At(i).Time.Before(c.end) {
		return market.NotFound
	}
	return i
}

func (c *Clock) inTick(s *market.TickSeries, i int) int {
	if i == market.NotFound || i >= s.Len() || s.At(i).Time.After(c.end) {
		return market.NotFound
	}
	return i
}

func (c *Clock) Mode() Mode { return c.mode }

// Now 返回当前虚拟时间。
func (c *Clock) Now() time.Time { return c.now }

// Index 返回序列的当前/上一个下标。
func (c *Clock) Index(key market.Key) (cur, prev int, ok bool) {
	cr, ok := c.byKey[key]
	if !ok {
		return market.NotFound, market.NotFound, false
	}
	return cr.cur, cr.prev, true
}

// Bar 返回序列当前下标处的 K 线。
func (c *Clock) Bar(key market.Key) (market.Bar, bool) {
	cr, ok := c.byKey[key]
	if !ok || cr.cur == market.NotFound {
		return market.Bar{}, false
	}
	return cr.series.At(cr.cur), true
}

// Completed 返回当前下标前一根（已收盘的）K 线。
func (c *Clock) Completed(key market.Key) (market.Bar, bool) {
	cr, ok := c.byKey[key]
	if !ok || cr.cur == market.NotFound || cr.cur == 0 {
		return market.Bar{}, false
	}
	return cr.series.At(cr.cur - 1), true
}

// Anchor 返回 symbol 的锚序列。
func (c *Clock) Anchor(symbol string) (market.Key, bool) {
	for _, a := range c.anchors {
		if a.key().Symbol == symbol {
			return a.key(), true
		}
	}
	return market.Key{}, false
}

// Exhausted 判断全部驱动序列是否都已耗尽。
func (c *Clock) Exhausted() bool {
	for _, a := range c.anchors {
		if a.next != market.NotFound {
			return false
		}
	}
	for _, t := range c.ticks {
		if t.next != market.NotFound {
			return false
		}
	}
	return true
}

// Next 推进一步；全部耗尽时返回 false。
func (c *Clock) Next() (Step, bool, error) {
	if c.mode == ModeTick {
		return c.nextTick()
	}
	return c.nextBar()
}

func (c *Clock) nextBar() (Step, bool, error) {
	var (
		earliest time.Time
		found    bool
	)
	for _, a := range c.anchors {
		if a.next == market.NotFound {
			continue
		}
		t := a.series.At(a.next).Time
		if !found || t.Before(earliest) {
			earliest, found = t, true
		}
	}
	if !found {
		c.exhaustAnchors()
		return Step{}, false, nil
	}
	if c.started && earliest.Before(c.now) {
		return Step{}, false, fmt.Errorf("bar clock: %s before %s: %w", earliest, c.now, timeframe.ErrCausality)
	}

	step := Step{Time: earliest}
	for _, a := range c.anchors {
		if a.next == market.NotFound || !a.series.At(a.next).Time.Equal(earliest) {
			continue
		}
		prevTime := earliest
		if a.cur != market.NotFound {
			prevTime = a.series.At(a.cur).Time
			a.prev = a.cur
		} else {
			a.prev = a.next
		}
		a.cur = a.next
		a.next = c.inBar(a.series, a.cur+1)
		step.Anchors = append(step.Anchors, a.key())

		moved, err := c.reindex(a.key().Symbol, prevTime, earliest)
		if err != nil {
			return Step{}, false, err
		}
		step.Reindexed = append(step.Reindexed, moved...)
	}
	c.now = earliest
	c.started = true
	return step, true, nil
}

// 锚序列取完后将游标标记为耗尽。
func (c *Clock) exhaustAnchors() {
	for _, a := range c.anchors {
		a.cur = market.NotFound
	}
}

func (c *Clock) nextTick() (Step, bool, error) {
	var pick *tickCursor
	for _, t := range c.ticks {
		if t.next == market.NotFound {
			continue
		}
		// 严格小于：相同时间戳保留先订阅的品种
		if pick == nil || t.series.At(t.next).Time.Before(pick.series.At(pick.next).Time) {
			pick = t
		}
	}
	if pick == nil {
		for _, t := range c.ticks {
			t.cur = market.NotFound
		}
		return Step{}, false, nil
	}
	tick := pick.series.At(pick.next)
	if c.started && tick.Time.Before(c.now) {
		return Step{}, false, fmt.Errorf("tick clock %s: %s before %s: %w", pick.series.Symbol, tick.Time, c.now, timeframe.ErrCausality)
	}
	prevTime := tick.Time
	if pick.cur != market.NotFound {
		prevTime = pick.series.At(pick.cur).Time
		pick.prev = pick.cur
	} else {
		pick.prev = pick.next
	}
	pick.cur = pick.next
	pick.next = c.inTick(pick.series, pick.cur+1)

	moved, err := c.reindex(pick.series.Symbol, prevTime, tick.Time)
	if err != nil {
		return Step{}, false, err
	}
	c.now = tick.Time
	c.started = true
	return Step{Time: tick.Time, Symbol: pick.series.Symbol, Tick: tick, Reindexed: moved}, true, nil
}

// reindex 在 prev->curr 跨过辅助序列的周期边界时，把游标移到 CleanBoundary(curr)
// 处的最后一根 K 线。游标只前进不后退；边界处没有 K 线时保持不动。
func (c *Clock) reindex(symbol string, prev, curr time.Time) ([]market.Key, error) {
	var moved []market.Key
	for _, x := range c.aux {
		if x.key().Symbol != symbol {
			continue
		}
		tf := x.key().Timeframe
		closed, err := timeframe.HasClosed(prev, curr, tf)
		if err != nil {
			return nil, fmt.Errorf("reindex %s: %w", x.key(), err)
		}
		if !closed {
			continue
		}
		boundary, err := timeframe.CleanBoundary(curr, tf)
		if err != nil {
			return nil, fmt.Errorf("reindex %s: %w", x.key(), err)
		}
		i := x.series.LastIndexAt(boundary)
		if i == market.NotFound || i <= x.cur {
			continue
		}
		x.prev, x.cur = x.cur, i
		moved = append(moved, x.key())
	}
	return moved, nil
}
