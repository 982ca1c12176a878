package backtest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masts-go/market"
	"masts-go/timeframe"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

var (
	eurH1 = market.Key{Symbol: "EURUSD", Timeframe: timeframe.H1}
	eurH4 = market.Key{Symbol: "EURUSD", Timeframe: timeframe.H4}
	gbpH4 = market.Key{Symbol: "GBPUSD", Timeframe: timeframe.H4}
)

func seriesAt(t *testing.T, key market.Key, times ...time.Time) *market.Series {
	t.Helper()
	bars := make([]market.Bar, len(times))
	for i, ts := range times {
		bars[i] = market.Bar{Time: ts, Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1}
	}
	s, err := market.NewSeries(key, bars)
	require.NoError(t, err)
	return s
}

func hours(from, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(from+i) * time.Hour)
	}
	return out
}

func drain(t *testing.T, c *Clock) []Step {
	t.Helper()
	var steps []Step
	for {
		s, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			return steps
		}
		steps = append(steps, s)
	}
}

func TestBarClockAdvancesAnchorsInLockstep(t *testing.T) {
	e := seriesAt(t, eurH1, hours(0, 8)...)
	g := seriesAt(t, gbpH4, hours(0, 1)[0], hours(4, 1)[0])
	c, err := NewBarClock(t0, t0.Add(8*time.Hour), []*market.Series{e, g}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeBar, c.Mode())

	steps := drain(t, c)
	require.Len(t, steps, 8)
	for i, s := range steps {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), s.Time)
		if i == 0 || i == 4 {
			assert.Equal(t, []market.Key{eurH1, gbpH4}, s.Anchors, "step %d", i)
		} else {
			assert.Equal(t, []market.Key{eurH1}, s.Anchors, "step %d", i)
		}
	}
	assert.True(t, c.Exhausted())
}

func TestBarClockStopsAtRunEnd(t *testing.T) {
	e := seriesAt(t, eurH1, hours(0, 8)...)
	c, err := NewBarClock(t0, t0.Add(4*time.Hour), []*market.Series{e}, nil)
	require.NoError(t, err)
	steps := drain(t, c)
	require.Len(t, steps, 4)
	assert.Equal(t, t0.Add(3*time.Hour), steps[3].Time)
}

func TestBarClockStartsOnCleanBoundary(t *testing.T) {
	e := seriesAt(t, eurH1, hours(0, 3)...)
	c, err := NewBarClock(t0.Add(30*time.Minute), t0.Add(3*time.Hour), []*market.Series{e}, nil)
	require.NoError(t, err)
	s, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, s.Time)
	_, hasCompleted := c.Completed(eurH1)
	assert.False(t, hasCompleted)
}

func TestBarClockRejectsTwoAnchorsPerSymbol(t *testing.T) {
	e1 := seriesAt(t, eurH1, hours(0, 2)...)
	e4 := seriesAt(t, eurH4, hours(0, 1)...)
	_, err := NewBarClock(t0, t0.Add(2*time.Hour), []*market.Series{e1, e4}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewBarClock(t0, t0.Add(2*time.Hour), nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestBarClockReindexesAuxiliarySeries(t *testing.T) {
	e := seriesAt(t, eurH1, hours(0, 8)...)
	aux := seriesAt(t, eurH4, t0, t0.Add(4*time.Hour))
	c, err := NewBarClock(t0, t0.Add(8*time.Hour), []*market.Series{e}, []*market.Series{aux})
	require.NoError(t, err)

	cur, _, ok := c.Index(eurH4)
	require.True(t, ok)
	assert.Equal(t, 0, cur)

	for i := 0; i < 8; i++ {
		s, ok, err := c.Next()
		require.NoError(t, err)
		require.True(t, ok)
		if i == 4 {
			assert.Equal(t, []market.Key{eurH4}, s.Reindexed)
			done, ok := c.Completed(eurH4)
			require.True(t, ok)
			assert.Equal(t, t0, done.Time)
		} else {
			assert.Empty(t, s.Reindexed, "step %d", i)
		}
	}
	cur, prev, _ := c.Index(eurH4)
	assert.Equal(t, 1, cur)
	assert.Equal(t, 0, prev)
}

func TestBarClockAuxiliaryNeverMovesBackward(t *testing.T) {
	e := seriesAt(t, eurH1, hours(0, 10)...)
	// 缺少 04:00 的 H4 K 线
	aux := seriesAt(t, eurH4, t0, t0.Add(8*time.Hour))
	c, err := NewBarClock(t0, t0.Add(10*time.Hour), []*market.Series{e}, []*market.Series{aux})
	require.NoError(t, err)

	var moves []time.Time
	last := 0
	for _, s := range drain(t, c) {
		if len(s.Reindexed) > 0 {
			moves = append(moves, s.Time)
		}
		cur, _, _ := c.Index(eurH4)
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}
	assert.Equal(t, []time.Time{t0.Add(8 * time.Hour)}, moves)
	assert.Equal(t, 1, last)
}

func TestTickClockPicksEarliestWithSubscriptionOrderOnTies(t *testing.T) {
	mk := func(symbol string, secs ...int) *market.TickSeries {
		ticks := make([]market.Tick, len(secs))
		for i, s := range secs {
			ticks[i] = market.Tick{Time: t0.Add(time.Duration(s) * time.Second), Bid: 1.1, Ask: 1.1002}
		}
		ts, err := market.NewTickSeries(symbol, ticks)
		require.NoError(t, err)
		return ts
	}
	eur := mk("EURUSD", 0, 2, 3)
	gbp := mk("GBPUSD", 0, 1, 3)
	c, err := NewTickClock(t0, t0.Add(3*time.Second), []*market.TickSeries{eur, gbp}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeTick, c.Mode())

	type visit struct {
		symbol string
		sec    int
	}
	var got []visit
	for _, s := range drain(t, c) {
		got = append(got, visit{s.Symbol, int(s.Time.Sub(t0) / time.Second)})
	}
	assert.Equal(t, []visit{
		{"EURUSD", 0}, {"GBPUSD", 0}, {"GBPUSD", 1}, {"EURUSD", 2}, {"EURUSD", 3}, {"GBPUSD", 3},
	}, got)
	assert.Equal(t, t0.Add(3*time.Second), c.Now())
}
