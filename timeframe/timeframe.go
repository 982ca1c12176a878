package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// Timeframe 是 K 线周期代码（M1/M5/.../D1）。
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

var (
	// ErrUnknownTimeframe 表示未支持的周期代码，属于配置错误。
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	// ErrCausality 表示当前时间早于上一时间。
	ErrCausality = errors.New("causality violation")
	// ErrMissingTime 表示时间戳缺失。
	ErrMissingTime = errors.New("missing timestamp")
)

var durations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// All returns the supported timeframes from finest to coarsest.
func All() []Timeframe {
	return []Timeframe{M1, M5, M15, M30, H1, H4, D1}
}

// Parse validates a timeframe code.
func Parse(code string) (Timeframe, error) {
	tf := Timeframe(code)
	if _, ok := durations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, code)
	}
	return tf, nil
}

// Delta 返回周期代码对应的时长。
func Delta(code string) (time.Duration, error) {
	tf, err := Parse(code)
	if err != nil {
		return 0, err
	}
	return durations[tf], nil
}

// Duration 返回周期时长；未知周期返回 0。
func (tf Timeframe) Duration() time.Duration {
	return durations[tf]
}

// Valid reports whether tf is a supported code.
func (tf Timeframe) Valid() bool {
	_, ok := durations[tf]
	return ok
}

func (tf Timeframe) String() string { return string(tf) }

// Minutes 返回周期包含的分钟数。
func (tf Timeframe) Minutes() int {
	return int(durations[tf] / time.Minute)
}

// HasClosed 判断 prev 到 curr 之间是否跨过了 tf 的一根 K 线边界。
// 边界按日历对齐，而不只是按经过的时长。
func HasClosed(prev, curr time.Time, tf Timeframe) (bool, error) {
	if prev.IsZero() || curr.IsZero() {
		return false, fmt.Errorf("%w: prev=%v curr=%v timeframe=%s", ErrMissingTime, prev, curr, tf)
	}
	if curr.Before(prev) {
		return false, fmt.Errorf("%w: current %s is earlier than previous %s (timeframe %s)",
			ErrCausality, curr.Format(time.RFC3339), prev.Format(time.RFC3339), tf)
	}
	d, ok := durations[tf]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTimeframe, string(tf))
	}
	if curr.Sub(prev) >= d {
		return true, nil
	}

	switch tf {
	case D1:
		py, pm, pd := prev.Date()
		cy, cm, cd := curr.Date()
		return py != cy || pm != cm || pd != cd, nil
	case H4:
		return curr.Hour() != prev.Hour() && curr.Hour()%4 == 0, nil
	case H1:
		return curr.Hour() != prev.Hour(), nil
	case M30, M15, M5:
		n := tf.Minutes()
		return curr.Minute() != prev.Minute() && curr.Minute()%n == 0, nil
	case M1:
		return curr.Minute() != prev.Minute(), nil
	}
	return false, nil
}

// CleanBoundary 将 t 向下取整到所在 K 线的起始时间。
func CleanBoundary(t time.Time, tf Timeframe) (time.Time, error) {
	if !tf.Valid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, string(tf))
	}
	y, m, d := t.Date()
	switch tf {
	case D1:
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
	case H4, H1:
		h := t.Hour()
		h -= h % int(tf.Duration()/time.Hour)
		return time.Date(y, m, d, h, 0, 0, 0, t.Location()), nil
	default:
		min := t.Minute()
		min -= min % tf.Minutes()
		return time.Date(y, m, d, t.Hour(), min, 0, 0, t.Location()), nil
	}
}

// MustClean 是 CleanBoundary 的便捷版本，仅用于已校验过的周期。
func MustClean(t time.Time, tf Timeframe) time.Time {
	c, err := CleanBoundary(t, tf)
	if err != nil {
		panic(err)
	}
	return c
}
