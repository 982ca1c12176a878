package account

import (
	"fmt"
	"strings"
	"time"
)

// RateProvider 提供历史汇率，返回 1 单位 from 折合多少 to。
type RateProvider interface {
	Rate(from, to string, at time.Time) (float64, error)
}

// StaticRates 是固定汇率表，键为 "EURUSD" 形式（from+to）。反向汇率自动取倒数。
type StaticRates map[string]float64

func (r StaticRates) Rate(from, to string, _ time.Time) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1, nil
	}
	if v, ok := r[from+to]; ok && v > 0 {
		return v, nil
	}
	if v, ok := r[to+from]; ok && v > 0 {
		return 1 / v, nil
	}
	return 0, fmt.Errorf("%s -> %s: %w", from, to, ErrNoRate)
}
