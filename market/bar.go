package market

import (
	"fmt"
	"strings"
	"time"

	"masts-go/timeframe"
)

// NotFound 表示游标已耗尽或查找失败，与任何合法下标都不同。
const NotFound = -1

// Bar represents one OHLCV bar. Time is the bar's open instant.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Tick represents one bid/ask quote.
type Tick struct {
	Time time.Time
	Bid  float64
	Ask  float64
}

// Key identifies a bar series by symbol and timeframe.
type Key struct {
	Symbol    string
	Timeframe timeframe.Timeframe
}

func (k Key) String() string {
	return k.Symbol + "_" + string(k.Timeframe)
}

// ParseKey 解析 "EURUSD_H4" 形式的 key。
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" {
		return Key{}, fmt.Errorf("invalid series key %q: want <symbol>_<timeframe>", s)
	}
	tf, err := timeframe.Parse(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("series key %q: %w", s, err)
	}
	return Key{Symbol: parts[0], Timeframe: tf}, nil
}

// End 返回该 K 线在 tf 下的收盘时刻。
func (b Bar) End(tf timeframe.Timeframe) time.Time {
	return b.Time.Add(tf.Duration())
}
