package market

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// parquetBar 是 parquet 文件中的一行 K 线，时间为毫秒时间戳。
type parquetBar struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

// parquetTick 是 parquet 文件中的一行报价。
type parquetTick struct {
	Timestamp int64   `parquet:"t"`
	Bid       float64 `parquet:"b"`
	Ask       float64 `parquet:"a"`
}

// ParquetLoader 读取 SYMBOL-TF.parquet / SYMBOL_TICK.parquet。
type ParquetLoader struct {
	Dir string
}

// NewParquetLoader 检查目录存在。
func NewParquetLoader(dir string) (*ParquetLoader, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoDataDir)
	}
	return &ParquetLoader{Dir: dir}, nil
}

func (l *ParquetLoader) LoadSeries(ctx context.Context, key Key) (*Series, error) {
	path, err := FindFile(l.Dir, key.Symbol+"-"+string(key.Timeframe), ".parquet")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[parquetBar](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	bars := make([]Bar, len(rows))
	for i, r := range rows {
		bars[i] = Bar{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return NewSeries(key, bars)
}

func (l *ParquetLoader) LoadTicks(ctx context.Context, symbol string) (*TickSeries, error) {
	path, err := FindFile(l.Dir, fmt.Sprintf(TickFilePattern, symbol), ".parquet")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[parquetTick](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ticks := make([]Tick, len(rows))
	for i, r := range rows {
		ticks[i] = Tick{Time: time.UnixMilli(r.Timestamp).UTC(), Bid: r.Bid, Ask: r.Ask}
	}
	return NewTickSeries(symbol, ticks)
}

// WriteParquet 将 K 线写成 parquet 文件，格式与 ParquetLoader 一致。
func WriteParquet(path string, bars []Bar) error {
	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar{
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(path, rows)
}
