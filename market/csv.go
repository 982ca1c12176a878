package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// 支持的日期时间格式（MT4 导出、ISO 以及紧凑格式）。
var dateTimeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"20060102 15:04:05",
	"20060102 15:04",
	time.RFC3339,
}

// TickFilePattern 是报价文件名中用于匹配的片段，%s 为品种。
const TickFilePattern = "%s_TICK"

// CSVLoader 从数据目录中按文件名查找 CSV：
// K 线文件名包含 SYMBOL-TF，报价文件名包含 SYMBOL_TICK。
type CSVLoader struct {
	Dir      string
	Location *time.Location
}

// NewCSVLoader 检查目录存在。
func NewCSVLoader(dir string) (*CSVLoader, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoDataDir)
	}
	return &CSVLoader{Dir: dir, Location: time.UTC}, nil
}

func (l *CSVLoader) LoadSeries(ctx context.Context, key Key) (*Series, error) {
	path, err := FindFile(l.Dir, key.Symbol+"-"+string(key.Timeframe), ".csv", ".txt")
	if err != nil {
		return nil, err
	}
	bars, err := l.readBars(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewSeries(key, bars)
}

func (l *CSVLoader) LoadTicks(ctx context.Context, symbol string) (*TickSeries, error) {
	path, err := FindFile(l.Dir, fmt.Sprintf(TickFilePattern, symbol), ".csv", ".txt")
	if err != nil {
		return nil, err
	}
	ticks, err := l.readTicks(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewTickSeries(symbol, ticks)
}

func (l *CSVLoader) readBars(ctx context.Context, path string) ([]Bar, error) {
	rows, cols, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(rows))
	for i, rec := range rows {
		if i%10000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ts, err := l.rowTime(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		var b Bar
		b.Time = ts
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}} {
			if *f.dst, err = field(rec, cols, f.name); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+2, err)
			}
		}
		if _, ok := cols["volume"]; ok {
			if b.Volume, err = field(rec, cols, "volume"); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+2, err)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (l *CSVLoader) readTicks(ctx context.Context, path string) ([]Tick, error) {
	rows, cols, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	ticks := make([]Tick, 0, len(rows))
	for i, rec := range rows {
		if i%10000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ts, err := l.rowTime(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		bid, err := field(rec, cols, "bid")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		ask, err := field(rec, cols, "ask")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		ticks = append(ticks, Tick{Time: ts, Bid: bid, Ask: ask})
	}
	return ticks, nil
}

// rowTime 支持单列 DateTime 或 Date + Time 两列。
func (l *CSVLoader) rowTime(rec []string, cols map[string]int) (time.Time, error) {
	var raw string
	if i, ok := cols["datetime"]; ok {
		raw = rec[i]
	} else {
		di, okD := cols["date"]
		ti, okT := cols["time"]
		if !okD || !okT {
			return time.Time{}, errors.New("missing DateTime or Date/Time columns")
		}
		raw = rec[di] + " " + rec[ti]
	}
	return ParseDateTime(strings.TrimSpace(raw), l.Location)
}

// ParseDateTime 依次尝试支持的格式。小数秒在解析时自动接受。
func ParseDateTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", raw)
}

func readCSV(path string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("empty file: %w", ErrMissingData)
		}
		return nil, nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "<>"))
		cols[name] = i
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return rows, cols, nil
}

func field(rec []string, cols map[string]int, name string) (float64, error) {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return 0, fmt.Errorf("missing column %s", name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

// FindFile 在 dir 下递归查找文件名包含 pattern 的第一个文件（按字典序）。
// pattern 之后紧跟数字的文件不算匹配，避免 M1 误中 M15。
func FindFile(dir, pattern string, exts ...string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || found != "" {
			return nil
		}
		name := d.Name()
		if len(exts) > 0 && !hasExt(name, exts) {
			return nil
		}
		if matchName(name, pattern) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", dir, ErrNoDataDir)
		}
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no file matching %q under %s: %w", pattern, dir, ErrMissingData)
	}
	return found, nil
}

func matchName(name, pattern string) bool {
	for off := 0; ; {
		i := strings.Index(name[off:], pattern)
		if i < 0 {
			return false
		}
		end := off + i + len(pattern)
		if end >= len(name) || !unicode.IsDigit(rune(name[end])) {
			return true
		}
		off += i + 1
	}
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// WriteCSV 以 DateTime,Open,High,Low,Close,Volume 表头写出 K 线，CSVLoader 可直接读回。
func WriteCSV(path string, bars []Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"DateTime", "Open", "High", "Low", "Close", "Volume"})
	for _, b := range bars {
		_ = w.Write([]string{
			b.Time.UTC().Format("2006.01.02 15:04:05"),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
