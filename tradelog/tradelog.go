// Package tradelog 维护回测的追加式成交日志：每个平仓/撤单一行 JSON。
package tradelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"masts-go/order"
)

// TimeLayout 是日志中开/平仓时间的固定格式。
const TimeLayout = "2006-01-02 15:04:05"

// Record 是日志中的一行。未设置的价格写为 null。
type Record struct {
	Ticket     int64    `json:"ticket"`
	Symbol     string   `json:"symbol"`
	Type       string   `json:"type"`
	Lots       float64  `json:"lots"`
	Price      float64  `json:"price"`
	SL         float64  `json:"SL"`
	TP         float64  `json:"TP"`
	Magic      int64    `json:"magic"`
	Comment    string   `json:"comment"`
	OpenTime   string   `json:"open_time"`
	CloseTime  string   `json:"close_time"`
	OpenPrice  *float64 `json:"open_price"`
	ClosePrice *float64 `json:"close_price"`
	Commission float64  `json:"commission"`
	PnL        float64  `json:"pnl"`
	Status     string   `json:"status"`
}

// FromOrder 把终态订单转换为日志行。未成交的订单 open_time 取创建时间。
func FromOrder(o order.Order) Record {
	rec := Record{
		Ticket:     o.Ticket,
		Symbol:     o.Symbol,
		Type:       string(o.Kind),
		Lots:       o.Lots,
		Price:      o.Price,
		SL:         o.StopLoss,
		TP:         o.TakeProfit,
		Magic:      o.Magic,
		Comment:    o.Comment,
		OpenTime:   formatTime(o.OpenTime),
		CloseTime:  formatTime(o.CloseTime),
		Commission: o.Commission,
		PnL:        o.PnL,
		Status:     string(o.Status),
	}
	if rec.OpenTime == "" {
		rec.OpenTime = formatTime(o.CreatedAt)
	}
	if v, ok := o.OpenPrice.Get(); ok {
		rec.OpenPrice = &v
	}
	if v, ok := o.ClosePrice.Get(); ok {
		rec.ClosePrice = &v
	}
	return rec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

// Writer 以追加方式写日志，每行一次 write 调用，不做缓冲。
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	path  string
	fsync bool
	lines int
}

// Open 以追加模式打开（或创建）日志文件。fsync 为 true 时每行写后调用 Sync。
func Open(path string, fsync bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trade log %s: %w", path, err)
	}
	return &Writer{f: f, path: path, fsync: fsync}, nil
}

// Append 写入一笔终态订单。
func (w *Writer) Append(o order.Order) error {
	if o.Status != order.StatusClosed && o.Status != order.StatusCanceled {
		return fmt.Errorf("trade log: ticket %d is %s, only terminal orders are logged", o.Ticket, o.Status)
	}
	line, err := json.Marshal(FromOrder(o))
	if err != nil {
		return fmt.Errorf("trade log: encode ticket %d: %w", o.Ticket, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("trade log %s: %w", w.path, err)
	}
	if w.fsync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("trade log %s: sync: %w", w.path, err)
		}
	}
	w.lines++
	return nil
}

// Lines 返回本次写入的行数。
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Read 逐行解析日志。空行跳过；格式错误报告行号。
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return out, fmt.Errorf("trade log line %d: %w", n, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// ReadFile 读取整个日志文件。
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
