package tradelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"masts-go/order"
)

// Summary 是日志的快速汇总，不做任何绩效指标（夏普、回撤等由下游工具计算）。
type Summary struct {
	Closed      int
	Canceled    int
	Wins        int
	Losses      int
	GrossProfit float64
	GrossLoss   float64
	Commission  float64
	NetPnL      float64
	BySymbol    map[string]float64
}

// Symbols 返回按字母排序的品种列表。
func (s Summary) Symbols() []string {
	out := make([]string, 0, len(s.BySymbol))
	for k := range s.BySymbol {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Summarize 用 gjson 逐行扫描，只取需要的字段。
func Summarize(r io.Reader) (Summary, error) {
	var (
		gross, loss, comm, net decimal.Decimal
		bySymbol               = map[string]decimal.Decimal{}
	)
	s := Summary{BySymbol: map[string]float64{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			return s, fmt.Errorf("trade log line %d: invalid json", n)
		}
		res := gjson.GetMany(line, "status", "symbol", "pnl", "commission")
		switch res[0].String() {
		case string(order.StatusCanceled):
			s.Canceled++
			continue
		case string(order.StatusClosed):
			s.Closed++
		default:
			return s, fmt.Errorf("trade log line %d: unexpected status %q", n, res[0].String())
		}
		pnl := decimal.NewFromFloat(res[2].Float())
		switch {
		case pnl.IsPositive():
			s.Wins++
			gross = gross.Add(pnl)
		case pnl.IsNegative():
			s.Losses++
			loss = loss.Add(pnl)
		}
		comm = comm.Add(decimal.NewFromFloat(res[3].Float()))
		net = net.Add(pnl)
		sym := res[1].String()
		bySymbol[sym] = bySymbol[sym].Add(pnl)
	}
	if err := sc.Err(); err != nil {
		return s, err
	}
	s.GrossProfit = gross.Round(2).InexactFloat64()
	s.GrossLoss = loss.Round(2).InexactFloat64()
	s.Commission = comm.Round(2).InexactFloat64()
	s.NetPnL = net.Round(2).InexactFloat64()
	for k, v := range bySymbol {
		s.BySymbol[k] = v.Round(2).InexactFloat64()
	}
	return s, nil
}

// SummarizeFile 汇总一个日志文件。
func SummarizeFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Summarize(f)
}
