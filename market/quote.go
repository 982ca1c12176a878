package market

import (
	"sync"
	"time"
)

// Quote 保存某个品种最新的 bid/ask。
type Quote struct {
	Bid  float64
	Ask  float64
	Time time.Time
}

// Mid 返回中间价。
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Spread 返回 ask-bid。
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// QuoteBoard 维护每个品种的最新报价，时间来自回放时钟而非墙钟。
type QuoteBoard struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteBoard() *QuoteBoard {
	return &QuoteBoard{quotes: make(map[string]Quote)}
}

// Update 覆盖写入；非正价格保留上一个值。
func (b *QuoteBoard) Update(symbol string, bid, ask float64, ts time.Time) Quote {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.quotes[symbol]
	if bid > 0 {
		q.Bid = bid
	}
	if ask > 0 {
		q.Ask = ask
	}
	q.Time = ts
	b.quotes[symbol] = q
	return q
}

// Get 返回最新报价；没有报价时 ok=false。
func (b *QuoteBoard) Get(symbol string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	if !ok || q.Bid <= 0 || q.Ask <= 0 {
		return Quote{}, false
	}
	return q, true
}

// Staleness 返回报价距 now 的时长；无报价时返回 -1。
func (b *QuoteBoard) Staleness(symbol string, now time.Time) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return -1
	}
	return now.Sub(q.Time)
}
