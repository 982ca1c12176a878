package order

import (
	"fmt"
	"sync"
	"time"
)

// Ledger 记录本次运行创建过的全部订单，按单号索引，保留插入顺序。
// 单号从 1 开始单调递增，永不复用；已结束的订单不会删除。
type Ledger struct {
	mu         sync.RWMutex
	sm         *StateMachine
	orders     map[int64]*Order
	sequence   []int64
	lastTicket int64
}

func NewLedger() *Ledger {
	return &Ledger{
		sm:     NewStateMachine(),
		orders: make(map[int64]*Order),
	}
}

// Add 分配下一个单号并以 PENDING 状态登记。
func (l *Ledger) Add(o Order) Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastTicket++
	o.Ticket = l.lastTicket
	o.Status = StatusPending
	o.OpenPrice = OptPrice{}
	o.ClosePrice = OptPrice{}
	l.insert(&o)
	return o
}

// Duplicate 以新单号深拷贝一张订单。
func (l *Ledger) Duplicate(ticket int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.orders[ticket]
	if !ok {
		return 0, fmt.Errorf("duplicate ticket %d: %w", ticket, ErrUnknownTicket)
	}
	cp := *src
	l.lastTicket++
	cp.Ticket = l.lastTicket
	l.insert(&cp)
	return cp.Ticket, nil
}

func (l *Ledger) insert(o *Order) {
	l.orders[o.Ticket] = o
	l.sequence = append(l.sequence, o.Ticket)
}

// Get 返回订单拷贝。
func (l *Ledger) Get(ticket int64) (Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[ticket]
	if !ok {
		return Order{}, fmt.Errorf("ticket %d: %w", ticket, ErrUnknownTicket)
	}
	return *o, nil
}

// Len 返回账本中的订单数。
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sequence)
}

// LastTicket 返回最近分配的单号。
func (l *Ledger) LastTicket() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastTicket
}

// Fill 挂单成交：PENDING -> OPEN，类型归一化为 buy/sell。
func (l *Ledger) Fill(ticket int64, price float64, at time.Time) (Order, error) {
	return l.transition(ticket, StatusOpen, func(o *Order) {
		o.Kind = o.Kind.Market()
		o.OpenPrice = Price(price)
		o.OpenTime = at
	})
}

// Close 平仓：OPEN -> CLOSED。
func (l *Ledger) Close(ticket int64, price float64, at time.Time, commission, pnl float64) (Order, error) {
	return l.transition(ticket, StatusClosed, func(o *Order) {
		o.ClosePrice = Price(price)
		o.CloseTime = at
		o.Commission = commission
		o.PnL = pnl
	})
}

// Cancel 撤销挂单：PENDING -> CANCELED，不产生价格与盈亏。
func (l *Ledger) Cancel(ticket int64, at time.Time) (Order, error) {
	return l.transition(ticket, StatusCanceled, func(o *Order) {
		o.CloseTime = at
	})
}

// Amend 修改未结束订单的字段；终态订单返回 ErrTerminal。
func (l *Ledger) Amend(ticket int64, fn func(o *Order)) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[ticket]
	if !ok {
		return Order{}, fmt.Errorf("amend ticket %d: %w", ticket, ErrUnknownTicket)
	}
	if l.sm.IsFinalState(o.Status) {
		return Order{}, fmt.Errorf("amend ticket %d (%s %s): %w", ticket, o.Symbol, o.Status, ErrTerminal)
	}
	fn(o)
	return *o, nil
}

func (l *Ledger) transition(ticket int64, to Status, apply func(o *Order)) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[ticket]
	if !ok {
		return Order{}, fmt.Errorf("ticket %d: %w", ticket, ErrUnknownTicket)
	}
	if l.sm.IsFinalState(o.Status) {
		return Order{}, fmt.Errorf("ticket %d (%s %s -> %s): %w", ticket, o.Symbol, o.Status, to, ErrTerminal)
	}
	if err := l.sm.ValidateTransition(o.Status, to); err != nil {
		return Order{}, fmt.Errorf("ticket %d (%s): %w", ticket, o.Symbol, err)
	}
	apply(o)
	o.Status = to
	return *o, nil
}

// Live 按插入顺序返回 PENDING/OPEN 订单；match 为 nil 时返回全部。
func (l *Ledger) Live(match func(Order) bool) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Order, 0)
	for _, t := range l.sequence {
		o := l.orders[t]
		if o.Live() && (match == nil || match(*o)) {
			res = append(res, *o)
		}
	}
	return res
}

// History 按插入顺序返回 CloseTime >= since 的已结束订单。
func (l *Ledger) History(since time.Time) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Order, 0)
	for _, t := range l.sequence {
		o := l.orders[t]
		if l.sm.IsFinalState(o.Status) && !o.CloseTime.Before(since) {
			res = append(res, *o)
		}
	}
	return res
}

// List 返回全部订单（拷贝），按插入顺序。
func (l *Ledger) List() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Order, 0, len(l.sequence))
	for _, t := range l.sequence {
		res = append(res, *l.orders[t])
	}
	return res
}
