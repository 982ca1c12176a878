package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"masts-go/account"
	"masts-go/infrastructure/logger"
	"masts-go/infrastructure/monitor"
	"masts-go/market"
	"masts-go/order"
	"masts-go/strategy"
	"masts-go/timeframe"
)

var errRunning = errors.New("subscriptions are fixed once the run has started")

// SubscribeSymbols 订阅 tick 驱动的品种，只能在 Run 之前调用。
func (e *Engine) SubscribeSymbols(symbols []string) error {
	if e.running || e.done {
		return errRunning
	}
	if e.cfg.Mode() != ModeTick {
		return fmt.Errorf("%w: tick subscriptions in a bar-driven run", ErrInvalidConfig)
	}
	for _, s := range symbols {
		if !contains(e.cfg.Ticks, s) {
			e.cfg.Ticks = append(e.cfg.Ticks, s)
		}
	}
	return nil
}

// SubscribeSymbolsBarData 订阅 K 线，收盘时回调 OnBarData。只能在 Run 之前调用。
func (e *Engine) SubscribeSymbolsBarData(keys []market.Key) error {
	if e.running || e.done {
		return errRunning
	}
	for _, k := range keys {
		if !k.Timeframe.Valid() {
			return fmt.Errorf("subscribe %s: %w", k, timeframe.ErrUnknownTimeframe)
		}
		if !e.subscribed[k] {
			e.subscribed[k] = true
			e.cfg.Bars = append(e.cfg.Bars, k)
		}
	}
	return nil
}

// GetHistoricData 把 [start, end) 内到当前虚拟时间已收盘的 K 线交给 OnHistoricData。
func (e *Engine) GetHistoricData(symbol string, tf timeframe.Timeframe, start, end time.Time) error {
	key := market.Key{Symbol: symbol, Timeframe: tf}
	s, ok := e.store.Series(key)
	if !ok {
		return fmt.Errorf("historic data %s: %w", key, market.ErrMissingData)
	}
	bars := make([]market.Bar, 0)
	for _, b := range s.Window(start, end) {
		if b.End(tf).After(e.now) {
			break
		}
		bars = append(bars, b)
	}
	e.handler.OnHistoricData(symbol, tf, bars)
	return nil
}

// GetHistoricTrades 把最近 lookback 内结束的订单交给 OnHistoricTrades。
func (e *Engine) GetHistoricTrades(lookback time.Duration) error {
	if lookback < 0 {
		return fmt.Errorf("historic trades: negative lookback %s", lookback)
	}
	e.handler.OnHistoricTrades(e.orders.History(e.now.Add(-lookback)))
	return nil
}

// Now 返回当前虚拟时间。
func (e *Engine) Now() time.Time { return e.now }

// LastBars 返回 key 最近 n 根已收盘的 K 线（时间升序）。
func (e *Engine) LastBars(key market.Key, n int) []market.Bar {
	s, ok := e.store.Series(key)
	if !ok || n <= 0 {
		return nil
	}
	last := s.LastIndexAtOrBefore(e.now.Add(-key.Timeframe.Duration()))
	if last == market.NotFound {
		return nil
	}
	from := last - n + 1
	if from < 0 {
		from = 0
	}
	out := make([]market.Bar, last-from+1)
	copy(out, s.Bars()[from:last+1])
	return out
}

func (e *Engine) Order(ticket int64) (order.Order, bool) {
	o, err := e.orders.Get(ticket)
	return o, err == nil
}

// OpenOrders 返回全部 PENDING/OPEN 订单。
func (e *Engine) OpenOrders() []order.Order { return e.orders.Live(nil) }

func (e *Engine) AccountInfo() account.Info { return e.acct.Info() }

func (e *Engine) Quote(symbol string) (market.Quote, bool) { return e.quotes.Get(symbol) }

// OpenOrder 校验并登记订单。市价单按当前报价立即成交；挂单立即按当前 K 线/报价撮合一次。
// 参数不合法时返回 0 与 order.ErrRejected，运行继续。
func (e *Engine) OpenOrder(req order.Request) (int64, error) {
	if e.fatal != nil {
		return 0, e.fatal
	}
	fields := map[string]interface{}{
		"symbol": req.Symbol,
		"kind":   string(req.Kind),
		"lots":   req.Lots,
		"price":  req.Price,
		"sl":     req.StopLoss,
		"tp":     req.TakeProfit,
		"magic":  req.Magic,
	}
	if e.closing || !e.running {
		return 0, e.reject(fmt.Errorf("%w: %s %s: run is not accepting orders", order.ErrRejected, req.Symbol, req.Kind), fields)
	}
	spec, err := e.acct.Spec(req.Symbol)
	if err != nil {
		return 0, e.fail(err)
	}
	q, ok := e.quotes.Get(req.Symbol)
	if !ok {
		return 0, e.reject(fmt.Errorf("%w: %s has no quote", order.ErrRejected, req.Symbol), fields)
	}

	o := req.Order(e.now)
	if o.Kind.Valid() && !o.Kind.IsPending() {
		o.Price = marketPrice(o.Kind, q)
	}
	if err := order.Validate(o, spec.Constraints()); err != nil {
		return 0, e.reject(err, fields)
	}
	if o.Kind.IsPending() && !o.Expiration.IsZero() && !e.now.Before(o.Expiration) {
		return 0, e.reject(fmt.Errorf("%w: %s %s: expiration %s is not after %s", order.ErrRejected, o.Symbol, o.Kind,
			o.Expiration.Format(logger.VirtualTimeLayout), e.now.Format(logger.VirtualTimeLayout)), fields)
	}

	added := e.orders.Add(o)
	e.rec.RecordOrderCreated(added.Symbol)
	e.log.LogOrder("created", added.Ticket, e.now, fields)
	e.handler.OnOrderEvent()

	if !added.Kind.IsPending() {
		if err := e.fill(added, added.Price, e.now); err != nil {
			return added.Ticket, err
		}
		// K 线驱动下市价单仍需在本根 K 线上检查 SL/TP。
		if e.cfg.Mode() == ModeTick {
			e.evaluated[added.Ticket] = e.now
		}
		return added.Ticket, nil
	}
	return added.Ticket, e.attempt(added.Ticket)
}

// ModifyOrder 修改未结束订单。PENDING 修改全部参数并重新撮合；OPEN 只修改 SL/TP/过期时间，
// 并立即重新检查平仓。修改已结束的订单是致命错误。
func (e *Engine) ModifyOrder(ticket int64, m order.Modification) error {
	if e.fatal != nil {
		return e.fatal
	}
	o, err := e.orders.Get(ticket)
	if err != nil {
		return e.fail(err)
	}
	if !o.Live() {
		return e.fail(fmt.Errorf("modify ticket %d (%s %s): %w", ticket, o.Symbol, o.Status, order.ErrTerminal))
	}
	spec, err := e.acct.Spec(o.Symbol)
	if err != nil {
		return e.fail(err)
	}
	fields := map[string]interface{}{
		"symbol": o.Symbol,
		"ticket": ticket,
		"lots":   m.Lots,
		"price":  m.Price,
		"sl":     m.StopLoss,
		"tp":     m.TakeProfit,
	}

	next := o
	next.StopLoss = m.StopLoss
	next.TakeProfit = m.TakeProfit
	next.Expiration = m.Expiration
	if o.Status == order.StatusPending {
		next.Lots = m.Lots
		next.Price = m.Price
	} else if q, ok := e.quotes.Get(o.Symbol); ok {
		// 持仓的 SL/TP 相对当前平仓价校验，允许把止损移到开仓价之上。
		next.Price = exitPrice(o.Kind, q)
	} else {
		next.Price = o.OpenPrice.Or(o.Price)
	}
	if err := order.Validate(next, spec.Constraints()); err != nil {
		return e.reject(fmt.Errorf("modify ticket %d: %w", ticket, err), fields)
	}

	if _, err := e.orders.Amend(ticket, func(x *order.Order) {
		x.StopLoss = next.StopLoss
		x.TakeProfit = next.TakeProfit
		x.Expiration = next.Expiration
		if x.Status == order.StatusPending {
			x.Lots = next.Lots
			x.Price = next.Price
		}
	}); err != nil {
		return e.fail(err)
	}
	e.log.LogOrder("modified", ticket, e.now, fields)
	e.handler.OnOrderEvent()
	return e.attempt(ticket)
}

// CloseOrder 平仓或撤单。0 < lots < 持仓手数时先把剩余部分复制为新单号再平掉 lots。
// 已结束的订单返回 false。
func (e *Engine) CloseOrder(ticket int64, lots float64) (bool, error) {
	if e.fatal != nil {
		return false, e.fatal
	}
	return e.closeWith(ticket, lots, monitor.CloseManual)
}

// CloseAllOrders 按创建顺序平掉/撤销全部未结束订单。
func (e *Engine) CloseAllOrders() error {
	return e.closeMatching(nil)
}

func (e *Engine) CloseOrdersBySymbol(symbol string) error {
	return e.closeMatching(func(o order.Order) bool { return o.Symbol == symbol })
}

func (e *Engine) CloseOrdersByMagic(magic int64) error {
	return e.closeMatching(func(o order.Order) bool { return o.Magic == magic })
}

func (e *Engine) closeMatching(match func(order.Order) bool) error {
	if e.fatal != nil {
		return e.fatal
	}
	for _, o := range e.orders.Live(match) {
		if _, err := e.closeWith(o.Ticket, 0, monitor.CloseManual); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) closeWith(ticket int64, lots float64, reason string) (bool, error) {
	o, err := e.orders.Get(ticket)
	if err != nil {
		return false, e.fail(err)
	}
	switch o.Status {
	case order.StatusPending:
		return true, e.cancel(o, e.now, reason)
	case order.StatusOpen:
	default:
		return false, nil
	}
	q, ok := e.quotes.Get(o.Symbol)
	if !ok {
		return false, e.reject(fmt.Errorf("%w: close ticket %d: %s has no quote", order.ErrRejected, ticket, o.Symbol),
			map[string]interface{}{"ticket": ticket, "symbol": o.Symbol})
	}
	if lots > 0 && lots < o.Lots {
		if o, err = e.split(o, lots); err != nil {
			return false, err
		}
	}
	return true, e.close(o, exitPrice(o.Kind, q), e.now, reason)
}

// split 把 o 拆成 lots 与剩余部分，剩余部分以新单号保留原有参数。
func (e *Engine) split(o order.Order, lots float64) (order.Order, error) {
	spec, err := e.acct.Spec(o.Symbol)
	if err != nil {
		return order.Order{}, e.fail(err)
	}
	remainder := decimal.NewFromFloat(o.Lots).Sub(decimal.NewFromFloat(lots)).InexactFloat64()
	c := spec.Constraints()
	for _, v := range []float64{lots, remainder} {
		if err := c.ValidateLots(v); err != nil {
			return order.Order{}, e.reject(fmt.Errorf("%w: partial close ticket %d: %v", order.ErrRejected, o.Ticket, err),
				map[string]interface{}{"ticket": o.Ticket, "symbol": o.Symbol, "lots": lots})
		}
	}

	dup, err := e.orders.Duplicate(o.Ticket)
	if err != nil {
		return order.Order{}, e.fail(err)
	}
	if t, ok := e.evaluated[o.Ticket]; ok {
		e.evaluated[dup] = t
	}
	if _, err := e.orders.Amend(dup, func(x *order.Order) { x.Lots = remainder }); err != nil {
		return order.Order{}, e.fail(err)
	}
	closing, err := e.orders.Amend(o.Ticket, func(x *order.Order) { x.Lots = lots })
	if err != nil {
		return order.Order{}, e.fail(err)
	}
	e.log.LogOrder("split", o.Ticket, e.now, map[string]interface{}{
		"symbol":           o.Symbol,
		"lots":             lots,
		"remainder":        remainder,
		"remainder_ticket": dup,
	})
	e.handler.OnOrderEvent()
	return closing, nil
}

// attempt 清除评估标记后立即撮合一次。
func (e *Engine) attempt(ticket int64) error {
	delete(e.evaluated, ticket)
	if err := e.evaluate(ticket); err != nil {
		return err
	}
	return e.fatal
}

func (e *Engine) fill(o order.Order, price float64, at time.Time) error {
	filled, err := e.orders.Fill(o.Ticket, price, at)
	if err != nil {
		return e.fail(err)
	}
	e.rec.RecordOrderFilled(filled.Symbol)
	e.log.LogOrder("filled", filled.Ticket, at, map[string]interface{}{
		"symbol": filled.Symbol,
		"kind":   string(filled.Kind),
		"lots":   filled.Lots,
		"price":  price,
	})
	e.notify(strategy.MessageInfo, fmt.Sprintf("order %d %s %s %g filled at %g", filled.Ticket, filled.Symbol, filled.Kind, filled.Lots, price))
	e.handler.OnOrderEvent()
	return nil
}

func (e *Engine) close(o order.Order, price float64, at time.Time, reason string) error {
	st, err := e.acct.Settle(o, price, at)
	if err != nil {
		return e.fail(fmt.Errorf("settle ticket %d: %w", o.Ticket, err))
	}
	closed, err := e.orders.Close(o.Ticket, price, at, st.Commission, st.PnL)
	if err != nil {
		return e.fail(err)
	}
	e.realized = e.realized.Add(decimal.NewFromFloat(st.PnL))
	if err := e.record(closed); err != nil {
		return err
	}
	e.rec.RecordOrderClosed(reason)
	e.log.LogOrder("closed", closed.Ticket, at, map[string]interface{}{
		"symbol":     closed.Symbol,
		"lots":       closed.Lots,
		"price":      price,
		"reason":     reason,
		"commission": st.Commission,
		"pnl":        st.PnL,
		"balance":    st.Balance,
	})
	e.notify(strategy.MessageInfo, fmt.Sprintf("order %d %s closed (%s) at %g, pnl %.2f", closed.Ticket, closed.Symbol, reason, price, st.PnL))
	e.handler.OnOrderEvent()
	return nil
}

func (e *Engine) cancel(o order.Order, at time.Time, reason string) error {
	canceled, err := e.orders.Cancel(o.Ticket, at)
	if err != nil {
		return e.fail(err)
	}
	if err := e.record(canceled); err != nil {
		return err
	}
	e.rec.RecordOrderCanceled()
	e.log.LogOrder("canceled", canceled.Ticket, at, map[string]interface{}{
		"symbol": canceled.Symbol,
		"reason": reason,
	})
	e.notify(strategy.MessageInfo, fmt.Sprintf("order %d %s canceled (%s)", canceled.Ticket, canceled.Symbol, reason))
	e.handler.OnOrderEvent()
	return nil
}

// record 把结束的订单写入成交日志；写入失败是致命错误。
func (e *Engine) record(o order.Order) error {
	if e.sink == nil {
		return nil
	}
	if err := e.sink.Append(o); err != nil {
		return e.fail(fmt.Errorf("trade log ticket %d: %w", o.Ticket, err))
	}
	return nil
}

// reject 记录被拒绝的请求并通知策略，运行继续。
func (e *Engine) reject(err error, fields map[string]interface{}) error {
	e.rejected++
	e.rec.RecordOrderRejected()
	e.log.LogReject(err, e.now, fields)
	e.notify(strategy.MessageError, err.Error())
	return err
}

func (e *Engine) notify(t strategy.MessageType, text string) {
	e.handler.OnMessage(strategy.Message{Type: t, Text: text})
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
