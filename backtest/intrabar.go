package backtest

import (
	"fmt"

	"masts-go/infrastructure/logger"
	"masts-go/market"
	"masts-go/order"
	"masts-go/timeframe"
)

// drillDown 在锚 K 线内有多个事件时，按 M1 K 线逐根回放 [bar.Time, bar.End) 窗口。
// 每根 M1 上只有一个事件时直接处理；直到已计数的事件都处理完或订单结束。
// 只细化一层：M1 上仍有多个事件时需要 tick 数据。
func (e *Engine) drillDown(o order.Order, anchor market.Key, bar market.Bar, affects int) error {
	at := bar.Time.Format(logger.VirtualTimeLayout)
	if anchor.Timeframe == timeframe.M1 {
		return e.fail(fmt.Errorf("ticket %d %s bar %s has %d events: %w", o.Ticket, anchor, at, affects, ErrTickDataRequired))
	}
	m1Key := market.Key{Symbol: anchor.Symbol, Timeframe: timeframe.M1}
	var window []market.Bar
	if m1, ok := e.store.Series(m1Key); ok {
		window = m1.Window(bar.Time, bar.End(anchor.Timeframe))
	}
	if len(window) == 0 {
		return e.fail(fmt.Errorf("ticket %d %s bar %s: no %s bars in window: %w", o.Ticket, anchor, at, m1Key, ErrNoFinerData))
	}

	e.drillDowns++
	e.rec.RecordDrillDown(anchor.Symbol)
	e.log.LogTrade("drill_down", bar.Time, map[string]interface{}{
		"ticket":  o.Ticket,
		"series":  anchor.String(),
		"affects": affects,
		"m1_bars": len(window),
	})

	remaining := affects
	for _, m := range window {
		if remaining == 0 {
			return nil
		}
		cur, err := e.orders.Get(o.Ticket)
		if err != nil {
			return e.fail(err)
		}
		if !cur.Live() {
			return nil
		}
		n := barAffects(cur, m)
		if n == 0 {
			continue
		}
		if n > 1 {
			return e.fail(fmt.Errorf("ticket %d %s bar %s has %d events: %w",
				o.Ticket, m1Key, m.Time.Format(logger.VirtualTimeLayout), n, ErrTickDataRequired))
		}
		tr, _ := barResolve(cur, m)
		if err := e.apply(cur, tr, m.Time); err != nil {
			return err
		}
		remaining--
	}
	return nil
}
