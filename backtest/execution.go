package backtest

import (
	"math"

	"masts-go/infrastructure/monitor"
	"masts-go/market"
	"masts-go/order"
)

// transition 是一次价格更新对订单产生的结果。
type transition struct {
	fill   bool
	close  bool
	price  float64
	reason string
}

// K 线按 bid 报价。挂单触发条件：
//
//	buylimit  low  <= price    buystop  high >= price
//	selllimit high >= price    sellstop low  <= price
//
// 开盘价已越过挂单价（跳空）时按开盘价成交。
func barTriggered(o order.Order, b market.Bar) (float64, bool) {
	switch o.Kind {
	case order.KindBuyLimit:
		return math.Min(b.Open, o.Price), b.Low <= o.Price
	case order.KindBuyStop:
		return math.Max(b.Open, o.Price), b.High >= o.Price
	case order.KindSellLimit:
		return math.Max(b.Open, o.Price), b.High >= o.Price
	case order.KindSellStop:
		return math.Min(b.Open, o.Price), b.Low <= o.Price
	}
	return 0, false
}

// barStopLoss 判断持仓方向 buy 的止损是否在 b 内被触及，返回平仓价。
func barStopLoss(buy bool, sl float64, b market.Bar) (float64, bool) {
	if sl <= 0 {
		return 0, false
	}
	if buy {
		return math.Min(b.Open, sl), b.Low <= sl
	}
	return math.Max(b.Open, sl), b.High >= sl
}

func barTakeProfit(buy bool, tp float64, b market.Bar) (float64, bool) {
	if tp <= 0 {
		return 0, false
	}
	if buy {
		return math.Max(b.Open, tp), b.High >= tp
	}
	return math.Min(b.Open, tp), b.Low <= tp
}

// barAffects 统计 b 内可能改变订单状态的事件数。挂单计入触发本身以及同一根 K 线上的
// SL/TP；持仓只计 SL/TP。大于 1 时无法仅凭 OHLC 判断先后。
func barAffects(o order.Order, b market.Bar) int {
	n := 0
	switch o.Status {
	case order.StatusPending:
		if _, ok := barTriggered(o, b); !ok {
			return 0
		}
		n++
	case order.StatusOpen:
	default:
		return 0
	}
	buy := o.Kind.IsBuy()
	if _, ok := barStopLoss(buy, o.StopLoss, b); ok {
		n++
	}
	if _, ok := barTakeProfit(buy, o.TakeProfit, b); ok {
		n++
	}
	return n
}

// barResolve 处理只有一个事件的 K 线。
func barResolve(o order.Order, b market.Bar) (transition, bool) {
	switch o.Status {
	case order.StatusPending:
		if price, ok := barTriggered(o, b); ok {
			return transition{fill: true, price: price}, true
		}
	case order.StatusOpen:
		buy := o.Kind.IsBuy()
		if price, ok := barStopLoss(buy, o.StopLoss, b); ok {
			return transition{close: true, price: price, reason: monitor.CloseStopLoss}, true
		}
		if price, ok := barTakeProfit(buy, o.TakeProfit, b); ok {
			return transition{close: true, price: price, reason: monitor.CloseTakeProfit}, true
		}
	}
	return transition{}, false
}

// tickResolve 按单笔报价判断：买方向用 ask 成交、用 bid 平仓，卖方向相反。
// 每笔报价对一张订单至多产生一次状态变化。
func tickResolve(o order.Order, t market.Tick) (transition, bool) {
	switch o.Status {
	case order.StatusPending:
		var hit bool
		switch o.Kind {
		case order.KindBuyLimit:
			hit = t.Ask <= o.Price
		case order.KindBuyStop:
			hit = t.Ask >= o.Price
		case order.KindSellLimit:
			hit = t.Bid >= o.Price
		case order.KindSellStop:
			hit = t.Bid <= o.Price
		}
		if !hit {
			return transition{}, false
		}
		if o.Kind.IsBuy() {
			return transition{fill: true, price: t.Ask}, true
		}
		return transition{fill: true, price: t.Bid}, true
	case order.StatusOpen:
		if o.Kind.IsBuy() {
			if o.StopLoss > 0 && t.Bid <= o.StopLoss {
				return transition{close: true, price: t.Bid, reason: monitor.CloseStopLoss}, true
			}
			if o.TakeProfit > 0 && t.Bid >= o.TakeProfit {
				return transition{close: true, price: t.Bid, reason: monitor.CloseTakeProfit}, true
			}
			return transition{}, false
		}
		if o.StopLoss > 0 && t.Ask >= o.StopLoss {
			return transition{close: true, price: t.Ask, reason: monitor.CloseStopLoss}, true
		}
		if o.TakeProfit > 0 && t.Ask <= o.TakeProfit {
			return transition{close: true, price: t.Ask, reason: monitor.CloseTakeProfit}, true
		}
	}
	return transition{}, false
}

// marketPrice 返回市价单的成交价（买 ask，卖 bid）。
func marketPrice(kind order.Kind, q market.Quote) float64 {
	if kind.IsBuy() {
		return q.Ask
	}
	return q.Bid
}

// exitPrice 返回持仓的平仓/估值价（买 bid，卖 ask）。
func exitPrice(kind order.Kind, q market.Quote) float64 {
	if kind.IsBuy() {
		return q.Bid
	}
	return q.Ask
}
