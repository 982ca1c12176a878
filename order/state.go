package order

import (
	"fmt"
	"strings"
	"time"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusOpen     Status = "OPEN"
	StatusClosed   Status = "CLOSED"
	StatusCanceled Status = "CANCELED"
)

// Kind 是订单类型；挂单成交后归一化为 buy/sell。
type Kind string

const (
	KindBuy       Kind = "buy"
	KindSell      Kind = "sell"
	KindBuyLimit  Kind = "buylimit"
	KindSellLimit Kind = "selllimit"
	KindBuyStop   Kind = "buystop"
	KindSellStop  Kind = "sellstop"
)

// ParseKind 解析订单类型，大小写不敏感。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown order kind %q", s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindBuyLimit, KindSellLimit, KindBuyStop, KindSellStop:
		return true
	}
	return false
}

// IsBuy 判断多头方向。
func (k Kind) IsBuy() bool {
	return k == KindBuy || k == KindBuyLimit || k == KindBuyStop
}

// IsPending 判断是否为挂单类型（limit/stop）。
func (k Kind) IsPending() bool {
	return k != KindBuy && k != KindSell
}

// IsLimit 判断是否为限价挂单。
func (k Kind) IsLimit() bool {
	return k == KindBuyLimit || k == KindSellLimit
}

// Market 返回成交后的市价方向类型。
func (k Kind) Market() Kind {
	if k.IsBuy() {
		return KindBuy
	}
	return KindSell
}

// OptPrice 是可选价格；零值表示"未设置"，与合法的 0 价格区分开。
type OptPrice struct {
	value float64
	set   bool
}

// Price 构造已设置的价格。
func Price(v float64) OptPrice { return OptPrice{value: v, set: true} }

// Get 返回价格及是否已设置。
func (p OptPrice) Get() (float64, bool) { return p.value, p.set }

// IsSet reports whether the price has been set.
func (p OptPrice) IsSet() bool { return p.set }

// Or 返回价格，未设置时返回 def。
func (p OptPrice) Or(def float64) float64 {
	if !p.set {
		return def
	}
	return p.value
}

func (p OptPrice) String() string {
	if !p.set {
		return "unset"
	}
	return fmt.Sprintf("%g", p.value)
}

// Order 是订单/交易记录，一张单从创建到结束始终保留在账本中。
type Order struct {
	Ticket     int64
	Symbol     string
	Kind       Kind
	Lots       float64
	Price      float64 // 请求价格；市价单在定价后写入
	StopLoss   float64 // 0 表示未设置
	TakeProfit float64 // 0 表示未设置
	Magic      int64
	Comment    string
	Expiration time.Time // 零值表示不过期
	Status     Status
	CreatedAt  time.Time
	OpenTime   time.Time
	OpenPrice  OptPrice
	CloseTime  time.Time
	ClosePrice OptPrice
	Commission float64
	PnL        float64
}

// Live 判断订单是否仍可能产生状态变化。
func (o Order) Live() bool {
	return o.Status == StatusPending || o.Status == StatusOpen
}

// Expired 判断挂单在 now 时是否已过期。
func (o Order) Expired(now time.Time) bool {
	return o.Status == StatusPending && !o.Expiration.IsZero() && !now.Before(o.Expiration)
}
