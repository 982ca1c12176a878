package order

import "time"

// Request 是策略发起的下单请求。Price 为 0 的市价单由执行引擎定价。
type Request struct {
	Symbol     string
	Kind       Kind
	Lots       float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	Comment    string
	Expiration time.Time
}

// Order 构造待登记的订单记录（单号与状态由 Ledger 分配）。
func (r Request) Order(createdAt time.Time) Order {
	return Order{
		Symbol:     r.Symbol,
		Kind:       r.Kind,
		Lots:       r.Lots,
		Price:      r.Price,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		Magic:      r.Magic,
		Comment:    r.Comment,
		Expiration: r.Expiration,
		CreatedAt:  createdAt,
	}
}

// Modification 是改单参数。OPEN 订单只使用 StopLoss/TakeProfit/Expiration。
type Modification struct {
	Lots       float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Expiration time.Time
}
