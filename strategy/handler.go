package strategy

import (
	"time"

	"masts-go/account"
	"masts-go/market"
	"masts-go/order"
	"masts-go/timeframe"
)

// MessageType 区分 OnMessage 的消息级别。
type MessageType string

const (
	MessageInfo  MessageType = "INFO"
	MessageError MessageType = "ERROR"
)

// Message 是引擎发给策略的文本通知。
type Message struct {
	Type MessageType
	Text string
}

// EventHandler 是回测引擎与实盘桥共用的回调契约。回调同步触发，返回值不被使用。
type EventHandler interface {
	OnTick(symbol string, bid, ask float64)
	OnBarData(symbol string, tf timeframe.Timeframe, bar market.Bar)
	OnHistoricData(symbol string, tf timeframe.Timeframe, bars []market.Bar)
	OnHistoricTrades(trades []order.Order)
	// OnOrderEvent 在订单新增或结束时触发，单纯改单不触发。
	OnOrderEvent()
	OnMessage(msg Message)
}

// Broker 是策略可调用的命令与查询。
//
// OpenOrder 被拒绝时返回 ticket 0 与包装了 order.ErrRejected 的错误，运行继续；
// 其他错误为致命错误，引擎会在回调返回后终止运行。
type Broker interface {
	SubscribeSymbols(symbols []string) error
	SubscribeSymbolsBarData(keys []market.Key) error
	GetHistoricData(symbol string, tf timeframe.Timeframe, start, end time.Time) error
	GetHistoricTrades(lookback time.Duration) error

	OpenOrder(req order.Request) (int64, error)
	ModifyOrder(ticket int64, m order.Modification) error
	CloseOrder(ticket int64, lots float64) (bool, error)
	CloseAllOrders() error
	CloseOrdersBySymbol(symbol string) error
	CloseOrdersByMagic(magic int64) error

	Now() time.Time
	LastBars(key market.Key, n int) []market.Bar
	Order(ticket int64) (order.Order, bool)
	OpenOrders() []order.Order
	AccountInfo() account.Info
	Quote(symbol string) (market.Quote, bool)
}

// NopHandler 忽略所有回调，可嵌入只关心部分事件的实现。
type NopHandler struct{}

func (NopHandler) OnTick(string, float64, float64)                          {}
func (NopHandler) OnBarData(string, timeframe.Timeframe, market.Bar)        {}
func (NopHandler) OnHistoricData(string, timeframe.Timeframe, []market.Bar) {}
func (NopHandler) OnHistoricTrades([]order.Order)                           {}
func (NopHandler) OnOrderEvent()                                            {}
func (NopHandler) OnMessage(Message)                                        {}
