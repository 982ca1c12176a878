package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"masts-go/account"
	"masts-go/infrastructure/logger"
	"masts-go/infrastructure/monitor"
	"masts-go/market"
	"masts-go/order"
	"masts-go/strategy"
	"masts-go/timeframe"
)

// Recorder 接收运行期指标；*monitor.Monitor 实现了该接口。
type Recorder interface {
	RecordOrderCreated(symbol string)
	RecordOrderFilled(symbol string)
	RecordOrderRejected()
	RecordOrderClosed(reason string)
	RecordOrderCanceled()
	RecordDrillDown(symbol string)
	RecordBar(symbol, timeframe string)
	RecordTick(symbol string)
	UpdateAccount(balance, equity, realized float64)
	UpdateVirtualTime(t time.Time)
	ObserveRunDuration(d time.Duration)
}

// TradeSink 持久化已结束的订单；*tradelog.Writer 实现了该接口。
type TradeSink interface {
	Append(o order.Order) error
}

type nopRecorder struct{}

func (nopRecorder) RecordOrderCreated(string)               {}
func (nopRecorder) RecordOrderFilled(string)                {}
func (nopRecorder) RecordOrderRejected()                    {}
func (nopRecorder) RecordOrderClosed(string)                {}
func (nopRecorder) RecordOrderCanceled()                    {}
func (nopRecorder) RecordDrillDown(string)                  {}
func (nopRecorder) RecordBar(string, string)                {}
func (nopRecorder) RecordTick(string)                       {}
func (nopRecorder) UpdateAccount(float64, float64, float64) {}
func (nopRecorder) UpdateVirtualTime(time.Time)             {}
func (nopRecorder) ObserveRunDuration(time.Duration)        {}

// Option 配置 Engine 的可选依赖。
type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

func WithTradeSink(s TradeSink) Option {
	return func(e *Engine) { e.sink = s }
}

// Result 是一次回测的汇总。
type Result struct {
	Mode       Mode
	Start      time.Time
	End        time.Time
	Steps      int
	Orders     int
	Closed     int
	Canceled   int
	Rejected   int
	DrillDowns int
	Balance    float64
	Equity     float64
	NetPnL     float64
}

type anchorBar struct {
	key market.Key
	bar market.Bar
}

// Engine 是单线程、确定性的回测撮合引擎，同时作为策略的 Broker。
// 策略回调里调用的命令同步执行；命令中出现的致命错误会被锁存，回调返回后终止运行。
type Engine struct {
	cfg    Config
	store  *market.Store
	acct   *account.Ledger
	orders *order.Ledger
	quotes *market.QuoteBoard
	log    *logger.Logger
	rec    Recorder
	sink   TradeSink

	handler strategy.EventHandler
	clock   *Clock
	now     time.Time
	running bool
	closing bool
	done    bool
	fatal   error

	current    map[string]anchorBar
	ticks      map[string]market.Tick
	evaluated  map[int64]time.Time
	subscribed map[market.Key]bool

	realized   decimal.Decimal
	rejected   int
	drillDowns int
	steps      int
}

var _ strategy.Broker = (*Engine)(nil)

// New 创建引擎。store 的区间应与 cfg 一致；数据在 Run 开始时加载。
func New(cfg Config, store *market.Store, acct *account.Ledger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || acct == nil {
		return nil, fmt.Errorf("%w: market store and account ledger are required", ErrInvalidConfig)
	}
	e := &Engine{
		cfg:        cfg,
		store:      store,
		acct:       acct,
		orders:     order.NewLedger(),
		quotes:     market.NewQuoteBoard(),
		log:        logger.NewNop(),
		rec:        nopRecorder{},
		handler:    strategy.NopHandler{},
		now:        cfg.Start,
		current:    make(map[string]anchorBar),
		ticks:      make(map[string]market.Tick),
		evaluated:  make(map[int64]time.Time),
		subscribed: make(map[market.Key]bool),
		realized:   decimal.Zero,
	}
	for _, k := range cfg.Bars {
		e.subscribed[k] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Orders 返回订单账本（只读使用）。
func (e *Engine) Orders() *order.Ledger { return e.orders }

// Run 加载数据并回放到所有驱动序列耗尽，最后强平全部未结束订单。
func (e *Engine) Run(ctx context.Context, h strategy.EventHandler) (Result, error) {
	if e.running || e.done {
		return Result{}, errors.New("backtest: engine can only run once")
	}
	if h != nil {
		e.handler = h
	}
	wall := time.Now()
	if err := e.prepare(ctx); err != nil {
		return Result{}, err
	}
	e.running = true
	defer func() {
		e.running = false
		e.done = true
	}()
	e.log.LogTrade("run_start", e.now, map[string]interface{}{
		"mode":    string(e.cfg.Mode()),
		"end":     e.cfg.End.Format(logger.VirtualTimeLayout),
		"balance": e.acct.Balance(),
	})

	for {
		if err := ctx.Err(); err != nil {
			return e.result(), fmt.Errorf("backtest interrupted at %s: %w", e.now.Format(logger.VirtualTimeLayout), err)
		}
		step, ok, err := e.clock.Next()
		if err != nil {
			return e.result(), e.fail(err)
		}
		if !ok {
			break
		}
		if e.cfg.Mode() == ModeTick {
			err = e.advanceTick(step)
		} else {
			err = e.advanceBar(step)
		}
		if err != nil {
			return e.result(), err
		}
	}
	if err := e.finish(); err != nil {
		return e.result(), err
	}

	e.rec.ObserveRunDuration(time.Since(wall))
	res := e.result()
	e.log.LogTrade("run_end", e.now, map[string]interface{}{
		"steps":    res.Steps,
		"orders":   res.Orders,
		"closed":   res.Closed,
		"canceled": res.Canceled,
		"rejected": res.Rejected,
		"balance":  res.Balance,
		"net_pnl":  res.NetPnL,
	})
	return res, nil
}

func (e *Engine) prepare(ctx context.Context) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	for _, sym := range e.drivingSymbols() {
		if _, err := e.acct.Spec(sym); err != nil {
			return err
		}
	}
	keys := e.cfg.seriesKeys()
	if err := e.store.LoadAll(ctx, keys, e.cfg.Ticks); err != nil {
		return err
	}

	if e.cfg.Mode() == ModeTick {
		ticks := make([]*market.TickSeries, 0, len(e.cfg.Ticks))
		for _, sym := range e.cfg.Ticks {
			ts, _ := e.store.Ticks(sym)
			ticks = append(ticks, ts)
		}
		clock, err := NewTickClock(e.cfg.Start, e.cfg.End, ticks, e.auxSeries())
		if err != nil {
			return err
		}
		e.clock = clock
		return nil
	}

	// 细化用的 M1 数据是可选的，缺失时在需要细化的那一刻报 ErrNoFinerData。
	for _, k := range e.cfg.Anchors {
		if k.Timeframe == timeframe.M1 {
			continue
		}
		m1 := market.Key{Symbol: k.Symbol, Timeframe: timeframe.M1}
		if _, err := e.store.LoadSeries(ctx, m1); err != nil {
			if !errors.Is(err, market.ErrMissingData) && !errors.Is(err, market.ErrCoverage) {
				return err
			}
			e.log.Warn("intrabar data unavailable", zap.String("series", m1.String()), zap.Error(err))
		}
	}
	anchors := make([]*market.Series, 0, len(e.cfg.Anchors))
	for _, k := range e.cfg.Anchors {
		s, _ := e.store.Series(k)
		anchors = append(anchors, s)
	}
	clock, err := NewBarClock(e.cfg.Start, e.cfg.End, anchors, e.auxSeries())
	if err != nil {
		return err
	}
	e.clock = clock
	return nil
}

func (e *Engine) drivingSymbols() []string {
	if e.cfg.Mode() == ModeTick {
		return e.cfg.Ticks
	}
	out := make([]string, 0, len(e.cfg.Anchors))
	for _, k := range e.cfg.Anchors {
		out = append(out, k.Symbol)
	}
	return out
}

// 订阅的 K 线作为辅助序列随驱动序列重定位；与锚序列相同的 key 不重复。
func (e *Engine) auxSeries() []*market.Series {
	anchor := make(map[market.Key]bool)
	for _, k := range e.cfg.Anchors {
		anchor[k] = true
	}
	var out []*market.Series
	for _, k := range e.cfg.Bars {
		if anchor[k] {
			continue
		}
		if s, ok := e.store.Series(k); ok {
			out = append(out, s)
		}
	}
	return out
}

// advanceBar 处理 K 线驱动的一步：报价 -> 过期 -> OnTick -> OnBarData -> 撮合 -> 估值。
func (e *Engine) advanceBar(step Step) error {
	e.now = step.Time
	for _, key := range step.Anchors {
		bar, ok := e.clock.Bar(key)
		if !ok {
			continue
		}
		ask, err := e.withSpread(key.Symbol, bar.Open)
		if err != nil {
			return e.fail(err)
		}
		e.current[key.Symbol] = anchorBar{key: key, bar: bar}
		e.quotes.Update(key.Symbol, bar.Open, ask, bar.Time)
		e.rec.RecordBar(key.Symbol, key.Timeframe.String())
	}
	if err := e.expire(); err != nil {
		return err
	}
	for _, key := range step.Anchors {
		q, ok := e.quotes.Get(key.Symbol)
		if !ok {
			continue
		}
		e.handler.OnTick(key.Symbol, q.Bid, q.Ask)
		if err := e.checkFatal(); err != nil {
			return err
		}
	}
	for _, key := range step.Anchors {
		if b, ok := e.clock.Completed(key); ok {
			e.handler.OnBarData(key.Symbol, key.Timeframe, b)
			if err := e.checkFatal(); err != nil {
				return err
			}
		}
	}
	if err := e.deliverAux(step.Reindexed); err != nil {
		return err
	}
	for _, key := range step.Anchors {
		if err := e.evaluateSymbol(key.Symbol, e.current[key.Symbol].bar.Time); err != nil {
			return err
		}
	}
	return e.settleStep()
}

// advanceTick 处理 tick 驱动的一步：报价 -> 过期 -> 撮合 -> OnTick -> OnBarData -> 估值。
func (e *Engine) advanceTick(step Step) error {
	e.now = step.Time
	e.ticks[step.Symbol] = step.Tick
	e.quotes.Update(step.Symbol, step.Tick.Bid, step.Tick.Ask, step.Tick.Time)
	e.rec.RecordTick(step.Symbol)
	if err := e.expire(); err != nil {
		return err
	}
	if err := e.evaluateSymbol(step.Symbol, step.Tick.Time); err != nil {
		return err
	}
	e.handler.OnTick(step.Symbol, step.Tick.Bid, step.Tick.Ask)
	if err := e.checkFatal(); err != nil {
		return err
	}
	if err := e.deliverAux(step.Reindexed); err != nil {
		return err
	}
	return e.settleStep()
}

func (e *Engine) deliverAux(keys []market.Key) error {
	for _, key := range keys {
		if !e.subscribed[key] {
			continue
		}
		b, ok := e.clock.Completed(key)
		if !ok {
			continue
		}
		e.handler.OnBarData(key.Symbol, key.Timeframe, b)
		if err := e.checkFatal(); err != nil {
			return err
		}
	}
	return nil
}

// evaluateSymbol 对 symbol 的每张未结束订单在本次价格更新上撮合一次。
// 撮合过程中的回调可能新增订单，因此循环直到没有未评估的订单。
func (e *Engine) evaluateSymbol(symbol string, at time.Time) error {
	for {
		todo := e.orders.Live(func(o order.Order) bool {
			last, seen := e.evaluated[o.Ticket]
			return o.Symbol == symbol && !(seen && last.Equal(at))
		})
		if len(todo) == 0 {
			return e.checkFatal()
		}
		for _, o := range todo {
			if err := e.evaluate(o.Ticket); err != nil {
				return err
			}
		}
	}
}

// evaluate 用当前 K 线或报价撮合一张订单，并标记为本次已评估。
func (e *Engine) evaluate(ticket int64) error {
	o, err := e.orders.Get(ticket)
	if err != nil {
		return e.fail(err)
	}
	if !o.Live() {
		return nil
	}
	if e.cfg.Mode() == ModeTick {
		t, ok := e.ticks[o.Symbol]
		if !ok {
			return nil
		}
		e.evaluated[ticket] = t.Time
		tr, hit := tickResolve(o, t)
		if !hit {
			return nil
		}
		return e.apply(o, tr, t.Time)
	}
	ab, ok := e.current[o.Symbol]
	if !ok {
		return nil
	}
	e.evaluated[ticket] = ab.bar.Time
	switch n := barAffects(o, ab.bar); {
	case n == 0:
		return nil
	case n == 1:
		tr, _ := barResolve(o, ab.bar)
		return e.apply(o, tr, ab.bar.Time)
	default:
		return e.drillDown(o, ab.key, ab.bar, n)
	}
}

func (e *Engine) apply(o order.Order, tr transition, at time.Time) error {
	switch {
	case tr.fill:
		return e.fill(o, tr.price, at)
	case tr.close:
		return e.close(o, tr.price, at, tr.reason)
	}
	return nil
}

// expire 撤销所有到期的挂单。
func (e *Engine) expire() error {
	for _, o := range e.orders.Live(func(o order.Order) bool { return o.Expired(e.now) }) {
		if err := e.cancel(o, e.now, "expired"); err != nil {
			return err
		}
	}
	return nil
}

// settleStep 按当前报价估值持仓，更新账户与指标。
func (e *Engine) settleStep() error {
	if err := e.markToMarket(); err != nil {
		return err
	}
	e.steps++
	return e.checkFatal()
}

func (e *Engine) markToMarket() error {
	floating := decimal.Zero
	for _, o := range e.orders.Live(func(o order.Order) bool { return o.Status == order.StatusOpen }) {
		q, ok := e.quotes.Get(o.Symbol)
		if !ok {
			continue
		}
		f, err := e.acct.Floating(o, exitPrice(o.Kind, q), e.now)
		if err != nil {
			return e.fail(fmt.Errorf("mark ticket %d: %w", o.Ticket, err))
		}
		floating = floating.Add(decimal.NewFromFloat(f))
	}
	e.acct.MarkToMarket(floating.InexactFloat64())
	info := e.acct.Info()
	e.rec.UpdateAccount(info.Balance, info.Equity, e.realized.InexactFloat64())
	e.rec.UpdateVirtualTime(e.now)
	return nil
}

// finish 以最后一根 K 线收盘价（或最后一笔报价）强平全部未结束订单。
func (e *Engine) finish() error {
	if e.cfg.Mode() == ModeBar {
		for _, k := range e.cfg.Anchors {
			ab, ok := e.current[k.Symbol]
			if !ok {
				continue
			}
			ask, err := e.withSpread(k.Symbol, ab.bar.Close)
			if err != nil {
				return e.fail(err)
			}
			end := ab.bar.End(k.Timeframe)
			e.quotes.Update(k.Symbol, ab.bar.Close, ask, end)
			if end.After(e.now) {
				e.now = end
			}
		}
	} else if t := e.clock.Now(); t.After(e.now) {
		e.now = t
	}
	e.closing = true
	for _, o := range e.orders.Live(nil) {
		if _, err := e.closeWith(o.Ticket, 0, monitor.CloseEndOfRun); err != nil {
			return err
		}
	}
	if err := e.markToMarket(); err != nil {
		return err
	}
	return e.checkFatal()
}

func (e *Engine) withSpread(symbol string, bid float64) (float64, error) {
	spec, err := e.acct.Spec(symbol)
	if err != nil {
		return 0, err
	}
	spread := decimal.NewFromFloat(e.cfg.SpreadPips).Mul(decimal.NewFromFloat(spec.PipValue))
	return decimal.NewFromFloat(bid).Add(spread).InexactFloat64(), nil
}

// fail 锁存第一个致命错误。
func (e *Engine) fail(err error) error {
	if e.fatal == nil {
		e.fatal = err
		e.log.LogError(err, map[string]interface{}{"vt": e.now.Format(logger.VirtualTimeLayout)})
	}
	return err
}

// checkFatal 返回锁存的致命错误，或策略自身报告的错误。
func (e *Engine) checkFatal() error {
	if e.fatal != nil {
		return e.fatal
	}
	if f, ok := e.handler.(interface{ Err() error }); ok {
		if err := f.Err(); err != nil {
			return e.fail(fmt.Errorf("strategy: %w", err))
		}
	}
	return nil
}

func (e *Engine) result() Result {
	res := Result{
		Mode:       e.cfg.Mode(),
		Start:      e.cfg.Start,
		End:        e.now,
		Steps:      e.steps,
		Rejected:   e.rejected,
		DrillDowns: e.drillDowns,
		NetPnL:     e.realized.Round(2).InexactFloat64(),
	}
	for _, o := range e.orders.List() {
		res.Orders++
		switch o.Status {
		case order.StatusClosed:
			res.Closed++
		case order.StatusCanceled:
			res.Canceled++
		}
	}
	info := e.acct.Info()
	res.Balance = info.Balance
	res.Equity = info.Equity
	return res
}
