package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 平仓原因（orders_closed_total 的 reason 标签）。
const (
	CloseStopLoss   = "stop_loss"
	CloseTakeProfit = "take_profit"
	CloseManual     = "manual"
	CloseEndOfRun   = "end_of_run"
)

// Monitor 单次回测的 Prometheus 指标。每个 run 使用独立 registry。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersCreated  *prometheus.CounterVec
	ordersFilled   *prometheus.CounterVec
	ordersRejected prometheus.Counter
	ordersClosed   *prometheus.CounterVec
	ordersCanceled prometheus.Counter

	// 执行指标
	drillDowns     *prometheus.CounterVec
	barsProcessed  *prometheus.CounterVec
	ticksProcessed *prometheus.CounterVec

	// 账户指标
	balance     prometheus.Gauge
	equity      prometheus.Gauge
	realizedPnL prometheus.Gauge
	virtualTime prometheus.Gauge

	runDuration prometheus.Histogram
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "masts",
		Subsystem: "backtest",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		ordersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_created_total",
			Help:      "分配了 ticket 的订单数",
		}, []string{"symbol"}),
		ordersFilled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_filled_total",
			Help:      "PENDING -> OPEN 次数",
		}, []string{"symbol"}),
		ordersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_rejected_total",
			Help:      "被拒绝的下单请求",
		}),
		ordersClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_closed_total",
			Help:      "平仓次数（按原因）",
		}, []string{"reason"}),
		ordersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_canceled_total",
			Help:      "撤单次数",
		}),

		drillDowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "intrabar_drilldowns_total",
			Help:      "M1 细化次数",
		}, []string{"symbol"}),
		barsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bars_processed_total",
			Help:      "推进的 K 线数",
		}, []string{"symbol", "timeframe"}),
		ticksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ticks_processed_total",
			Help:      "推进的 tick 数",
		}, []string{"symbol"}),

		balance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "balance",
			Help:      "账户余额",
		}),
		equity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "equity",
			Help:      "账户权益",
		}),
		realizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "realized_pnl",
			Help:      "已实现盈亏（含手续费）",
		}),
		virtualTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "virtual_time_seconds",
			Help:      "当前虚拟时间（unix 秒）",
		}),

		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_duration_seconds",
			Help:      "单次回测耗时（墙钟）",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
}

// 订单相关方法
func (m *Monitor) RecordOrderCreated(symbol string) {
	m.ordersCreated.WithLabelValues(symbol).Inc()
}

func (m *Monitor) RecordOrderFilled(symbol string) {
	m.ordersFilled.WithLabelValues(symbol).Inc()
}

func (m *Monitor) RecordOrderRejected() {
	m.ordersRejected.Inc()
}

func (m *Monitor) RecordOrderClosed(reason string) {
	m.ordersClosed.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// 执行相关方法
func (m *Monitor) RecordDrillDown(symbol string) {
	m.drillDowns.WithLabelValues(symbol).Inc()
}

func (m *Monitor) RecordBar(symbol, timeframe string) {
	m.barsProcessed.WithLabelValues(symbol, timeframe).Inc()
}

func (m *Monitor) RecordTick(symbol string) {
	m.ticksProcessed.WithLabelValues(symbol).Inc()
}

// 账户相关方法
func (m *Monitor) UpdateAccount(balance, equity, realized float64) {
	m.balance.Set(balance)
	m.equity.Set(equity)
	m.realizedPnL.Set(realized)
}

func (m *Monitor) UpdateVirtualTime(t time.Time) {
	m.virtualTime.Set(float64(t.Unix()))
}

func (m *Monitor) ObserveRunDuration(d time.Duration) {
	m.runDuration.Observe(d.Seconds())
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
