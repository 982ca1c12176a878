package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"masts-go/account"
	"masts-go/backtest"
	"masts-go/config"
	"masts-go/infrastructure/logger"
	"masts-go/infrastructure/monitor"
	"masts-go/market"
	"masts-go/strategy"
	"masts-go/timeframe"
	"masts-go/tradelog"
)

// ErrLiveUnsupported 表示配置选择了实盘模式，当前构建只带回测引擎。
var ErrLiveUnsupported = errors.New("live mode is not supported by this build")

// Container 依赖注入容器，把一次回测需要的组件串起来。
type Container struct {
	// 配置
	cfg   *config.AppConfig
	runID string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor

	// 核心服务
	loader   market.Loader
	store    *market.Store
	account  *account.Ledger
	engine   *backtest.Engine
	runner   *strategy.Runner
	tradeLog *tradelog.Writer

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg)
}

// NewFromConfig 用已加载的配置创建 Container（watch 模式与测试使用）。
func NewFromConfig(cfg config.AppConfig) (*Container, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Mode == config.ModeLive {
		return nil, ErrLiveUnsupported
	}
	return &Container{
		cfg:       &cfg,
		runID:     uuid.NewString(),
		lifecycle: NewLifecycleManager(),
	}, nil
}

// RunID 标识本次运行，默认的交易日志文件名里也会带上它。
func (c *Container) RunID() string { return c.runID }

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildMarketData(); err != nil {
		return fmt.Errorf("build market data failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		c.closeTradeLog()
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully", zap.String("run_id", c.runID))
	return nil
}

func (c *Container) buildInfrastructure() error {
	logCfg := logger.Config{
		Level:      c.cfg.Log.Level,
		Outputs:    c.cfg.Log.Outputs,
		OutputFile: c.cfg.Log.File,
		ErrorFile:  c.cfg.Log.ErrorFile,
		Format:     c.cfg.Log.Format,
	}

	var err error
	c.logger, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"run_id": c.runID})

	c.monitor = monitor.New(monitor.DefaultConfig())

	c.logger.Debug("infrastructure built")
	return nil
}

func (c *Container) buildMarketData() error {
	var err error
	switch c.cfg.DataFormat {
	case config.FormatParquet:
		c.loader, err = market.NewParquetLoader(c.cfg.DataDir)
	default:
		c.loader, err = market.NewCSVLoader(c.cfg.DataDir)
	}
	if err != nil {
		return err
	}

	start, end, err := c.cfg.Range()
	if err != nil {
		return err
	}
	c.store = market.NewStore(c.loader, start, end)

	c.logger.Debug("market data built",
		zap.String("dir", c.cfg.DataDir),
		zap.String("format", c.cfg.DataFormat))
	return nil
}

func (c *Container) buildCoreServices() error {
	specs := make(map[string]account.SymbolSpec, len(c.cfg.Symbols))
	for sym, sc := range c.cfg.Symbols {
		specs[sym] = account.SymbolSpec{
			PipValue:      sc.PipValue,
			ContractSize:  sc.ContractSize,
			MinVolume:     sc.MinVolume,
			VolumeStep:    sc.VolumeStep,
			BaseCurrency:  sc.BaseCurrency,
			QuoteCurrency: sc.QuoteCurrency,
		}
	}
	c.account = account.NewLedger(account.Config{
		Name:           c.cfg.Account.Name,
		Number:         c.cfg.Account.Number,
		Balance:        c.cfg.Account.Balance,
		Currency:       c.cfg.Account.Currency,
		Leverage:       c.cfg.Account.Leverage,
		CommissionRate: c.cfg.Account.CommissionRate,
	}, specs, account.StaticRates(c.cfg.Rates))

	btCfg, trigger, err := c.backtestConfig()
	if err != nil {
		return err
	}

	path := c.cfg.TradeLog
	if path == "" {
		path = fmt.Sprintf("trades-%s.jsonl", c.runID[:8])
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trade log dir failed: %w", err)
		}
	}
	c.tradeLog, err = tradelog.Open(path, c.cfg.TradeLogFsync)
	if err != nil {
		return fmt.Errorf("open trade log failed: %w", err)
	}

	c.engine, err = backtest.New(btCfg, c.store, c.account,
		backtest.WithLogger(c.logger),
		backtest.WithRecorder(c.monitor),
		backtest.WithTradeSink(c.tradeLog),
	)
	if err != nil {
		return err
	}

	strat, err := strategy.NewStrategyFactory().CreateStrategy(c.cfg.Strategy.Type, strategy.Params{
		Symbol:    c.cfg.Strategy.Symbol,
		Timeframe: trigger.Timeframe,
		Magic:     c.cfg.Strategy.Magic,
		PipValue:  specs[c.cfg.Strategy.Symbol].PipValue,
		Values:    c.cfg.Strategy.Params,
	}, c.engine)
	if err != nil {
		return fmt.Errorf("create strategy failed: %w", err)
	}
	c.runner = strategy.NewRunner(c.engine, trigger, c.logger, strat)

	c.logger.Debug("core services built",
		zap.String("strategy", c.cfg.Strategy.Type),
		zap.String("trade_log", path))
	return nil
}

// backtestConfig 把字符串订阅解析成引擎配置。策略的触发序列如果不在
// 锚序列与订阅 K 线中，自动加入订阅，否则策略永远不会被调用。
func (c *Container) backtestConfig() (backtest.Config, market.Key, error) {
	start, end, err := c.cfg.Range()
	if err != nil {
		return backtest.Config{}, market.Key{}, err
	}
	parse := func(list []string) ([]market.Key, error) {
		keys := make([]market.Key, 0, len(list))
		for _, s := range list {
			k, err := market.ParseKey(s)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, nil
	}
	bc := backtest.Config{
		Start:      start,
		End:        end,
		Ticks:      c.cfg.Ticks,
		SpreadPips: c.cfg.SpreadPips,
	}
	if bc.Anchors, err = parse(c.cfg.Anchors); err != nil {
		return bc, market.Key{}, err
	}
	if bc.Bars, err = parse(c.cfg.Bars); err != nil {
		return bc, market.Key{}, err
	}
	if bc.History, err = parse(c.cfg.History); err != nil {
		return bc, market.Key{}, err
	}

	tf, err := timeframe.Parse(c.cfg.Strategy.Timeframe)
	if err != nil {
		return bc, market.Key{}, err
	}
	trigger := market.Key{Symbol: c.cfg.Strategy.Symbol, Timeframe: tf}
	if !containsKey(bc.Anchors, trigger) && !containsKey(bc.Bars, trigger) {
		bc.Bars = append(bc.Bars, trigger)
	}
	return bc, trigger, bc.Validate()
}

func containsKey(keys []market.Key, k market.Key) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

func (c *Container) registerLifecycleComponents() {
	if c.monitor != nil && c.cfg.MetricsAddr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.MetricsAddr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Run 执行回测并返回汇总。必须先 Build。
func (c *Container) Run(ctx context.Context) (backtest.Result, error) {
	if c.engine == nil {
		return backtest.Result{}, errors.New("container not built")
	}
	begin := time.Now()
	res, err := c.engine.Run(ctx, c.runner)
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "run"})
		return res, err
	}
	c.logger.Info("backtest finished",
		zap.Int("steps", res.Steps),
		zap.Int("orders", res.Orders),
		zap.Int("closed", res.Closed),
		zap.Int("rejected", res.Rejected),
		zap.Float64("balance", res.Balance),
		zap.Float64("net_pnl", res.NetPnL),
		zap.Duration("elapsed", time.Since(begin)))
	return res, nil
}

// TradeLogPath 返回交易日志的绝对路径。
func (c *Container) TradeLogPath() string {
	if c.tradeLog == nil {
		return ""
	}
	if abs, err := filepath.Abs(c.tradeLog.Path()); err == nil {
		return abs
	}
	return c.tradeLog.Path()
}

func (c *Container) Stop() error {
	if c.logger == nil {
		return nil
	}
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.closeTradeLog()
	c.logger.Close()
	return err
}

func (c *Container) closeTradeLog() {
	if c.tradeLog == nil {
		return
	}
	if err := c.tradeLog.Close(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "close_trade_log"})
	}
	c.tradeLog = nil
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}
