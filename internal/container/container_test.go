package container

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masts-go/backtest"
	"masts-go/config"
	"masts-go/tradelog"
)

// writeHourlyCSV 写一个 MT4 导出格式的 EURUSD H1 文件，收盘价走正弦。
func writeHourlyCSV(t *testing.T, dir string, hours int) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var sb strings.Builder
	sb.WriteString("<DATE>,<TIME>,<OPEN>,<HIGH>,<LOW>,<CLOSE>,<VOLUME>\n")
	prev := 1.1
	for i := 0; i < hours; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		c := math.Round((1.1+0.002*math.Sin(float64(i)/4))*1e5) / 1e5
		hi := math.Max(prev, c) + 0.0002
		lo := math.Min(prev, c) - 0.0002
		fmt.Fprintf(&sb, "%s,%s,%.5f,%.5f,%.5f,%.5f,100\n",
			ts.Format("2006.01.02"), ts.Format("15:04"), prev, hi, lo, c)
		prev = c
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EURUSD-H1.csv"), []byte(sb.String()), 0o644))
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	writeHourlyCSV(t, dir, 72)

	cfg := config.Default()
	cfg.Start = "2024-01-01"
	cfg.End = "2024-01-03"
	cfg.DataDir = dir
	cfg.SpreadPips = 1
	cfg.Log.Level = "error"
	cfg.Symbols = map[string]config.SymbolConfig{
		"EURUSD": {PipValue: 0.0001, ContractSize: 100000, MinVolume: 0.01, VolumeStep: 0.01},
	}
	cfg.Rates = map[string]float64{"EURUSD": 1.1}
	cfg.Anchors = []string{"EURUSD_H1"}
	cfg.Strategy = config.StrategyConfig{
		Type:      "emacross",
		Symbol:    "EURUSD",
		Timeframe: "H1",
		Magic:     3,
		Params:    map[string]float64{"fast": 3, "slow": 6, "lots": 0.1},
	}
	cfg.TradeLog = filepath.Join(dir, "out", "trades.jsonl")
	return cfg
}

func TestContainerRunsBacktest(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewFromConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	path := c.TradeLogPath()
	require.NoError(t, c.Stop())

	assert.Equal(t, backtest.ModeBar, res.Mode)
	assert.Equal(t, 48, res.Steps)
	assert.Greater(t, res.Orders, 0)
	assert.Equal(t, res.Orders, res.Closed+res.Canceled)
	assert.InDelta(t, cfg.Account.Balance+res.NetPnL, res.Balance, 0.01)

	sum, err := tradelog.SummarizeFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Closed, sum.Closed)
	assert.InDelta(t, res.NetPnL, sum.NetPnL, 0.05)
}

func TestContainerDefaultTradeLogName(t *testing.T) {
	cfg := testConfig(t)
	cfg.TradeLog = ""
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	c, err := NewFromConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	defer c.Stop()

	assert.Len(t, c.RunID(), 36)
	assert.Equal(t, "trades-"+c.RunID()[:8]+".jsonl", filepath.Base(c.TradeLogPath()))
}

func TestContainerSubscribesStrategyTrigger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Timeframe = "H4"
	c, err := NewFromConfig(cfg)
	require.NoError(t, err)

	bc, trigger, err := c.backtestConfig()
	require.NoError(t, err)
	assert.Equal(t, "EURUSD_H4", trigger.String())
	require.Len(t, bc.Bars, 1)
	assert.Equal(t, trigger, bc.Bars[0])
}

func TestContainerRejectsLiveMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeLive
	_, err := NewFromConfig(cfg)
	assert.ErrorIs(t, err, ErrLiveUnsupported)
}

func TestContainerBuildFailsWithoutDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = filepath.Join(t.TempDir(), "missing")
	c, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Error(t, c.Build())
}

func TestContainerMetricsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t)
	cfg.MetricsAddr = addr
	c, err := NewFromConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	assert.Equal(t, 1, c.lifecycle.Len())

	require.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.HealthCheck())
	require.NoError(t, c.Stop())
	assert.Error(t, c.HealthCheck())
}

func TestLifecycleRollsBackOnStartFailure(t *testing.T) {
	m := NewLifecycleManager()
	first := &fakeComponent{}
	m.Register(first)
	m.Register(&fakeComponent{startErr: assert.AnError})

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.True(t, first.stopped)
}

type fakeComponent struct {
	startErr error
	stopped  bool
}

func (f *fakeComponent) Start(context.Context) error { return f.startErr }
func (f *fakeComponent) Stop() error                 { f.stopped = true; return nil }
func (f *fakeComponent) Health() error               { return nil }
