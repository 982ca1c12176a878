package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
start: "2024-01-02"
end: "2024-03-01 12:00:00"
dataDir: ./data
dataFormat: parquet
spreadPips: 1.5
account:
  balance: 50000
  currency: USD
  commissionRate: 0.004
symbols:
  EURUSD:
    pipValue: 0.0001
    contractSize: 100000
    minVolume: 0.01
    volumeStep: 0.01
  USDJPY:
    pipValue: 0.01
    contractSize: 100000
rates:
  EURUSD: 1.09
  USDJPY: 148.2
anchors: [EURUSD_H4]
bars: [EURUSD_D1]
history: [USDJPY_H1]
strategy:
  type: emacross
  symbol: EURUSD
  timeframe: H4
  magic: 7
  params:
    fast: 8
    slow: 21
tradeLog: out/trades.jsonl
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, FormatParquet, cfg.DataFormat)
	assert.Equal(t, 50000.0, cfg.Account.Balance)
	assert.Equal(t, 33, cfg.Account.Leverage, "defaults survive partial sections")
	assert.Equal(t, 0.004, cfg.Account.CommissionRate)
	assert.Equal(t, []string{"EURUSD_H4"}, cfg.Anchors)
	assert.Equal(t, 21.0, cfg.Strategy.Params["slow"])
	assert.Equal(t, "info", cfg.Log.Level)

	start, end, err := cfg.Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), end)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	t.Setenv("MASTS_DATA_DIR", "/srv/data")
	t.Setenv("MASTS_TRADE_LOG", "/srv/trades.jsonl")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", cfg.DataDir)
	assert.Equal(t, "/srv/trades.jsonl", cfg.TradeLog)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeTempConfig(t, "start: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid, err := Load(writeTempConfig(t, sampleConfig))
	require.NoError(t, err)

	testCases := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{"unknown mode", func(c *AppConfig) { c.Mode = "paper" }},
		{"bad start", func(c *AppConfig) { c.Start = "yesterday" }},
		{"end before start", func(c *AppConfig) { c.End = "2023-12-31" }},
		{"missing data dir", func(c *AppConfig) { c.DataDir = "" }},
		{"unknown format", func(c *AppConfig) { c.DataFormat = "hdf5" }},
		{"negative spread", func(c *AppConfig) { c.SpreadPips = -1 }},
		{"zero balance", func(c *AppConfig) { c.Account.Balance = 0 }},
		{"bad currency", func(c *AppConfig) { c.Account.Currency = "DOLLAR" }},
		{"no symbols", func(c *AppConfig) { c.Symbols = nil }},
		{"zero pip value", func(c *AppConfig) { c.Symbols["EURUSD"] = SymbolConfig{ContractSize: 1} }},
		{"bad rate", func(c *AppConfig) { c.Rates["EURUSD"] = 0 }},
		{"both drivers", func(c *AppConfig) { c.Ticks = []string{"EURUSD"} }},
		{"no driver", func(c *AppConfig) { c.Anchors = nil }},
		{"unknown timeframe", func(c *AppConfig) { c.Bars = []string{"EURUSD_H7"} }},
		{"anchor without spec", func(c *AppConfig) { c.Anchors = []string{"GBPUSD_H1"} }},
		{"missing strategy", func(c *AppConfig) { c.Strategy.Type = "" }},
		{"strategy timeframe", func(c *AppConfig) { c.Strategy.Timeframe = "W1" }},
		{"log level", func(c *AppConfig) { c.Log.Level = "trace" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, sampleConfig))
			require.NoError(t, err)
			tc.mutate(&cfg)
			err = Validate(cfg)
			require.Error(t, err)
			var invalid ErrInvalid
			assert.True(t, errors.As(err, &invalid), "got %T", err)
		})
	}
	assert.NoError(t, Validate(valid))
	assert.Error(t, Validate(AppConfig{}))
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "backtest.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD_H1", "GBPUSD_H4"}, cfg.Anchors)
	assert.Equal(t, 20.0, cfg.Strategy.Params["trailing_pips"])
}
