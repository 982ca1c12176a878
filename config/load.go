package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeBacktest = "backtest"
	ModeLive     = "live"

	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// 配置中的时间均按 UTC 解析。
var timeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Mode       string                  `yaml:"mode"`
	Start      string                  `yaml:"start"`
	End        string                  `yaml:"end"`
	DataDir    string                  `yaml:"dataDir"`
	DataFormat string                  `yaml:"dataFormat"`
	Account    AccountConfig           `yaml:"account"`
	SpreadPips float64                 `yaml:"spreadPips"`
	Symbols    map[string]SymbolConfig `yaml:"symbols"`
	Rates      map[string]float64      `yaml:"rates"`

	// 订阅：锚序列（K 线驱动）与 ticks（tick 驱动）二选一。
	Anchors []string `yaml:"anchors"`
	Ticks   []string `yaml:"ticks"`
	Bars    []string `yaml:"bars"`
	History []string `yaml:"history"`

	Strategy      StrategyConfig `yaml:"strategy"`
	Log           LogConfig      `yaml:"log"`
	TradeLog      string         `yaml:"tradeLog"`
	TradeLogFsync bool           `yaml:"tradeLogFsync"`
	MetricsAddr   string         `yaml:"metricsAddr"`
}

type AccountConfig struct {
	Name           string  `yaml:"name"`
	Number         int64   `yaml:"number"`
	Balance        float64 `yaml:"balance"`
	Currency       string  `yaml:"currency"`
	Leverage       int     `yaml:"leverage"`
	CommissionRate float64 `yaml:"commissionRate"` // 百分比
}

// SymbolConfig 保存品种的合约规格。
type SymbolConfig struct {
	PipValue      float64 `yaml:"pipValue"`
	ContractSize  float64 `yaml:"contractSize"`
	MinVolume     float64 `yaml:"minVolume"`
	VolumeStep    float64 `yaml:"volumeStep"`
	BaseCurrency  string  `yaml:"baseCurrency"`
	QuoteCurrency string  `yaml:"quoteCurrency"`
}

type StrategyConfig struct {
	Type      string             `yaml:"type"`
	Symbol    string             `yaml:"symbol"`
	Timeframe string             `yaml:"timeframe"`
	Magic     int64              `yaml:"magic"`
	Params    map[string]float64 `yaml:"params"`
}

type LogConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	Outputs   []string `yaml:"outputs"`
	File      string   `yaml:"file"`
	ErrorFile string   `yaml:"errorFile"`
}

// Default 返回默认配置，YAML 中出现的字段会覆盖它们。
func Default() AppConfig {
	return AppConfig{
		Mode:       ModeBacktest,
		DataFormat: FormatCSV,
		Account: AccountConfig{
			Name:           "backtesting_mode",
			Number:         1111,
			Balance:        100000,
			Currency:       "USD",
			Leverage:       33,
			CommissionRate: 0.005,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
		},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment paths from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MASTS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MASTS_TRADE_LOG"); v != "" {
		cfg.TradeLog = v
	}
	return cfg, Validate(cfg)
}

// Range 返回回测区间。
func (c AppConfig) Range() (time.Time, time.Time, error) {
	start, err := ParseTime(c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalid("start: " + err.Error())
	}
	end, err := ParseTime(c.End)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalid("end: " + err.Error())
	}
	return start, end, nil
}

// ParseTime 按 UTC 解析配置中的时间。
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q, want YYYY-MM-DD[ HH:MM:SS]", s)
}
