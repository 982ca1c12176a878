package config

import (
	"fmt"

	"masts-go/market"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	switch cfg.Mode {
	case ModeBacktest, ModeLive:
	default:
		return ErrInvalid(fmt.Sprintf("mode must be %s or %s, got %q", ModeBacktest, ModeLive, cfg.Mode))
	}
	start, end, err := cfg.Range()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return ErrInvalid("end must be after start")
	}
	if cfg.DataDir == "" {
		return ErrInvalid("dataDir is required (or MASTS_DATA_DIR)")
	}
	switch cfg.DataFormat {
	case FormatCSV, FormatParquet:
	default:
		return ErrInvalid(fmt.Sprintf("dataFormat must be %s or %s, got %q", FormatCSV, FormatParquet, cfg.DataFormat))
	}
	if cfg.SpreadPips < 0 {
		return ErrInvalid("spreadPips must be >= 0")
	}
	if err := validateAccount(cfg.Account); err != nil {
		return err
	}
	if err := validateSymbols(cfg); err != nil {
		return err
	}
	if err := validateSubscriptions(cfg); err != nil {
		return err
	}
	if err := validateStrategy(cfg); err != nil {
		return err
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalid(fmt.Sprintf("log.level %q is not one of debug/info/warn/error", cfg.Log.Level))
	}
	return nil
}

func validateSubscriptions(cfg AppConfig) error {
	if len(cfg.Anchors) > 0 && len(cfg.Ticks) > 0 {
		return ErrInvalid("anchors (bar-driven) and ticks (tick-driven) are mutually exclusive")
	}
	if len(cfg.Anchors) == 0 && len(cfg.Ticks) == 0 {
		return ErrInvalid("either anchors or ticks is required")
	}
	groups := []struct {
		name string
		keys []string
	}{{"anchors", cfg.Anchors}, {"bars", cfg.Bars}, {"history", cfg.History}}
	for _, g := range groups {
		for _, s := range g.keys {
			k, err := market.ParseKey(s)
			if err != nil {
				return ErrInvalid(fmt.Sprintf("%s: %v", g.name, err))
			}
			if _, ok := cfg.Symbols[k.Symbol]; !ok && g.name == "anchors" {
				return ErrInvalid(fmt.Sprintf("anchors: no symbols entry for %s", k.Symbol))
			}
		}
	}
	for _, sym := range cfg.Ticks {
		if _, ok := cfg.Symbols[sym]; !ok {
			return ErrInvalid(fmt.Sprintf("ticks: no symbols entry for %q", sym))
		}
	}
	return nil
}
