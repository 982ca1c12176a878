package config

import (
	"fmt"

	"masts-go/timeframe"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return "invalid config: " + string(e) }

func validateAccount(a AccountConfig) error {
	if a.Balance <= 0 {
		return ErrInvalid("account.balance must be > 0")
	}
	if len(a.Currency) != 3 {
		return ErrInvalid(fmt.Sprintf("account.currency %q must be a 3-letter code", a.Currency))
	}
	if a.Leverage <= 0 {
		return ErrInvalid("account.leverage must be > 0")
	}
	if a.CommissionRate < 0 {
		return ErrInvalid("account.commissionRate must be >= 0")
	}
	return nil
}

// validateSymbols 检查合约规格与汇率表。
func validateSymbols(cfg AppConfig) error {
	if len(cfg.Symbols) == 0 {
		return ErrInvalid("symbols config is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.PipValue <= 0 {
			return ErrInvalid(fmt.Sprintf("symbol %s pipValue must be > 0", sym))
		}
		if sc.ContractSize <= 0 {
			return ErrInvalid(fmt.Sprintf("symbol %s contractSize must be > 0", sym))
		}
		if sc.MinVolume < 0 || sc.VolumeStep < 0 {
			return ErrInvalid(fmt.Sprintf("symbol %s volume bounds must be >= 0", sym))
		}
	}
	for pair, rate := range cfg.Rates {
		if len(pair) != 6 {
			return ErrInvalid(fmt.Sprintf("rates key %q must look like EURUSD", pair))
		}
		if rate <= 0 {
			return ErrInvalid(fmt.Sprintf("rate %s must be > 0", pair))
		}
	}
	return nil
}

func validateStrategy(cfg AppConfig) error {
	s := cfg.Strategy
	if s.Type == "" {
		return ErrInvalid("strategy.type is required")
	}
	if _, ok := cfg.Symbols[s.Symbol]; !ok {
		return ErrInvalid(fmt.Sprintf("strategy.symbol %q has no symbols entry", s.Symbol))
	}
	if _, err := timeframe.Parse(s.Timeframe); err != nil {
		return ErrInvalid(fmt.Sprintf("strategy.timeframe: %v", err))
	}
	return nil
}
