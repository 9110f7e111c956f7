package config

import (
	"fmt"

	"nhbcdp/native/fixed"
)

// MinKeeperIntervalSeconds bounds how often the keeper may run.
var MinKeeperIntervalSeconds = uint64(5)

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required when auth is enabled")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Server.Storage {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("server: unknown storage engine %q", cfg.Server.Storage)
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unknown driver %q", cfg.Journal.Driver)
	}
	if cfg.Keeper.IntervalSeconds != 0 && cfg.Keeper.IntervalSeconds < MinKeeperIntervalSeconds {
		return fmt.Errorf("keeper: interval_seconds below %d", MinKeeperIntervalSeconds)
	}
	if err := cfg.System.validate(); err != nil {
		return fmt.Errorf("system: %w", err)
	}

	tokens := make(map[string]struct{}, len(cfg.Collaterals))
	ilks := make(map[string]struct{}, len(cfg.Collaterals))
	for _, c := range cfg.Collaterals {
		if c.Token == "" {
			return fmt.Errorf("collateral: token required")
		}
		if _, dup := tokens[c.Token]; dup {
			return fmt.Errorf("collateral %s: listed twice", c.Token)
		}
		if _, dup := ilks[c.Ilk]; dup {
			return fmt.Errorf("collateral %s: ilk %s already used", c.Token, c.Ilk)
		}
		tokens[c.Token] = struct{}{}
		ilks[c.Ilk] = struct{}{}
		if c.Token == cfg.System.StableSymbol {
			return fmt.Errorf("collateral %s: the stable token cannot be collateral", c.Token)
		}
		params, _, err := c.CollateralParams()
		if err != nil {
			return err
		}
		if params.Mat == nil || params.Mat.Cmp(fixed.RAY) < 0 {
			return fmt.Errorf("collateral %s: mat must be at least 1", c.Token)
		}
		if c.Tail == 0 && c.Calc.Tau == 0 {
			return fmt.Errorf("collateral %s: tail or calc.tau required", c.Token)
		}
	}
	return nil
}

func (s System) validate() error {
	if s.StableSymbol == "" {
		return fmt.Errorf("stable_symbol required")
	}
	if _, err := s.SystemParams(); err != nil {
		return err
	}
	if _, err := s.AdminAddress(); err != nil {
		return err
	}
	op, err := s.OperatorAddress()
	if err != nil {
		return err
	}
	if s.Whitelist && op.IsZero() {
		return fmt.Errorf("whitelist requires whitelist_operator")
	}
	return nil
}
