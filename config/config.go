package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the full cdpd configuration.
type Config struct {
	Server      Server       `toml:"Server" yaml:"server"`
	Auth        Auth         `toml:"Auth" yaml:"auth"`
	RateLimit   RateLimit    `toml:"RateLimit" yaml:"rate_limit"`
	Telemetry   Telemetry    `toml:"Telemetry" yaml:"telemetry"`
	Journal     Journal      `toml:"Journal" yaml:"journal"`
	Keeper      Keeper       `toml:"Keeper" yaml:"keeper"`
	System      System       `toml:"System" yaml:"system"`
	Collaterals []Collateral `toml:"Collateral" yaml:"collaterals"`
	Pauses      Pauses       `toml:"Pauses" yaml:"pauses"`
}

// Default returns a configuration that runs a local node with no collateral.
func Default() Config {
	return Config{
		Server: Server{
			ListenAddress: ":8088",
			DataDir:       "./cdp-data",
			Environment:   "local",
			LogLevel:      "info",
		},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
		Journal:   Journal{Driver: "sqlite"},
		Keeper:    Keeper{IntervalSeconds: 60},
		System: System{
			StableSymbol: "USDX",
			StableName:   "NHB Dollar",
			Par:          "1",
			Base:         "0",
		},
	}
}

// Load reads path as YAML when the extension says so and as TOML otherwise,
// then normalizes and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	default:
		meta, err := toml.Decode(string(raw), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Server.ListenAddress = strings.TrimSpace(cfg.Server.ListenAddress)
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8088"
	}
	cfg.Server.DataDir = strings.TrimSpace(cfg.Server.DataDir)
	cfg.Server.Storage = strings.ToLower(strings.TrimSpace(cfg.Server.Storage))
	if cfg.Server.Storage == "" {
		cfg.Server.Storage = "leveldb"
	}
	cfg.Server.Environment = strings.TrimSpace(cfg.Server.Environment)
	cfg.Server.LogFile = strings.TrimSpace(cfg.Server.LogFile)

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Auth.OptionalPaths = trimAll(cfg.Auth.OptionalPaths)

	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.Keeper.Address = strings.TrimSpace(cfg.Keeper.Address)

	cfg.System.StableSymbol = strings.ToUpper(strings.TrimSpace(cfg.System.StableSymbol))
	cfg.System.Admin = strings.TrimSpace(cfg.System.Admin)
	cfg.System.Operator = strings.TrimSpace(cfg.System.Operator)

	for i := range cfg.Collaterals {
		c := &cfg.Collaterals[i]
		c.Token = strings.ToUpper(strings.TrimSpace(c.Token))
		c.Ilk = strings.TrimSpace(c.Ilk)
		if c.Ilk == "" && c.Token != "" {
			c.Ilk = c.Token + "-A"
		}
		c.Calc.Kind = strings.ToLower(strings.TrimSpace(c.Calc.Kind))
	}

	if len(cfg.Pauses) > 0 {
		normalized := make(Pauses, len(cfg.Pauses))
		for module, paused := range cfg.Pauses {
			normalized[strings.ToLower(strings.TrimSpace(module))] = paused
		}
		cfg.Pauses = normalized
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
