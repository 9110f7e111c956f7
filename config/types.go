package config

import "strings"

// Server controls the HTTP listener, persisted data and logging. Storage
// selects the ledger engine, "leveldb" (default) or "bolt".
type Server struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listen"`
	DataDir       string `toml:"DataDir" yaml:"data_dir"`
	Storage       string `toml:"Storage" yaml:"storage"`
	Environment   string `toml:"Environment" yaml:"environment"`
	LogLevel      string `toml:"LogLevel" yaml:"log_level"`
	LogFile       string `toml:"LogFile" yaml:"log_file"`
}

// Auth configures bearer token verification on the API. Tokens carry the
// caller's bech32 address as subject.
type Auth struct {
	Enabled       bool     `toml:"Enabled" yaml:"enabled"`
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmac_secret"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      string   `toml:"Audience" yaml:"audience"`
	OptionalPaths []string `toml:"OptionalPaths" yaml:"optional_paths"`
}

// RateLimit caps requests per caller.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Telemetry wires the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
}

// Journal selects the relational event journal. An empty DSN disables it.
type Journal struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// Keeper schedules the maintenance loop. A zero interval disables it.
type Keeper struct {
	IntervalSeconds uint64 `toml:"IntervalSeconds" yaml:"interval_seconds"`
	Address         string `toml:"Address" yaml:"address"`
}

// System carries the system wide parameters as decimal strings.
type System struct {
	StableSymbol string `toml:"StableSymbol" yaml:"stable_symbol"`
	StableName   string `toml:"StableName" yaml:"stable_name"`
	Admin        string `toml:"Admin" yaml:"admin"`
	Operator     string `toml:"WhitelistOperator" yaml:"whitelist_operator"`
	Whitelist    bool   `toml:"Whitelist" yaml:"whitelist"`
	Line         string `toml:"Line" yaml:"line"` // total debt ceiling in stable units
	Base         string `toml:"Base" yaml:"base"` // per second base fee, e.g. "0"
	Par          string `toml:"Par" yaml:"par"`   // peg, e.g. "1"
	Hole         string `toml:"Hole" yaml:"hole"` // total liquidation budget in stable units
}

// Calc describes the auction price curve.
type Calc struct {
	Kind string `toml:"Kind" yaml:"kind"`
	Tau  uint64 `toml:"Tau" yaml:"tau"`
	Step uint64 `toml:"Step" yaml:"step"`
	Cut  string `toml:"Cut" yaml:"cut"`
}

// Collateral lists one token. Amounts are decimal strings in whole units;
// duty is the per second fee factor.
type Collateral struct {
	Token string `toml:"Token" yaml:"token"`
	Ilk   string `toml:"Ilk" yaml:"ilk"`
	Mat   string `toml:"Mat" yaml:"mat"`
	Line  string `toml:"Line" yaml:"line"`
	Dust  string `toml:"Dust" yaml:"dust"`
	Duty  string `toml:"Duty" yaml:"duty"`
	Chop  string `toml:"Chop" yaml:"chop"`
	Hole  string `toml:"Hole" yaml:"hole"`
	Buf   string `toml:"Buf" yaml:"buf"`
	Tail  uint64 `toml:"Tail" yaml:"tail"`
	Cusp  string `toml:"Cusp" yaml:"cusp"`
	Chip  string `toml:"Chip" yaml:"chip"`
	Tip   string `toml:"Tip" yaml:"tip"`
	Calc  Calc   `toml:"Calc" yaml:"calc"`
	Price string `toml:"Price" yaml:"price"` // initial static feed price
}

// Pauses switches individual modules off. Keys are module names such as
// "cdp", "vat" or "clip:WETH-A".
type Pauses map[string]bool

// IsPaused implements the pause view consulted by every engine.
func (p Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	return p[strings.ToLower(strings.TrimSpace(module))]
}
