// Package config loads the trader's YAML configuration. Secrets never live
// in the file; ApplyEnv overlays them at the process boundary.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/oanda"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/filter"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/monitor"
	"github.com/rustyeddy/autotrader/oracle"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvOandaToken  = "OANDA_TOKEN"
	EnvStoreDSN    = "TRADER_STORE_DSN"
	EnvOracleKey   = "ORACLE_API_KEY"
	EnvHTTPAddr    = "TRADER_HTTP_ADDR"
	EnvOracleURL   = "ORACLE_URL"
	EnvOandaAcctID = "OANDA_ACCOUNT_ID"
)

// Config represents the complete trader configuration
type Config struct {
	// Feed names the gateway whose price stream drives the engine: sim | oanda.
	Feed      string            `json:"feed" yaml:"feed"`
	Accounts  []AccountConfig   `json:"accounts" yaml:"accounts"`
	Store     store.Config      `json:"store" yaml:"store"`
	Engine    engine.Config     `json:"engine" yaml:"engine"`
	Filter    filter.Config     `json:"filter" yaml:"filter"`
	Risk      risk.BankConfig   `json:"risk" yaml:"risk"`
	Execution execution.Config  `json:"execution" yaml:"execution"`
	Monitor   monitor.Config    `json:"monitor" yaml:"monitor"`
	Pool      broker.PoolConfig `json:"pool" yaml:"pool"`
	Oracle    OracleConfig      `json:"oracle" yaml:"oracle"`
	OANDA     oanda.Config      `json:"oanda" yaml:"oanda"`
	Sim       sim.Config        `json:"sim" yaml:"sim"`
	HTTP      HTTPConfig        `json:"http" yaml:"http"`
	Pyroscope PyroscopeConfig   `json:"pyroscope" yaml:"pyroscope"`
}

// AccountConfig is a trading account seeded into the store on start.
type AccountConfig struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	Broker           string  `json:"broker" yaml:"broker"` // sim | oanda
	BrokerAccountID  string  `json:"broker_account_id" yaml:"broker_account_id"`
	Currency         string  `json:"currency" yaml:"currency"`
	MinBalance       float64 `json:"min_balance" yaml:"min_balance"`
	Leverage         float64 `json:"leverage" yaml:"leverage"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	Active           bool    `json:"active" yaml:"active"`
	Frozen           bool    `json:"frozen" yaml:"frozen"`
}

func (a AccountConfig) TradingAccount() store.TradingAccount {
	brokerID := a.BrokerAccountID
	if brokerID == "" {
		brokerID = a.ID
	}
	name := a.Name
	if name == "" {
		name = a.ID
	}
	return store.TradingAccount{
		ID:               a.ID,
		Name:             name,
		Broker:           a.Broker,
		BrokerAccountID:  brokerID,
		Currency:         a.Currency,
		MinBalance:       a.MinBalance,
		Leverage:         a.Leverage,
		MaxOpenPositions: a.MaxOpenPositions,
		Active:           a.Active,
		Frozen:           a.Frozen,
	}
}

// OracleConfig selects the decision oracle. An empty URL falls back to the
// EMA cross rules when enabled, otherwise to the HOLD oracle, which never
// trades.
type OracleConfig struct {
	HTTP     oracle.HTTPConfig     `json:"http" yaml:"http"`
	Guard    oracle.GuardConfig    `json:"guard" yaml:"guard"`
	EMACross oracle.EMACrossConfig `json:"ema_cross" yaml:"ema_cross"`
}

type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type PyroscopeConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ServerAddress string `json:"server_address" yaml:"server_address"`
	AppName       string `json:"app_name" yaml:"app_name"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on
// content). Missing sections keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON
// otherwise)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays secrets and deployment overrides. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvOandaToken); ok {
		c.OANDA.Token = v
	}
	if v, ok := lookup(EnvOandaAcctID); ok && v != "" {
		c.OANDA.AccountID = v
	}
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup(EnvOracleKey); ok {
		c.Oracle.HTTP.APIKey = v
	}
	if v, ok := lookup(EnvOracleURL); ok && v != "" {
		c.Oracle.HTTP.URL = v
	}
	if v, ok := lookup(EnvHTTPAddr); ok && v != "" {
		c.HTTP.Addr = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Feed {
	case "sim", "oanda":
	default:
		return fmt.Errorf("feed must be 'sim' or 'oanda'")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres":
	default:
		return fmt.Errorf("store.driver must be 'sqlite' or 'postgres'")
	}

	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols is required")
	}
	for _, s := range c.Engine.Symbols {
		if _, ok := market.Lookup(s); !ok {
			return fmt.Errorf("unknown instrument: %s", s)
		}
	}
	tf, err := market.ParseTimeframe(string(c.Engine.Timeframe))
	if err != nil {
		return fmt.Errorf("engine.timeframe: %w", err)
	}
	c.Engine.Timeframe = tf
	if c.Engine.AnalysisInterval < 0 {
		return fmt.Errorf("engine.analysis_interval must not be negative")
	}
	if c.Engine.Backoff.MaxAttempts < 0 || c.Pool.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("backoff max_attempts must not be negative")
	}
	if c.Filter.MinCandles > c.Engine.Candles {
		return fmt.Errorf("filter.min_candles %d exceeds engine.candles %d", c.Filter.MinCandles, c.Engine.Candles)
	}

	lim := c.Risk.Limits
	if lim.DefaultRiskPercent <= 0 || lim.DefaultRiskPercent > 10 {
		return fmt.Errorf("risk.limits.default_risk_percent must be between 0 and 10")
	}
	if lim.MaxRiskPercent < lim.DefaultRiskPercent {
		return fmt.Errorf("risk.limits.max_risk_percent must be at least default_risk_percent")
	}
	if lim.MinConfidence < 0 || lim.MinConfidence > 100 {
		return fmt.Errorf("risk.limits.min_confidence must be between 0 and 100")
	}

	if c.Execution.OrderTimeout <= 0 || c.Execution.AccountTimeout <= 0 {
		return fmt.Errorf("execution timeouts must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}

	seen := map[string]bool{}
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id: %s", a.ID)
		}
		seen[a.ID] = true
		switch a.Broker {
		case "sim", "oanda":
		default:
			return fmt.Errorf("account %s: broker must be 'sim' or 'oanda'", a.ID)
		}
		if a.Currency == "" {
			return fmt.Errorf("account %s: currency is required", a.ID)
		}
		if a.MinBalance < 0 {
			return fmt.Errorf("account %s: min_balance must not be negative", a.ID)
		}
	}

	if c.Feed == "oanda" || c.usesBroker("oanda") {
		if _, _, err := c.OANDA.URLs(); err != nil {
			return err
		}
	}
	if ec := c.Oracle.EMACross; ec.Enabled && (ec.FastPeriod <= 0 || ec.FastPeriod >= ec.SlowPeriod) {
		return fmt.Errorf("oracle.ema_cross.fast_period must be positive and below slow_period")
	}
	if c.Pyroscope.Enabled && c.Pyroscope.ServerAddress == "" {
		return fmt.Errorf("pyroscope.server_address is required when enabled")
	}
	return nil
}

func (c *Config) usesBroker(name string) bool {
	for _, a := range c.Accounts {
		if a.Broker == name {
			return true
		}
	}
	return false
}

// Default returns a configuration with sensible defaults: a paper account
// on the simulated feed and a local SQLite store.
func Default() *Config {
	simCfg := sim.DefaultConfig()
	return &Config{
		Feed: "sim",
		Accounts: []AccountConfig{{
			ID:              simCfg.AccountID,
			Name:            "paper",
			Broker:          "sim",
			BrokerAccountID: simCfg.AccountID,
			Currency:        simCfg.Currency,
			MinBalance:      500,
			Leverage:        simCfg.Leverage,
			Active:          true,
		}},
		Store:     store.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		Filter:    filter.DefaultConfig(),
		Risk:      risk.DefaultBankConfig(),
		Execution: execution.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Pool:      broker.DefaultPoolConfig(),
		Oracle: OracleConfig{
			HTTP:     oracle.HTTPConfig{Timeout: 30 * time.Second, MaxCandles: 100},
			Guard:    oracle.DefaultGuardConfig(),
			EMACross: oracle.DefaultEMACrossConfig(),
		},
		OANDA: oanda.Config{Environment: "practice", Timeout: 15 * time.Second},
		Sim:   simCfg,
		HTTP:  HTTPConfig{Addr: ":8080"},
		Pyroscope: PyroscopeConfig{
			ServerAddress: "http://localhost:4040",
			AppName:       "autotrader",
		},
	}
}
