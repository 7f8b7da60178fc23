package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for crossarb.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Pair       PairConfig       `yaml:"pair"`
	XBridge    XBridgeConfig    `yaml:"xbridge"`
	Thorchain  ThorchainConfig  `yaml:"thorchain"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Ticker     TickerConfig     `yaml:"ticker"`
	Arbitrage  ArbitrageConfig  `yaml:"arbitrage"`
	Continuous ContinuousConfig `yaml:"continuous"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Storage    StorageConfig    `yaml:"storage"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	DryRun     bool   `yaml:"dry_run"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
	Strategy   string `yaml:"strategy"`   // arbitrage|continuous
}

type PairConfig struct {
	Token1 string `yaml:"token1"`
	Token2 string `yaml:"token2"`
}

// Symbol renders the pair as "T1/T2".
func (p PairConfig) Symbol() string {
	return p.Token1 + "/" + p.Token2
}

type XBridgeConfig struct {
	RPCURL         string             `yaml:"rpc_url"`
	RPCUser        string             `yaml:"rpc_user"`
	RPCPassword    string             `yaml:"rpc_password"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	FeeToken       string             `yaml:"fee_token"`     // asset the venue charges taker fees in
	FeeEstimates   map[string]float64 `yaml:"fee_estimates"` // token -> flat fee in coin units
}

func (c XBridgeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FeeEstimatesDecimal converts the configured per-token fee estimates.
func (c XBridgeConfig) FeeEstimatesDecimal() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.FeeEstimates))
	for token, fee := range c.FeeEstimates {
		out[token] = decimal.NewFromFloat(fee)
	}
	return out
}

type ThorchainConfig struct {
	NodeURL        string  `yaml:"node_url"`
	MidgardURL     string  `yaml:"midgard_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	StreamInterval int     `yaml:"stream_interval"`
	ToleranceBps   float64 `yaml:"tolerance_bps"`
}

func (c ThorchainConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type WalletConfig struct {
	RPCURLs     map[string]string `yaml:"rpc_urls"` // token -> wallet RPC endpoint
	RPCUser     string            `yaml:"rpc_user"`
	RPCPassword string            `yaml:"rpc_password"`
	Addresses   map[string]string `yaml:"addresses"` // token -> receive address
}

type TickerConfig struct {
	Enabled bool     `yaml:"enabled"`
	WSURL   string   `yaml:"ws_url"`
	Symbols []string `yaml:"symbols"`
}

type ArbitrageConfig struct {
	MinMargin       float64 `yaml:"min_margin"`
	MaxTradeSize    float64 `yaml:"max_trade_size"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	ReportPath      string  `yaml:"report_path"`
}

// MinMarginDecimal returns the margin threshold as an exact decimal.
func (c ArbitrageConfig) MinMarginDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinMargin)
}

func (c ArbitrageConfig) MaxTradeSizeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxTradeSize)
}

type ContinuousConfig struct {
	TargetSpread    float64 `yaml:"target_spread"`
	MinTradeSize    float64 `yaml:"min_trade_size"`
	InitialSize     float64 `yaml:"initial_size"`
	SizingPolicy    string  `yaml:"sizing_policy"` // compound|fixed
	MaxAsymmetry    float64 `yaml:"max_asymmetry"`
	StatePath       string  `yaml:"state_path"`
	TradeLogPath    string  `yaml:"trade_log_path"`
	IntervalSeconds int     `yaml:"interval_seconds"`
}

func (c ContinuousConfig) TargetSpreadDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.TargetSpread)
}

func (c ContinuousConfig) MinTradeSizeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinTradeSize)
}

func (c ContinuousConfig) InitialSizeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.InitialSize)
}

func (c ContinuousConfig) MaxAsymmetryDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxAsymmetry)
}

type MonitorConfig struct {
	OrderTimeoutSeconds  int `yaml:"order_timeout_seconds"`
	OrderIntervalSeconds int `yaml:"order_interval_seconds"`
	SwapTimeoutSeconds   int `yaml:"swap_timeout_seconds"`
	SwapIntervalSeconds  int `yaml:"swap_interval_seconds"`
}

func (c MonitorConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutSeconds) * time.Second
}

func (c MonitorConfig) OrderInterval() time.Duration {
	return time.Duration(c.OrderIntervalSeconds) * time.Second
}

func (c MonitorConfig) SwapTimeout() time.Duration {
	return time.Duration(c.SwapTimeoutSeconds) * time.Second
}

func (c MonitorConfig) SwapInterval() time.Duration {
	return time.Duration(c.SwapIntervalSeconds) * time.Second
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
}

type StorageConfig struct {
	LedgerDir string `yaml:"ledger_dir"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "crossarb-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.Strategy == "" {
		cfg.General.Strategy = "arbitrage"
	}
	if cfg.Pair.Token1 == "" {
		cfg.Pair.Token1 = "LTC"
	}
	if cfg.Pair.Token2 == "" {
		cfg.Pair.Token2 = "BTC"
	}
	if cfg.XBridge.TimeoutSeconds == 0 {
		cfg.XBridge.TimeoutSeconds = 30
	}
	if cfg.XBridge.FeeToken == "" {
		cfg.XBridge.FeeToken = "BLOCK"
	}
	if cfg.Thorchain.TimeoutSeconds == 0 {
		cfg.Thorchain.TimeoutSeconds = 30
	}
	if cfg.Arbitrage.MinMargin == 0 {
		cfg.Arbitrage.MinMargin = 0.01
	}
	if cfg.Arbitrage.IntervalSeconds == 0 {
		cfg.Arbitrage.IntervalSeconds = 60
	}
	if cfg.Continuous.SizingPolicy == "" {
		cfg.Continuous.SizingPolicy = "compound"
	}
	if cfg.Continuous.IntervalSeconds == 0 {
		cfg.Continuous.IntervalSeconds = 60
	}
	if cfg.Continuous.StatePath == "" {
		cfg.Continuous.StatePath = "data/continuous_state.json"
	}
	if cfg.Monitor.OrderTimeoutSeconds == 0 {
		cfg.Monitor.OrderTimeoutSeconds = 300
	}
	if cfg.Monitor.OrderIntervalSeconds == 0 {
		cfg.Monitor.OrderIntervalSeconds = 15
	}
	if cfg.Monitor.SwapTimeoutSeconds == 0 {
		cfg.Monitor.SwapTimeoutSeconds = 600
	}
	if cfg.Monitor.SwapIntervalSeconds == 0 {
		cfg.Monitor.SwapIntervalSeconds = 30
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Storage.LedgerDir == "" {
		cfg.Storage.LedgerDir = "data/trades"
	}
}

// Validate rejects configurations that would misbehave at runtime
// rather than failing later mid-trade.
func (c *Config) Validate() error {
	switch c.General.Strategy {
	case "arbitrage", "continuous":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.General.Strategy)
	}

	if c.Arbitrage.MinMargin < 0 {
		return fmt.Errorf("config: min_margin must not be negative")
	}

	if c.General.Strategy == "continuous" {
		if c.Continuous.TargetSpread <= 0 {
			return fmt.Errorf("config: continuous.target_spread must be positive")
		}
		if c.Continuous.MinTradeSize <= 0 {
			return fmt.Errorf("config: continuous.min_trade_size must be positive")
		}
		if c.Continuous.InitialSize < c.Continuous.MinTradeSize {
			return fmt.Errorf("config: continuous.initial_size below min_trade_size")
		}
		switch c.Continuous.SizingPolicy {
		case "compound", "fixed":
		default:
			return fmt.Errorf("config: unknown sizing_policy %q", c.Continuous.SizingPolicy)
		}
	}
	return nil
}
