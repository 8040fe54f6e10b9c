package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/mintwatch-trading/mintwatch/internal/strategy"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for mintwatch. Loaded once at
// startup, read-only thereafter. Invalid configuration fails the process,
// never an individual operation.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Chain      ChainConfig      `yaml:"chain"`
	Reputation ReputationConfig `yaml:"reputation"`
	Hunter     HunterConfig     `yaml:"hunter"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	DryRun     bool   `yaml:"dry_run"`
	LogLevel   string `yaml:"log_level"`  // debug|info|warn|error
	LogFormat  string `yaml:"log_format"` // json|console
}

type ChainConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	FactoryAddress string  `yaml:"factory_address"`
	QuoterAddress  string  `yaml:"quoter_address"`
	TimeoutMs      int     `yaml:"timeout_ms"`
	MaxRetries     int     `yaml:"max_retries"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
}

type ReputationConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

type HunterConfig struct {
	ActiveStrategy      string  `yaml:"active_strategy"`
	StaleBlockThreshold uint64  `yaml:"stale_block_threshold"`
	PollIntervalMs      int     `yaml:"poll_interval_ms"`
	MonitorIntervalMs   int     `yaml:"monitor_interval_ms"`
	MaxPositions        int     `yaml:"max_positions"`
	MaxDailySpendETH    float64 `yaml:"max_daily_spend_eth"`
	MaxDailyLossETH     float64 `yaml:"max_daily_loss_eth"`
	ControlPort         int     `yaml:"control_port"`
}

// StrategyConfig is the YAML shape of a policy override. Converted to a
// strategy.Policy (and validated there) after load.
type StrategyConfig struct {
	Name               string             `yaml:"name"`
	MinReputationScore int                `yaml:"min_reputation_score"`
	BuyAmountETH       float64            `yaml:"buy_amount_eth"`
	Ladder             []LadderStepConfig `yaml:"ladder"`
	StopLossPct        float64            `yaml:"stop_loss_pct"`
	MaxHoldMinutes     int                `yaml:"max_hold_minutes"`
}

type LadderStepConfig struct {
	ProfitPct float64 `yaml:"profit_pct"`
	SellPct   float64 `yaml:"sell_pct"`
}

// Policy converts the YAML shape to the immutable policy type.
func (s StrategyConfig) Policy() strategy.Policy {
	ladder := make([]strategy.LadderStep, 0, len(s.Ladder))
	for _, step := range s.Ladder {
		ladder = append(ladder, strategy.LadderStep{
			ProfitPct: decimal.NewFromFloat(step.ProfitPct),
			SellPct:   decimal.NewFromFloat(step.SellPct),
		})
	}
	return strategy.Policy{
		Name:               s.Name,
		MinReputationScore: s.MinReputationScore,
		BuyAmountETH:       decimal.NewFromFloat(s.BuyAmountETH),
		Ladder:             ladder,
		StopLossPct:        decimal.NewFromFloat(s.StopLossPct),
		MaxHold:            time.Duration(s.MaxHoldMinutes) * time.Minute,
	}
}

// Load reads .env, then parses the YAML configuration file with environment
// variables expanded, applies defaults and validates.
func Load(path string) (*Config, error) {
	// Missing .env is fine; it only supplies secrets for ${VAR} expansion.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

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
		cfg.General.InstanceID = "mintwatch-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Chain.Endpoint == "" {
		cfg.Chain.Endpoint = "https://mainnet.base.org"
	}
	if cfg.Chain.TimeoutMs == 0 {
		cfg.Chain.TimeoutMs = 10_000
	}
	if cfg.Chain.MaxRetries == 0 {
		cfg.Chain.MaxRetries = 3
	}
	if cfg.Chain.RateLimitRPS == 0 {
		cfg.Chain.RateLimitRPS = 10
	}
	if cfg.Reputation.TimeoutMs == 0 {
		cfg.Reputation.TimeoutMs = 5_000
	}
	if cfg.Reputation.RateLimitRPS == 0 {
		cfg.Reputation.RateLimitRPS = 5
	}
	if cfg.Hunter.ActiveStrategy == "" {
		cfg.Hunter.ActiveStrategy = "conservative"
	}
	if cfg.Hunter.StaleBlockThreshold == 0 {
		cfg.Hunter.StaleBlockThreshold = 100
	}
	if cfg.Hunter.PollIntervalMs == 0 {
		cfg.Hunter.PollIntervalMs = 2_000
	}
	if cfg.Hunter.MonitorIntervalMs == 0 {
		cfg.Hunter.MonitorIntervalMs = 5_000
	}
	if cfg.Hunter.MaxPositions == 0 {
		cfg.Hunter.MaxPositions = 5
	}
	if cfg.Hunter.ControlPort == 0 {
		cfg.Hunter.ControlPort = 9480
	}
}

// Validate rejects configuration the process must not start with.
func (cfg *Config) Validate() error {
	u, err := url.Parse(cfg.Chain.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("chain.endpoint %q is not a valid URL", cfg.Chain.Endpoint)
	}
	if !common.IsHexAddress(cfg.Chain.FactoryAddress) {
		return fmt.Errorf("chain.factory_address %q is not a valid address", cfg.Chain.FactoryAddress)
	}
	if cfg.Chain.QuoterAddress != "" && !common.IsHexAddress(cfg.Chain.QuoterAddress) {
		return fmt.Errorf("chain.quoter_address %q is not a valid address", cfg.Chain.QuoterAddress)
	}
	if cfg.Hunter.PollIntervalMs <= 0 {
		return fmt.Errorf("hunter.poll_interval_ms must be positive")
	}
	if cfg.Hunter.MonitorIntervalMs <= 0 {
		return fmt.Errorf("hunter.monitor_interval_ms must be positive")
	}

	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("strategies: %w", err)
	}
	if _, err := reg.Get(cfg.Hunter.ActiveStrategy); err != nil {
		return fmt.Errorf("hunter.active_strategy: %w", err)
	}
	return nil
}

// Registry builds the strategy registry from built-ins plus overrides.
func (cfg *Config) Registry() (*strategy.Registry, error) {
	overrides := make([]strategy.Policy, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		overrides = append(overrides, s.Policy())
	}
	return strategy.NewRegistry(overrides...)
}
