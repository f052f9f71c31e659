// Package config defines all configuration for the swing engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via SWING_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Venue      VenueConfig      `mapstructure:"venue"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Swing      SwingConfig      `mapstructure:"swing"`
	Depth      DepthConfig      `mapstructure:"depth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// VenueConfig selects and configures which exchange adapter backs the
// engine. Kind is "binancefutures" or "onchainperp".
type VenueConfig struct {
	Kind        string `mapstructure:"kind"`
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSBaseURL   string `mapstructure:"ws_base_url"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
}

// WalletConfig holds the wallet used by the onchainperp adapter to sign
// EIP-712 orders.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	FunderAddress string `mapstructure:"funder_address"`
	SignatureType int    `mapstructure:"signature_type"`
	ChainID       int    `mapstructure:"chain_id"`
}

// SwingConfig tunes the swing strategy itself (§6 recognized options).
type SwingConfig struct {
	Symbol              string        `mapstructure:"symbol"`
	Direction           string        `mapstructure:"direction"`
	TradeAmount         float64       `mapstructure:"trade_amount"`
	PollIntervalMs      int           `mapstructure:"poll_interval_ms"`
	RSIPeriod           int           `mapstructure:"rsi_period"`
	RSIHigh             float64       `mapstructure:"rsi_high"`
	RSILow              float64       `mapstructure:"rsi_low"`
	SignalSymbol        string        `mapstructure:"signal_symbol"`
	SignalInterval      string        `mapstructure:"signal_interval"`
	StopLossPct         float64       `mapstructure:"stop_loss_pct"`
	MaxCloseSlippagePct float64       `mapstructure:"max_close_slippage_pct"`
	PriceTick           float64       `mapstructure:"price_tick"`
	QtyStep             float64       `mapstructure:"qty_step"`
	MaxLogEntries       int           `mapstructure:"max_log_entries"`
	StopDebounceWindow  time.Duration `mapstructure:"stop_debounce_window"`
	KillSwitchCooldown  time.Duration `mapstructure:"kill_switch_cooldown"`
}

// DepthConfig configures the depth tracker (§6).
type DepthConfig struct {
	SpeedMs       int     `mapstructure:"speed_ms"`
	Ratio         float64 `mapstructure:"ratio"`
	WindowBps     float64 `mapstructure:"depth_window_bps"`
	RefreshSyncMs int     `mapstructure:"refresh_sync_ms"`
}

// RateLimitConfig bounds the cycle-level backoff controller (§4.3/4.7).
type RateLimitConfig struct {
	InitialPause time.Duration `mapstructure:"initial_pause"`
	Ceiling      time.Duration `mapstructure:"ceiling"`
}

// InstrumentConfig configures the precision/trading-status poller (§4.8).
type InstrumentConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AuditConfig configures the trade-log JSONL sink (§4.10).
type AuditConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// PersistenceConfig configures the swing-state restart durability store.
type PersistenceConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the observer HTTP/WS server (§4.11).
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: SWING_API_KEY, SWING_API_SECRET,
// SWING_PRIVATE_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SWING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("SWING_API_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}
	if secret := os.Getenv("SWING_API_SECRET"); secret != "" {
		cfg.Venue.APISecret = secret
	}
	if key := os.Getenv("SWING_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if os.Getenv("SWING_DRY_RUN") == "true" || os.Getenv("SWING_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Swing.Direction == "" {
		c.Swing.Direction = "short"
	}
	if c.Swing.PollIntervalMs == 0 {
		c.Swing.PollIntervalMs = 500
	}
	if c.Swing.RSIPeriod == 0 {
		c.Swing.RSIPeriod = 14
	}
	if c.Swing.RSIHigh == 0 {
		c.Swing.RSIHigh = 70
	}
	if c.Swing.RSILow == 0 {
		c.Swing.RSILow = 30
	}
	if c.Swing.SignalSymbol == "" {
		c.Swing.SignalSymbol = "ETHBTC"
	}
	if c.Swing.SignalInterval == "" {
		c.Swing.SignalInterval = "4h"
	}
	if c.Swing.StopLossPct == 0 {
		c.Swing.StopLossPct = 0.05
	}
	if c.Swing.MaxCloseSlippagePct == 0 {
		c.Swing.MaxCloseSlippagePct = 0.05
	}
	if c.Swing.StopDebounceWindow == 0 {
		c.Swing.StopDebounceWindow = 5 * time.Second
	}
	if c.Swing.KillSwitchCooldown == 0 {
		c.Swing.KillSwitchCooldown = 10 * time.Second
	}
	if c.Persistence.DataDir == "" {
		c.Persistence.DataDir = "./data/state"
	}
	if c.Depth.SpeedMs == 0 {
		c.Depth.SpeedMs = 100
	}
	if c.Depth.Ratio == 0 {
		c.Depth.Ratio = 2
	}
	if c.Depth.WindowBps == 0 {
		c.Depth.WindowBps = 9
	}
	if c.Depth.RefreshSyncMs == 0 {
		c.Depth.RefreshSyncMs = 30000
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Swing.Symbol == "" {
		return fmt.Errorf("swing.symbol is required")
	}
	switch c.Swing.Direction {
	case "long", "short", "both":
	default:
		return fmt.Errorf("swing.direction must be one of: long, short, both")
	}
	if c.Swing.TradeAmount <= 0 {
		return fmt.Errorf("swing.trade_amount must be > 0")
	}
	if c.Swing.RSIHigh <= c.Swing.RSILow {
		return fmt.Errorf("swing.rsi_high must be greater than swing.rsi_low")
	}
	if c.Venue.Kind == "" {
		return fmt.Errorf("venue.kind is required (binancefutures or onchainperp)")
	}
	switch c.Venue.Kind {
	case "binancefutures":
		if c.Venue.APIKey == "" && !c.DryRun {
			return fmt.Errorf("venue.api_key is required (set SWING_API_KEY) unless dry_run")
		}
	case "onchainperp":
		if c.Wallet.PrivateKey == "" && !c.DryRun {
			return fmt.Errorf("wallet.private_key is required (set SWING_PRIVATE_KEY) unless dry_run")
		}
	default:
		return fmt.Errorf("venue.kind must be one of: binancefutures, onchainperp")
	}
	if c.Venue.RESTBaseURL == "" {
		return fmt.Errorf("venue.rest_base_url is required")
	}
	return nil
}
