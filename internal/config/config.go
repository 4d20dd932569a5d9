// Package config loads process-wide configuration, read once at startup,
// via spf13/viper bound to FLOWSENSE_-prefixed environment variables —
// an upgrade of cmd/trader/main.go's loadConfig/parseFloatEnv helpers to a
// single typed, validated struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ReconnectConfig controls the feed client's backoff policy.
type ReconnectConfig struct {
	InitialDelayMs int `mapstructure:"initialDelayMs"`
	MaxAttempts    int `mapstructure:"maxAttempts"`
}

// SubscriptionEntry seeds the feed client's initial subscription set.
type SubscriptionEntry struct {
	Segment    string `mapstructure:"segment"`
	SecurityID string `mapstructure:"securityId"`
}

// Config is the complete process configuration (spec.md §6).
type Config struct {
	FeedEndpoint string `mapstructure:"feedEndpoint"`
	FeedToken    string `mapstructure:"feedToken"`
	ClientID     string `mapstructure:"clientId"`

	SubscriptionSet []SubscriptionEntry `mapstructure:"subscriptionSet"`
	CandleIntervals []string            `mapstructure:"candleIntervals"`

	TotalCapital    float64 `mapstructure:"totalCapital"`
	MaxDailyLossPct float64 `mapstructure:"maxDailyLossPct"`
	RiskPct         float64 `mapstructure:"riskPct"`
	StopLossPct     float64 `mapstructure:"stopLossPct"`
	TargetPct       float64 `mapstructure:"targetPct"`
	LotSize         int     `mapstructure:"lotSize"`

	MarketOpen    string `mapstructure:"marketOpen"`
	MarketClose   string `mapstructure:"marketClose"`
	EODSquareOff  string `mapstructure:"eodSquareOff"`
	DailyResetAt  string `mapstructure:"dailyResetAt"`
	Timezone      string `mapstructure:"timezone"`

	Reconnect            ReconnectConfig `mapstructure:"reconnect"`
	KeepaliveIntervalSec int             `mapstructure:"keepaliveIntervalSec"`

	// Ambient: persistence and hub wiring, not named individually in
	// spec.md's table but required to run the process.
	PostgresDSN     string `mapstructure:"postgresDsn"`
	RedisAddr       string `mapstructure:"redisAddr"`
	HubListenAddr   string `mapstructure:"hubListenAddr"`
	HubJWTSecret    string `mapstructure:"hubJwtSecret"`
	OptionChainURL  string `mapstructure:"optionChainUrl"`
	OptionChainEnabled bool `mapstructure:"optionChainEnabled"`

	ShutdownTimeoutSec int `mapstructure:"shutdownTimeoutSec"`
}

// Location resolves the configured exchange timezone, falling back to the
// fixed IST offset used throughout spec.md if the name can't be loaded.
func (c *Config) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("IST", 5*3600+30*60)
}

// Load reads configuration from optional YAML file plus
// FLOWSENSE_-prefixed environment variables, env taking precedence, and
// validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOWSENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about; keys with no
	// default must be bound explicitly for their env var to be read.
	for _, key := range []string{"feedToken", "clientId", "postgresDsn", "redisAddr", "hubJwtSecret", "optionChainUrl"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feedEndpoint", "wss://feed.vendor.example/marketfeed")
	v.SetDefault("subscriptionSet", []map[string]string{{"segment": "IDX_I", "securityId": "13"}})
	v.SetDefault("candleIntervals", []string{"1m", "5m"})

	v.SetDefault("totalCapital", 20000.0)
	v.SetDefault("maxDailyLossPct", 0.03)
	v.SetDefault("riskPct", 0.01)
	v.SetDefault("stopLossPct", 0.01)
	v.SetDefault("targetPct", 0.03)
	v.SetDefault("lotSize", 75)

	v.SetDefault("marketOpen", "09:15")
	v.SetDefault("marketClose", "15:30")
	v.SetDefault("eodSquareOff", "15:20")
	v.SetDefault("dailyResetAt", "09:00")
	v.SetDefault("timezone", "Asia/Kolkata")

	v.SetDefault("reconnect.initialDelayMs", 5000)
	v.SetDefault("reconnect.maxAttempts", 5)
	v.SetDefault("keepaliveIntervalSec", 30)

	v.SetDefault("hubListenAddr", ":8088")
	v.SetDefault("optionChainEnabled", false)
	v.SetDefault("shutdownTimeoutSec", 5)
}

// Validate rejects configuration errors at startup (exit code 1 per
// spec.md §6 CLI contract).
func (c *Config) Validate() error {
	if c.FeedEndpoint == "" {
		return fmt.Errorf("feedEndpoint is required")
	}
	if c.TotalCapital <= 0 {
		return fmt.Errorf("totalCapital must be positive")
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lotSize must be positive")
	}
	if c.RiskPct <= 0 || c.RiskPct >= 1 {
		return fmt.Errorf("riskPct must be in (0,1)")
	}
	if len(c.CandleIntervals) == 0 {
		return fmt.Errorf("candleIntervals must not be empty")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.maxAttempts must be positive")
	}
	return nil
}
