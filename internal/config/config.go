package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logger    Logger       `mapstructure:"logger"`
	Database  Database     `mapstructure:"database"`
	Server    Server       `mapstructure:"server"`
	Providers []Provider   `mapstructure:"providers" validate:"required,min=1,dive"`
	Keys      []Credential `mapstructure:"keys" validate:"dive"`
	Gateway   Gateway      `mapstructure:"gateway"`
	Cache     Cache        `mapstructure:"cache"`
	Scanner   Scanner      `mapstructure:"scanner"`
	Backtest  Backtest     `mapstructure:"backtest"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// Server holds the configuration for the HTTP API.
type Server struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Provider describes one entry of the ordered market-data provider chain.
type Provider struct {
	Name         string        `mapstructure:"name" validate:"required,oneof=binance coingecko alphavantage synthetic"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	QuotaLimited bool          `mapstructure:"quota_limited"`
	Retries      int           `mapstructure:"retries" validate:"gte=0,lte=5"`
}

// keyedProviders always authenticate with a quota-limited API key, whatever
// quota_limited says.
var keyedProviders = map[string]bool{"alphavantage": true}

// Limited reports whether calls to this provider draw on pooled credentials.
// Adapters and key validation both read it.
func (p Provider) Limited() bool {
	return p.QuotaLimited || keyedProviders[p.Name]
}

// Credential is a provider API key with its daily request quota.
type Credential struct {
	ID         string `mapstructure:"id" validate:"required"`
	Provider   string `mapstructure:"provider" validate:"required"`
	Secret     string `mapstructure:"secret"`
	DailyLimit int    `mapstructure:"daily_limit" validate:"gt=0"`
}

// Gateway holds request smoothing for outbound provider calls.
type Gateway struct {
	RateLimit      float64 `mapstructure:"rate_limit" validate:"gt=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gt=0"`
}

// Cache configures the quote cache.
type Cache struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory redis none"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" validate:"gte=0"`
	Redis      Redis         `mapstructure:"redis"`
}

// Redis holds the connection settings for the redis cache backend.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Scanner holds the configuration for the alert scanner.
type Scanner struct {
	Cooldown          time.Duration       `mapstructure:"cooldown" validate:"gte=0"`
	Interval          time.Duration       `mapstructure:"interval" validate:"gt=0"`
	InterRequestDelay time.Duration       `mapstructure:"inter_request_delay" validate:"gte=0"`
	AlertThreshold    float64             `mapstructure:"alert_threshold" validate:"gte=0,lte=1"`
	DedupePolicy      string              `mapstructure:"dedupe_policy" validate:"oneof=leave refresh"`
	HistoryDays       int                 `mapstructure:"history_days" validate:"gte=0"`
	Universe          map[string][]string `mapstructure:"universe"`
}

// Backtest holds the knobs left open by the replay model.
type Backtest struct {
	PeriodsPerYear float64 `mapstructure:"periods_per_year" validate:"gt=0"`
	InitialEquity  float64 `mapstructure:"initial_equity" validate:"gt=0"`
	PositionSizing string  `mapstructure:"position_sizing" validate:"oneof=whole"`
}

var validate = validator.New()

// SetDefaults registers the default value of every tunable on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("database.dsn", "signals.db")
	v.SetDefault("server.port", 8080)

	v.SetDefault("gateway.rate_limit", 10) // requests per second, ~100ms spacing
	v.SetDefault("gateway.rate_limit_burst", 1)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.max_entries", 1000)

	v.SetDefault("scanner.cooldown", 5*time.Minute)
	v.SetDefault("scanner.interval", 15*time.Minute)
	v.SetDefault("scanner.inter_request_delay", 100*time.Millisecond)
	v.SetDefault("scanner.alert_threshold", 0.65)
	v.SetDefault("scanner.dedupe_policy", "leave")
	v.SetDefault("scanner.history_days", 60)

	v.SetDefault("backtest.periods_per_year", 365)
	v.SetDefault("backtest.initial_equity", 10000)
	v.SetDefault("backtest.position_sizing", "whole")
}

// LoadConfig reads configuration from file or environment variables. Flags,
// when given, override both.
func LoadConfig(path string, flags *pflag.FlagSet) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if flags != nil {
		if err = v.BindPFlags(flags); err != nil {
			return
		}
	}

	if err = v.ReadInConfig(); err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate checks struct constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		providers[p.Name] = p.Limited()
	}
	seen := make(map[string]struct{}, len(c.Keys))
	for _, k := range c.Keys {
		if _, dup := seen[k.ID]; dup {
			return fmt.Errorf("invalid config: duplicate key id %q", k.ID)
		}
		seen[k.ID] = struct{}{}
		limited, ok := providers[k.Provider]
		if !ok {
			return fmt.Errorf("invalid config: key %q references unknown provider %q", k.ID, k.Provider)
		}
		if !limited {
			return fmt.Errorf("invalid config: key %q references provider %q which is not quota limited", k.ID, k.Provider)
		}
	}
	return nil
}
