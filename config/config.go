// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cj1101/crowseye-metering/domain/billing"
	"github.com/cj1101/crowseye-metering/domain/meter"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Rates     RatesConfig     `yaml:"rates"`
	Authority RemoteConfig    `yaml:"authority"`
	Plans     PlansConfig     `yaml:"plans"`
	Reporter  ReporterConfig  `yaml:"reporter"`
	Payment   PaymentConfig   `yaml:"payment"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// RatesConfig configures per-meter unit prices and the billing threshold.
// All amounts are integer cents; a missing rate fails startup.
type RatesConfig struct {
	AICreditCents      *int64 `yaml:"ai_credit_cents"`
	ScheduledPostCents *int64 `yaml:"scheduled_post_cents"`
	StorageGBCents     *int64 `yaml:"storage_gb_cents"`
	ThresholdCents     int64  `yaml:"threshold_cents"`
}

// RemoteConfig configures a remote service endpoint.
type RemoteConfig struct {
	URL     string            `yaml:"url"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// PlansConfig configures the subscription lookup.
// Use "remote" for the plan service or "static" for a fixed test directory.
type PlansConfig struct {
	Mode   string       `yaml:"mode"` // "remote" or "static"
	Remote RemoteConfig `yaml:"remote,omitempty"`
}

// ReporterConfig configures remote usage reporting.
type ReporterConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	RetryInterval time.Duration `yaml:"retry_interval"` // redelivery worker cadence
}

// PaymentConfig configures the checkout/portal URL provider.
// Use "none" or "stripe".
type PaymentConfig struct {
	Mode      string `yaml:"mode"`
	StripeKey string `yaml:"stripe_key,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	CROWSEYE_AUTHORITY_URL     - Metering authority base URL (required)
//	CROWSEYE_DATABASE_DSN      - Database path (default: crowseye-metering.db)
//	CROWSEYE_SERVER_HOST       - Server host (default: 0.0.0.0)
//	CROWSEYE_SERVER_PORT       - Server port (default: 8090)
//	CROWSEYE_RATE_AI_CREDIT    - AI credit unit price in cents
//	CROWSEYE_RATE_POST         - Scheduled post unit price in cents
//	CROWSEYE_RATE_STORAGE      - Storage GB unit price in cents
//	CROWSEYE_THRESHOLD         - Minimum billing threshold in cents
//	CROWSEYE_LOG_LEVEL         - Log level (default: info)
//	CROWSEYE_LOG_FORMAT        - json or console (default: json)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("CROWSEYE_AUTHORITY_URL") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set CROWSEYE_AUTHORITY_URL")
}

// RateTable builds the immutable rate table from configuration.
// Missing rates were already rejected by validate, but the constructor
// re-checks so the table can never exist half-built.
func (c *Config) RateTable() (billing.RateTable, error) {
	rates := make(map[meter.Type]int64)
	if c.Rates.AICreditCents != nil {
		rates[meter.TypeAICredit] = *c.Rates.AICreditCents
	}
	if c.Rates.ScheduledPostCents != nil {
		rates[meter.TypeScheduledPost] = *c.Rates.ScheduledPostCents
	}
	if c.Rates.StorageGBCents != nil {
		rates[meter.TypeStorageGB] = *c.Rates.StorageGBCents
	}
	return billing.NewRateTable(rates, c.Rates.ThresholdCents)
}

// applyEnvOverrides applies CROWSEYE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CROWSEYE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CROWSEYE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("CROWSEYE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CROWSEYE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("CROWSEYE_AUTHORITY_URL"); v != "" {
		cfg.Authority.URL = v
	}
	if v := os.Getenv("CROWSEYE_AUTHORITY_API_KEY"); v != "" {
		cfg.Authority.APIKey = v
	}
	if v := os.Getenv("CROWSEYE_AUTHORITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Authority.Timeout = d
		}
	}

	if v := os.Getenv("CROWSEYE_PLANS_MODE"); v != "" {
		cfg.Plans.Mode = v
	}
	if v := os.Getenv("CROWSEYE_PLANS_URL"); v != "" {
		cfg.Plans.Remote.URL = v
	}

	if v := os.Getenv("CROWSEYE_RATE_AI_CREDIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Rates.AICreditCents = &n
		}
	}
	if v := os.Getenv("CROWSEYE_RATE_POST"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Rates.ScheduledPostCents = &n
		}
	}
	if v := os.Getenv("CROWSEYE_RATE_STORAGE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Rates.StorageGBCents = &n
		}
	}
	if v := os.Getenv("CROWSEYE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Rates.ThresholdCents = n
		}
	}

	if v := os.Getenv("CROWSEYE_PAYMENT_MODE"); v != "" {
		cfg.Payment.Mode = v
	}
	if v := os.Getenv("CROWSEYE_STRIPE_KEY"); v != "" {
		cfg.Payment.StripeKey = v
	}

	if v := os.Getenv("CROWSEYE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CROWSEYE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("CROWSEYE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "crowseye-metering.db"
	}

	if cfg.Authority.Timeout == 0 {
		cfg.Authority.Timeout = 10 * time.Second
	}

	if cfg.Plans.Mode == "" {
		cfg.Plans.Mode = "remote"
	}
	if cfg.Plans.Remote.Timeout == 0 {
		cfg.Plans.Remote.Timeout = 5 * time.Second
	}

	if cfg.Reporter.MaxAttempts == 0 {
		cfg.Reporter.MaxAttempts = 3
	}
	if cfg.Reporter.BaseBackoff == 0 {
		cfg.Reporter.BaseBackoff = 250 * time.Millisecond
	}
	if cfg.Reporter.RetryInterval == 0 {
		cfg.Reporter.RetryInterval = time.Minute
	}

	if cfg.Payment.Mode == "" {
		cfg.Payment.Mode = "none"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Authority.URL == "" {
		return fmt.Errorf("authority.url is required")
	}

	// A missing rate is a configuration error, not a runtime default.
	if cfg.Rates.AICreditCents == nil {
		return fmt.Errorf("rates.ai_credit_cents is required")
	}
	if cfg.Rates.ScheduledPostCents == nil {
		return fmt.Errorf("rates.scheduled_post_cents is required")
	}
	if cfg.Rates.StorageGBCents == nil {
		return fmt.Errorf("rates.storage_gb_cents is required")
	}
	if cfg.Rates.ThresholdCents < 0 {
		return fmt.Errorf("rates.threshold_cents must be >= 0")
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validPlanModes := map[string]bool{"remote": true, "static": true}
	if !validPlanModes[cfg.Plans.Mode] {
		return fmt.Errorf("plans.mode must be 'remote' or 'static', got %q", cfg.Plans.Mode)
	}
	if cfg.Plans.Mode == "remote" && cfg.Plans.Remote.URL == "" {
		return fmt.Errorf("plans.remote.url is required when plans.mode is 'remote'")
	}

	validPaymentModes := map[string]bool{"none": true, "stripe": true}
	if !validPaymentModes[cfg.Payment.Mode] {
		return fmt.Errorf("payment.mode must be 'none' or 'stripe', got %q", cfg.Payment.Mode)
	}
	if cfg.Payment.Mode == "stripe" && cfg.Payment.StripeKey == "" {
		return fmt.Errorf("payment.stripe_key is required when payment.mode is 'stripe'")
	}

	return nil
}
