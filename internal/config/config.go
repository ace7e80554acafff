package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pesacore/pesacore/internal/accounts"
)

// FileName is the config file written by "pesacore init".
const FileName = "pesacore.yaml"

// Store drivers.
const (
	DriverCSV      = "csv"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config represents the top-level pesacore.yaml configuration.
type Config struct {
	Ledger LedgerConfig `yaml:"ledger"`
	Store  StoreConfig  `yaml:"store"`
	HTTP   HTTPConfig   `yaml:"http"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
}

// LedgerConfig tunes the transaction engine.
type LedgerConfig struct {
	Currency       string        `yaml:"currency"` // default for new accounts
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// StoreConfig selects and locates the ledger store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int32  `yaml:"max_conns"`
}

// HTTPConfig controls "pesacore serve".
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // CORS; empty disables it
}

// RedisConfig enables Idempotency-Key handling. An empty Addr disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads a pesacore.yaml file from disk. Keys absent from the file keep
// their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new deployment.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Currency:       "KES",
			StoreTimeout:   5 * time.Second,
			MaxAttempts:    5,
			RetryBaseDelay: 5 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:   DriverCSV,
			DataDir:  "data",
			MaxConns: 10,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Redis: RedisConfig{
			IdempotencyTTL: 24 * time.Hour,
			LockTimeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Environment variables that override file settings.
const (
	EnvDatabaseURL = "PESACORE_DATABASE_URL"
	EnvRedisAddr   = "PESACORE_REDIS_ADDR"
	EnvHTTPAddr    = "PESACORE_HTTP_ADDR"
	EnvLogLevel    = "PESACORE_LOG_LEVEL"
)

// ApplyEnv overrides settings from the environment. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabaseURL); ok {
		c.Store.DatabaseURL = v
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup(EnvHTTPAddr); ok {
		c.HTTP.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if !accounts.ValidCurrency(c.Ledger.Currency) {
		errs = append(errs, fmt.Errorf("ledger.currency %q is not a 3-letter code", c.Ledger.Currency))
	}
	if c.Ledger.StoreTimeout <= 0 {
		errs = append(errs, errors.New("ledger.store_timeout must be positive"))
	}
	if c.Ledger.MaxAttempts <= 0 {
		errs = append(errs, errors.New("ledger.max_attempts must be positive"))
	}
	if c.Ledger.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("ledger.retry_base_delay must not be negative"))
	}

	switch c.Store.Driver {
	case DriverCSV:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir is required for the csv driver"))
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of csv, memory, postgres", c.Store.Driver))
	}

	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	if c.Redis.Addr != "" && (c.Redis.IdempotencyTTL <= 0 || c.Redis.LockTimeout <= 0) {
		errs = append(errs, errors.New("redis.idempotency_ttl and redis.lock_timeout must be positive"))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}
