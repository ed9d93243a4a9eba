// Package common provides shared utilities for Tally
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Tally
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Clients     ClientsConfig    `toml:"clients"`
	Ledger      LedgerConfig     `toml:"ledger"`
	JobManager  JobManagerConfig `toml:"jobmanager"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend   string `toml:"backend"` // "surrealdb" or "memory"
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Exchange ExchangeConfig `toml:"exchange"`
}

// ExchangeConfig holds exchange API configuration
type ExchangeConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *ExchangeConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

// LedgerConfig holds the cost-basis engine tolerances and defaults.
type LedgerConfig struct {
	AbsTolerance          float64  `toml:"abs_tolerance"`
	RelTolerance          float64  `toml:"rel_tolerance"`
	ValuationAbsTolerance float64  `toml:"valuation_abs_tolerance"`
	ValuationRelTolerance float64  `toml:"valuation_rel_tolerance"`
	CashSymbols           []string `toml:"cash_symbols"`
	DefaultMode           string   `toml:"default_mode"`
	SnapshotEpsilon       float64  `toml:"snapshot_epsilon"`
}

// JobManagerConfig holds job queue processing configuration
type JobManagerConfig struct {
	Enabled            bool   `toml:"enabled"`
	MaxConcurrent      int    `toml:"max_concurrent"`
	LeaseDuration      string `toml:"lease_duration"`
	HeartbeatInterval  string `toml:"heartbeat_interval"`
	StaleCheckInterval string `toml:"stale_check_interval"`
	PollInterval       string `toml:"poll_interval"`
	MaxRetries         int    `toml:"max_retries"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
	PurgeAfter         string `toml:"purge_after"`
}

// GetLeaseDuration returns how long a claimed job stays owned without a heartbeat.
func (c *JobManagerConfig) GetLeaseDuration() time.Duration {
	return parseDurationOr(c.LeaseDuration, 2*time.Minute)
}

// GetHeartbeatInterval returns the lease renewal interval for running jobs.
func (c *JobManagerConfig) GetHeartbeatInterval() time.Duration {
	return parseDurationOr(c.HeartbeatInterval, 30*time.Second)
}

// GetStaleCheckInterval returns how often expired leases are recovered.
func (c *JobManagerConfig) GetStaleCheckInterval() time.Duration {
	return parseDurationOr(c.StaleCheckInterval, time.Minute)
}

// GetPollInterval returns the idle sleep between empty dequeues.
func (c *JobManagerConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, time.Second)
}

// GetMaxRetries returns the max attempts for a job, defaulting to 3.
func (c *JobManagerConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// GetBackoffInitial returns the first retry delay.
func (c *JobManagerConfig) GetBackoffInitial() time.Duration {
	return parseDurationOr(c.BackoffInitial, 10*time.Second)
}

// GetBackoffMax returns the retry delay ceiling.
func (c *JobManagerConfig) GetBackoffMax() time.Duration {
	return parseDurationOr(c.BackoffMax, 10*time.Minute)
}

// GetPurgeAfter returns how long finished jobs are kept.
func (c *JobManagerConfig) GetPurgeAfter() time.Duration {
	return parseDurationOr(c.PurgeAfter, 24*time.Hour)
}

// SchedulerConfig holds periodic sync configuration
type SchedulerConfig struct {
	SyncSchedule string `toml:"sync_schedule"` // cron spec, e.g. "@every 15m"; empty disables
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:   "surrealdb",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "tally",
			Database:  "tally",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			Exchange: ExchangeConfig{
				BaseURL:   "http://localhost:9000",
				RateLimit: 5,
				Timeout:   "30s",
			},
		},
		Ledger: LedgerConfig{
			AbsTolerance:          1e-6,
			RelTolerance:          0.01,
			ValuationAbsTolerance: 0.01,
			ValuationRelTolerance: 0.0025,
			CashSymbols:           []string{"USD", "USDT", "USDC"},
			DefaultMode:           "HONOR_RESETS",
			SnapshotEpsilon:       1e-12,
		},
		JobManager: JobManagerConfig{
			Enabled:            true,
			MaxConcurrent:      2,
			LeaseDuration:      "2m",
			HeartbeatInterval:  "30s",
			StaleCheckInterval: "1m",
			PollInterval:       "1s",
			MaxRetries:         5,
			BackoffInitial:     "10s",
			BackoffMax:         "10m",
			PurgeAfter:         "24h",
		},
		Scheduler: SchedulerConfig{
			SyncSchedule: "@every 15m",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Outputs:  []string{"console"},
			FilePath: "./logs/tally.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("TALLY_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("TALLY_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("TALLY_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("TALLY_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	// Exchange credentials
	if v := os.Getenv("TALLY_EXCHANGE_BASE_URL"); v != "" {
		config.Clients.Exchange.BaseURL = v
	}
	if v := os.Getenv("TALLY_EXCHANGE_API_KEY"); v != "" {
		config.Clients.Exchange.APIKey = v
	}
	if v := os.Getenv("TALLY_EXCHANGE_API_SECRET"); v != "" {
		config.Clients.Exchange.APISecret = v
	}

	if v := os.Getenv("TALLY_LEDGER_MODE"); v != "" {
		config.Ledger.DefaultMode = strings.ToUpper(v)
	}
	if v := os.Getenv("TALLY_SYNC_SCHEDULE"); v != "" {
		config.Scheduler.SyncSchedule = v
	}
}

// validateConfig rejects values the rest of the system cannot run with.
func validateConfig(config *Config) error {
	switch config.Storage.Backend {
	case "surrealdb", "memory":
	default:
		return fmt.Errorf("invalid storage backend %q; must be surrealdb or memory", config.Storage.Backend)
	}

	switch config.Ledger.DefaultMode {
	case "PURE", "HONOR_RESETS":
	default:
		return fmt.Errorf("invalid ledger default_mode %q; must be PURE or HONOR_RESETS", config.Ledger.DefaultMode)
	}

	if config.Ledger.AbsTolerance < 0 || config.Ledger.RelTolerance < 0 {
		return fmt.Errorf("ledger tolerances must not be negative")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
