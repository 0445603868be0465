package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shopmesh/syncd/internal/db"
	"github.com/shopmesh/syncd/internal/leader"
	"github.com/shopmesh/syncd/internal/registry"
	"github.com/shopmesh/syncd/internal/syncjob"
)

// Config represents the application configuration
type Config struct {
	Database   db.Config       `toml:"database"`
	Registry   registry.Config `toml:"registry"`
	Dispatcher syncjob.Config  `toml:"dispatcher"`
	Leader     leader.Config   `toml:"leader"`
	DryRun     DryRunConfig    `toml:"dry_run"`
	Logging    LoggingConfig   `toml:"logging"`
}

// DryRunConfig controls the built-in no-op marketplace connector
type DryRunConfig struct {
	Enabled bool          `toml:"enabled"`
	Latency time.Duration `toml:"latency"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "syncd.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Registry:   registry.DefaultConfig(),
		Dispatcher: syncjob.DefaultConfig(),
		Leader:     leader.DefaultConfig(),
		DryRun: DryRunConfig{
			Enabled: true,
			Latency: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// If no config file specified, return defaults
	if configPath == "" {
		return config, nil
	}

	// Load from file if it exists
	fileConfig, err := LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return fileConfig, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" && c.Database.Driver != "mysql" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3, postgres, or mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Registry validation
	if c.Registry.InboxBufferSize <= 0 {
		return fmt.Errorf("registry inbox_buffer_size must be positive")
	}
	if c.Registry.InboxSendTimeout <= 0 {
		return fmt.Errorf("registry inbox_send_timeout must be positive")
	}
	if c.Registry.DispatchTimeout <= 0 {
		return fmt.Errorf("registry dispatch_timeout must be positive")
	}
	if c.Registry.FallbackInterval <= 0 {
		return fmt.Errorf("registry fallback_interval must be positive")
	}

	// Dispatcher validation
	if c.Dispatcher.MaxBatchSize <= 0 {
		return fmt.Errorf("dispatcher max_batch_size must be positive")
	}
	if c.Dispatcher.MaxConcurrency <= 0 {
		return fmt.Errorf("dispatcher max_concurrency must be positive")
	}
	if c.Dispatcher.StageTimeout <= 0 {
		return fmt.Errorf("dispatcher stage_timeout must be positive")
	}
	if c.Dispatcher.MaxRetries < 0 {
		return fmt.Errorf("dispatcher max_retries must not be negative")
	}
	if c.Dispatcher.WriterBuffer <= 0 {
		return fmt.Errorf("dispatcher writer_buffer must be positive")
	}

	// Leader election validation
	if c.Leader.Enabled {
		if c.Leader.LeaseName == "" {
			return fmt.Errorf("leader lease_name must be specified")
		}
		if c.Leader.Namespace == "" {
			return fmt.Errorf("leader namespace must be specified")
		}
		if c.Leader.LeaseDuration <= c.Leader.RenewDeadline {
			return fmt.Errorf("leader lease_duration must exceed renew_deadline")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
