package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Dispatcher.MaxBatchSize)
	assert.Equal(t, time.Hour, cfg.Registry.FallbackInterval)
	assert.False(t, cfg.Leader.Enabled)
	assert.True(t, cfg.DryRun.Enabled)
}

func TestLoadConfigWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/syncd.toml")
	assert.Error(t, err)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	content := `
[database]
dsn = "/var/lib/syncd/syncd.db"
max_open_conns = 10

[registry]
inbox_buffer_size = 64
fallback_interval = "30m0s"

[dispatcher]
max_batch_size = 20
max_concurrency = 2
inter_call_delay = "500ms"

[leader]
enabled = true
namespace = "sync"
lease_name = "syncd-leader"

[logging]
level = "debug"
format = "json"
`
	path := filepath.Join(t.TempDir(), "syncd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// Overridden values
	assert.Equal(t, "/var/lib/syncd/syncd.db", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 64, cfg.Registry.InboxBufferSize)
	assert.Equal(t, 30*time.Minute, cfg.Registry.FallbackInterval)
	assert.Equal(t, 20, cfg.Dispatcher.MaxBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatcher.InterCallDelay)
	assert.True(t, cfg.Leader.Enabled)
	assert.Equal(t, "sync", cfg.Leader.Namespace)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.Dispatcher.MaxRetries)
}

func TestLoadFromFileMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database\ndriver = "), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty driver", func(c *Config) { c.Database.Driver = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero inbox buffer", func(c *Config) { c.Registry.InboxBufferSize = 0 }},
		{"zero dispatch timeout", func(c *Config) { c.Registry.DispatchTimeout = 0 }},
		{"zero fallback", func(c *Config) { c.Registry.FallbackInterval = 0 }},
		{"zero batch size", func(c *Config) { c.Dispatcher.MaxBatchSize = 0 }},
		{"zero concurrency", func(c *Config) { c.Dispatcher.MaxConcurrency = 0 }},
		{"negative retries", func(c *Config) { c.Dispatcher.MaxRetries = -1 }},
		{"leader without lease name", func(c *Config) {
			c.Leader.Enabled = true
			c.Leader.LeaseName = ""
		}},
		{"leader lease shorter than renew", func(c *Config) {
			c.Leader.Enabled = true
			c.Leader.LeaseDuration = time.Second
			c.Leader.RenewDeadline = 2 * time.Second
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
