package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

// TestGetEnvHelpers tests the environment helper functions
func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")

	assert.Equal(t, "custom", getEnv("TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("TEST_STR_UNSET", "default"))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("TEST_BOOL_UNSET", true))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION_UNSET", time.Second))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, "lru", cfg.StatsCache.Type)
	assert.Equal(t, 0.15, cfg.Analytics.DailyCompletionRate)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "changelog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: "8181"
  request_timeout: 5s
storage:
  type: postgres
  postgres_url: postgres://file/db
retention:
  days: 30
  schedule: "@daily"
stats_cache:
  type: redis
  redis_addr: localhost:6379
  ttl: 2m
`)

	t.Setenv("CHANGELOG_RETENTION_DAYS", "14")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "postgres://file/db", cfg.Storage.PostgresURL)
	assert.Equal(t, 14, cfg.Retention.Days, "environment wins over file")
	assert.Equal(t, "@daily", cfg.Retention.Schedule)
	assert.Equal(t, 2*time.Minute, cfg.StatsCache.TTL)

	// Untouched sections keep defaults
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 10*time.Second, cfg.Analytics.QueryTimeout)
}

func TestLoadConfig_UsesFileEnvVar(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "retention:\n  days: 7\n")
	t.Setenv(FileEnvVar, path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retention.Days)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, t.TempDir(), "server: [not, a, map")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"negative concurrency", func(c *Config) { c.Server.MaxConcurrentRequests = -1 }, "must not be negative"},
		{"bad storage", func(c *Config) { c.Storage.Type = "mongo" }, "invalid storage type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = "postgres" }, "postgres URL is required"},
		{"zero retention", func(c *Config) { c.Retention.Days = 0 }, "retention days must be at least 1"},
		{"bad schedule", func(c *Config) { c.Retention.Schedule = "every tuesday" }, "invalid retention schedule"},
		{"disabled retention skips schedule", func(c *Config) {
			c.Retention.Enabled = false
			c.Retention.Schedule = "nonsense"
		}, ""},
		{"archive without bucket", func(c *Config) { c.Retention.ArchiveEnabled = true }, "archive bucket is required"},
		{"bad cache", func(c *Config) { c.StatsCache.Type = "memcached" }, "invalid stats cache type"},
		{"redis without addr", func(c *Config) { c.StatsCache.Type = "redis" }, "redis address is required"},
		{"cache without ttl", func(c *Config) { c.StatsCache.TTL = 0 }, "TTL must be positive"},
		{"no cache needs no ttl", func(c *Config) {
			c.StatsCache.Type = "none"
			c.StatsCache.TTL = 0
		}, ""},
		{"postgres retention with lru", func(c *Config) {
			c.Storage.Type = "postgres"
			c.Storage.PostgresURL = "postgres://localhost/changelog"
		}, "lru stats cache cannot be used with postgres storage"},
		{"postgres retention with redis", func(c *Config) {
			c.Storage.Type = "postgres"
			c.Storage.PostgresURL = "postgres://localhost/changelog"
			c.StatsCache.Type = "redis"
			c.StatsCache.RedisAddr = "localhost:6379"
		}, ""},
		{"postgres lru without retention", func(c *Config) {
			c.Storage.Type = "postgres"
			c.Storage.PostgresURL = "postgres://localhost/changelog"
			c.Retention.Enabled = false
		}, ""},
		{"bad rate", func(c *Config) { c.Analytics.DailyCompletionRate = 0 }, "daily completion rate"},
		{"bad query timeout", func(c *Config) { c.Analytics.QueryTimeout = 0 }, "query timeout must be positive"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "OpenTelemetry endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestObservabilityConfig_OTel(t *testing.T) {
	cfg := Default()
	cfg.Observability.OTelEnabled = true
	otel := cfg.Observability.OTel()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "task-changelog", otel.ServiceName)
	assert.Equal(t, 1.0, otel.SampleRatio)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "retention:\n  days: 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, observability.NewNopLogger(), func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	// Invalid content is skipped
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  days: 0\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  days: 45\n"), 0o600))

	// A write may surface as several events; wait for the final content
	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case cfg := <-changes:
			assert.NotZero(t, cfg.Retention.Days)
			seen = cfg.Retention.Days == 45
		case <-deadline:
			t.Fatal("no configuration change observed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
