package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

// FileEnvVar names the optional YAML configuration file
const FileEnvVar = "CHANGELOG_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Retention     RetentionConfig     `yaml:"retention"`
	StatsCache    StatsCacheConfig    `yaml:"stats_cache"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	// Requests beyond this many wait for a slot; 0 disables the limit
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// StorageConfig selects and configures the audit store
type StorageConfig struct {
	Type        string        `yaml:"type"` // memory or postgres
	PostgresURL string        `yaml:"postgres_url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// RetentionConfig controls the purge job
type RetentionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Days       int           `yaml:"days"`
	Schedule   string        `yaml:"schedule"`
	RunTimeout time.Duration `yaml:"run_timeout"`

	// Archive purged entries to S3 before deleting them
	ArchiveEnabled      bool   `yaml:"archive_enabled"`
	ArchiveBucket       string `yaml:"archive_bucket"`
	ArchivePrefix       string `yaml:"archive_prefix"`
	ArchiveRegion       string `yaml:"archive_region"`
	ArchiveEndpoint     string `yaml:"archive_endpoint"`
	ArchiveAccessKey    string `yaml:"archive_access_key"`
	ArchiveSecretKey    string `yaml:"archive_secret_key"`
	ArchiveUsePathStyle bool   `yaml:"archive_use_path_style"`
	ArchiveChunkSize    int    `yaml:"archive_chunk_size"`
}

// StatsCacheConfig selects the stats cache backend
type StatsCacheConfig struct {
	Type          string        `yaml:"type"` // none, lru or redis
	Size          int           `yaml:"size"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// AnalyticsConfig bounds analytics queries
type AnalyticsConfig struct {
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Assumed fraction of active tasks completed per day, used by the forecast
	DailyCompletionRate float64 `yaml:"daily_completion_rate"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  "8080",
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
			IdleTimeout:           60 * time.Second,
			ShutdownTimeout:       30 * time.Second,
			RequestTimeout:        30 * time.Second,
			MaxConcurrentRequests: 256,
			HealthPort:            "9090",
		},
		Storage: StorageConfig{
			Type:        "memory",
			MaxConns:    20,
			MinConns:    2,
			Timeout:     5 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		},
		Retention: RetentionConfig{
			Enabled:          true,
			Days:             90,
			Schedule:         "0 3 * * *",
			RunTimeout:       30 * time.Minute,
			ArchivePrefix:    "changelog-archive/",
			ArchiveRegion:    "us-east-1",
			ArchiveChunkSize: 5000,
		},
		StatsCache: StatsCacheConfig{
			Type: "lru",
			Size: 4096,
			TTL:  5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			QueryTimeout:        10 * time.Second,
			DailyCompletionRate: 0.15,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "task-changelog",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads configuration from the file named by CHANGELOG_CONFIG_FILE,
// if any, and then from environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnvVar))
}

// Load builds a configuration from defaults, the YAML file at path (when not
// empty) and environment variables, in increasing precedence
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables; unset variables keep the current value
func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("CHANGELOG_HOST", s.Host)
	s.Port = getEnv("CHANGELOG_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("CHANGELOG_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("CHANGELOG_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("CHANGELOG_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("CHANGELOG_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RequestTimeout = getEnvDuration("CHANGELOG_REQUEST_TIMEOUT", s.RequestTimeout)
	s.MaxConcurrentRequests = getEnvInt("CHANGELOG_MAX_CONCURRENT_REQUESTS", s.MaxConcurrentRequests)
	s.HealthPort = getEnv("CHANGELOG_HEALTH_PORT", s.HealthPort)

	st := &cfg.Storage
	st.Type = getEnv("CHANGELOG_STORAGE_TYPE", st.Type)
	st.PostgresURL = getEnv("CHANGELOG_POSTGRES_URL", st.PostgresURL)
	st.MaxConns = getEnvInt("CHANGELOG_POSTGRES_MAX_CONNS", st.MaxConns)
	st.MinConns = getEnvInt("CHANGELOG_POSTGRES_MIN_CONNS", st.MinConns)
	st.Timeout = getEnvDuration("CHANGELOG_POSTGRES_TIMEOUT", st.Timeout)
	st.MaxLifetime = getEnvDuration("CHANGELOG_POSTGRES_MAX_LIFETIME", st.MaxLifetime)
	st.MaxIdleTime = getEnvDuration("CHANGELOG_POSTGRES_MAX_IDLE_TIME", st.MaxIdleTime)

	r := &cfg.Retention
	r.Enabled = getEnvBool("CHANGELOG_RETENTION_ENABLED", r.Enabled)
	r.Days = getEnvInt("CHANGELOG_RETENTION_DAYS", r.Days)
	r.Schedule = getEnv("CHANGELOG_RETENTION_SCHEDULE", r.Schedule)
	r.RunTimeout = getEnvDuration("CHANGELOG_RETENTION_RUN_TIMEOUT", r.RunTimeout)
	r.ArchiveEnabled = getEnvBool("CHANGELOG_ARCHIVE_ENABLED", r.ArchiveEnabled)
	r.ArchiveBucket = getEnv("CHANGELOG_ARCHIVE_BUCKET", r.ArchiveBucket)
	r.ArchivePrefix = getEnv("CHANGELOG_ARCHIVE_PREFIX", r.ArchivePrefix)
	r.ArchiveRegion = getEnv("CHANGELOG_ARCHIVE_REGION", r.ArchiveRegion)
	r.ArchiveEndpoint = getEnv("CHANGELOG_ARCHIVE_ENDPOINT", r.ArchiveEndpoint)
	r.ArchiveAccessKey = getEnv("CHANGELOG_ARCHIVE_ACCESS_KEY", r.ArchiveAccessKey)
	r.ArchiveSecretKey = getEnv("CHANGELOG_ARCHIVE_SECRET_KEY", r.ArchiveSecretKey)
	r.ArchiveUsePathStyle = getEnvBool("CHANGELOG_ARCHIVE_USE_PATH_STYLE", r.ArchiveUsePathStyle)
	r.ArchiveChunkSize = getEnvInt("CHANGELOG_ARCHIVE_CHUNK_SIZE", r.ArchiveChunkSize)

	c := &cfg.StatsCache
	c.Type = getEnv("CHANGELOG_STATS_CACHE", c.Type)
	c.Size = getEnvInt("CHANGELOG_STATS_CACHE_SIZE", c.Size)
	c.TTL = getEnvDuration("CHANGELOG_STATS_CACHE_TTL", c.TTL)
	c.RedisAddr = getEnv("CHANGELOG_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("CHANGELOG_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("CHANGELOG_REDIS_DB", c.RedisDB)

	a := &cfg.Analytics
	a.QueryTimeout = getEnvDuration("CHANGELOG_ANALYTICS_QUERY_TIMEOUT", a.QueryTimeout)
	a.DailyCompletionRate = getEnvFloat("CHANGELOG_DAILY_COMPLETION_RATE", a.DailyCompletionRate)

	o := &cfg.Observability
	o.LogLevel = getEnv("CHANGELOG_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("CHANGELOG_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("CHANGELOG_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("CHANGELOG_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("CHANGELOG_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("CHANGELOG_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("CHANGELOG_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("CHANGELOG_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Server
	if c.Server.Port == "" {
		errs = append(errs, fmt.Errorf("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, fmt.Errorf("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, fmt.Errorf("server port and health port must be different"))
	}
	if c.Server.MaxConcurrentRequests < 0 {
		errs = append(errs, fmt.Errorf("max concurrent requests must not be negative"))
	}

	// Storage
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, fmt.Errorf("postgres URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type))
	}

	// Retention
	if c.Retention.Days < 1 {
		errs = append(errs, fmt.Errorf("retention days must be at least 1, got %d", c.Retention.Days))
	}
	if c.Retention.Enabled {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid retention schedule %q: %w", c.Retention.Schedule, err))
		}
	}
	if c.Retention.ArchiveEnabled && c.Retention.ArchiveBucket == "" {
		errs = append(errs, fmt.Errorf("archive bucket is required when archiving is enabled"))
	}

	// Stats cache
	switch c.StatsCache.Type {
	case "none":
	case "lru", "redis":
		if c.StatsCache.TTL <= 0 {
			errs = append(errs, fmt.Errorf("stats cache TTL must be positive"))
		}
		if c.StatsCache.Type == "redis" && c.StatsCache.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("redis address is required for the redis stats cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid stats cache type: %s (must be none, lru, or redis)", c.StatsCache.Type))
	}
	// Purges of a postgres log run in the retention worker, which cannot
	// reach the server's in-process LRU
	if c.Storage.Type == "postgres" && c.Retention.Enabled && c.StatsCache.Type == "lru" {
		errs = append(errs, fmt.Errorf("lru stats cache cannot be used with postgres storage and retention enabled (use redis or none)"))
	}

	// Analytics
	if c.Analytics.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("analytics query timeout must be positive"))
	}
	if c.Analytics.DailyCompletionRate <= 0 || c.Analytics.DailyCompletionRate > 1 {
		errs = append(errs, fmt.Errorf("daily completion rate must be in (0, 1], got %v", c.Analytics.DailyCompletionRate))
	}

	// OpenTelemetry
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
