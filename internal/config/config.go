package config

import "time"

// Config represents the complete application configuration.
// Values are layered: defaults set in the CLI, the user config file
// (~/.config/vmetrics/config.yaml), then VMETRICS_* environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Health   HealthConfig   `mapstructure:"health" yaml:"health"`
	Debug    DebugConfig    `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// CacheConfig selects and tunes the upstream response cache.
type CacheConfig struct {
	// Backend is one of memory, redis, libsql.
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RedisURL    string        `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// UpstreamConfig configures the RedTrack API and the fetch queue in front of it.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	MinInterval       time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown" yaml:"rate_limit_cooldown"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// StrictRateLimit surfaces a rate-limited error after the single retry
	// instead of an empty result.
	StrictRateLimit bool `mapstructure:"strict_rate_limit" yaml:"strict_rate_limit"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

// Redacted returns a copy with secrets masked, suitable for display.
func (c Config) Redacted() Config {
	if c.Upstream.APIKey != "" {
		c.Upstream.APIKey = "***"
	}
	if c.Store.AuthToken != "" {
		c.Store.AuthToken = "***"
	}
	if c.Cache.RedisURL != "" {
		c.Cache.RedisURL = RedactURL(c.Cache.RedisURL)
	}
	return c
}
