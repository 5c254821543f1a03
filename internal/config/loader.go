// Package config provides centralized configuration management for VMetrics.
// It layers configuration in this order:
// Layer 1: built-in defaults (ApplyDefaults)
// Layer 2: user config file (discovered via app identity, or set explicitly)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/vmetrics/vmetrics/internal/appid"
)

const (
	defaultAppName   = "vmetrics"
	defaultEnvPrefix = "VMETRICS_"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	configFile  string
	appIdentity *appidentity.Identity
)

// SetConfigFile pins the user config file instead of discovering it.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// ApplyDefaults registers the built-in defaults on v.
func ApplyDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_prefix", "vmetrics:upstream:")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://api.redtrack.io")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.min_interval", "5s")
	v.SetDefault("upstream.rate_limit_cooldown", "10s")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.strict_rate_limit", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// Load builds the configuration from defaults, the user config file,
// environment variables and runtimeOverrides (applied last, in order).
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		if identity, err := appid.Get(ctx); err == nil {
			appIdentity = identity
		}
	}

	v := viper.New()
	ApplyDefaults(v)

	prefix := EnvPrefix()
	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases(prefix) {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, overrides := range runtimeOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to apply runtime overrides: %w", err)
		}
	}

	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Decode converts a nested settings map into a typed Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the fetch queue cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Upstream.MinInterval < 0 {
		return fmt.Errorf("upstream.min_interval must not be negative: %s", c.Upstream.MinInterval)
	}
	if c.Upstream.RateLimitCooldown < 0 {
		return fmt.Errorf("upstream.rate_limit_cooldown must not be negative: %s", c.Upstream.RateLimitCooldown)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative: %s", c.Cache.TTL)
	}
	if base := strings.TrimSpace(c.Upstream.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("upstream.base_url must be an absolute URL: %q", base)
		}
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// EnvPrefix returns the environment variable prefix, always ending in "_".
func EnvPrefix() string {
	prefix := defaultEnvPrefix
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// envAliases maps config keys to short environment variable names.
func envAliases(prefix string) map[string][]string {
	return map[string][]string{
		"server.host":           {prefix + "HOST"},
		"server.port":           {prefix + "PORT"},
		"logging.level":         {prefix + "LOG_LEVEL"},
		"logging.profile":       {prefix + "LOG_PROFILE"},
		"store.driver":          {prefix + "DB_DRIVER"},
		"store.path":            {prefix + "DB_PATH"},
		"store.url":             {prefix + "DB_URL"},
		"store.auth_token":      {prefix + "DB_AUTH_TOKEN"},
		"cache.backend":         {prefix + "CACHE_BACKEND"},
		"cache.redis_url":       {prefix + "REDIS_URL", "REDIS_URL"},
		"upstream.api_key":      {prefix + "UPSTREAM_API_KEY", "REDTRACK_API_KEY"},
		"upstream.base_url":     {prefix + "UPSTREAM_BASE_URL"},
		"upstream.min_interval": {prefix + "UPSTREAM_MIN_INTERVAL"},
		"metrics.enabled":       {prefix + "METRICS_ENABLED"},
		"metrics.port":          {prefix + "METRICS_PORT"},
	}
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		return nil
	}

	configName, _ := appNamesForPaths()
	if dir := gfconfig.GetAppConfigDir(configName); strings.TrimSpace(dir) != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "vmetrics" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = defaultAppName
	binaryName = defaultAppName
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// RedactURL hides credentials and the api_key query parameter in raw.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if parsed.User != nil {
		parsed.User = url.User("***")
	}
	query := parsed.Query()
	if query.Has("api_key") {
		query.Set("api_key", "***")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// DurationOrDefault returns value when positive, otherwise fallback.
func DurationOrDefault(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
