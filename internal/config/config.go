// Package config provides configuration management for the log inspector.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/model"
	"github.com/devrev/loginspector/internal/store"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LOGINSPECTOR_STORE_HOST
const EnvPrefix = "LOGINSPECTOR"

const redacted = "******"

// Config holds all configuration for the log inspector.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Query       QueryConfig       `mapstructure:"query" yaml:"query"`
	Inspector   InspectorConfig   `mapstructure:"inspector" yaml:"inspector"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Health      HealthConfig      `mapstructure:"health" yaml:"health"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// StoreConfig holds backing store connection settings.
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Schema    string `mapstructure:"schema" yaml:"schema"`

	ConnectTimeout                 time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	HeartbeatConnectRetryFrequency time.Duration `mapstructure:"heartbeat_connect_retry_frequency" yaml:"heartbeat_connect_retry_frequency"`
	HeartbeatConnectTimeout        time.Duration `mapstructure:"heartbeat_connect_timeout" yaml:"heartbeat_connect_timeout"`
	HeartbeatSocketTimeout         time.Duration `mapstructure:"heartbeat_socket_timeout" yaml:"heartbeat_socket_timeout"`
	MaxPoolSize                    int           `mapstructure:"max_pool_size" yaml:"max_pool_size"`
}

// QueryConfig holds record query settings.
type QueryConfig struct {
	PageSize      int    `mapstructure:"page_size" yaml:"page_size"`
	KeywordScope  string `mapstructure:"keyword_scope" yaml:"keyword_scope"`
	CaseSensitive bool   `mapstructure:"case_sensitive" yaml:"case_sensitive"`
}

// InspectorConfig holds node statistics settings.
type InspectorConfig struct {
	PageSize int      `mapstructure:"page_size" yaml:"page_size"`
	Levels   []string `mapstructure:"levels" yaml:"levels"`
}

// IdempotencyConfig holds report deduplication settings.
type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxKeys int           `mapstructure:"max_keys" yaml:"max_keys"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// HealthConfig holds readiness probing settings.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/loginspector/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing file is fine when searching; an explicit path must exist
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, apierrors.Configuration("failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apierrors.Configuration("failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 4<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Store defaults
	v.SetDefault("store.driver", store.DriverMongo)
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 27017)
	v.SetDefault("store.username", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.namespace", "")
	v.SetDefault("store.schema", "public")
	v.SetDefault("store.connect_timeout", "20s")
	v.SetDefault("store.heartbeat_connect_retry_frequency", "10ms")
	v.SetDefault("store.heartbeat_connect_timeout", "20s")
	v.SetDefault("store.heartbeat_socket_timeout", "20s")
	v.SetDefault("store.max_pool_size", 100)

	// Query defaults
	v.SetDefault("query.page_size", 20)
	v.SetDefault("query.keyword_scope", string(model.KeywordScopeAll))
	v.SetDefault("query.case_sensitive", false)

	// Inspector defaults
	v.SetDefault("inspector.page_size", 20)
	v.SetDefault("inspector.levels", []string{})

	// Idempotency defaults
	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.max_keys", 100000)
	v.SetDefault("idempotency.redis.addr", "localhost:6379")
	v.SetDefault("idempotency.redis.password", "")
	v.SetDefault("idempotency.redis.db", 0)

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 1000.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	// Health defaults
	v.SetDefault("health.check_interval", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks if the configuration is valid. Failures are
// ConfigurationErrors.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return apierrors.Configuration(fmt.Sprintf(format, args...), nil)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return invalid("server request timeout must be positive")
	}

	if err := c.Store.ConnectionConfig().Validate(); err != nil {
		return err
	}
	// a bare integer decodes as nanoseconds
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"connect_timeout", c.Store.ConnectTimeout},
		{"heartbeat_connect_retry_frequency", c.Store.HeartbeatConnectRetryFrequency},
		{"heartbeat_connect_timeout", c.Store.HeartbeatConnectTimeout},
		{"heartbeat_socket_timeout", c.Store.HeartbeatSocketTimeout},
	} {
		if d.value > 0 && d.value < time.Millisecond {
			return invalid("store.%s is %s, below 1ms; give durations a unit such as 20s", d.key, d.value)
		}
	}

	if c.Query.PageSize <= 0 || c.Query.PageSize > 1000 {
		return invalid("query page size must be between 1 and 1000, got %d", c.Query.PageSize)
	}
	if _, err := model.ParseKeywordScope(c.Query.KeywordScope); err != nil {
		return apierrors.Configuration("invalid query.keyword_scope", err)
	}
	if c.Inspector.PageSize <= 0 || c.Inspector.PageSize > 1000 {
		return invalid("inspector page size must be between 1 and 1000, got %d", c.Inspector.PageSize)
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Backend {
		case "memory":
		case "redis":
			if c.Idempotency.Redis.Addr == "" {
				return invalid("idempotency.redis.addr is required for the redis backend")
			}
		default:
			return invalid("unsupported idempotency backend %q", c.Idempotency.Backend)
		}
		if c.Idempotency.TTL <= 0 {
			return invalid("idempotency ttl must be positive")
		}
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return invalid("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return invalid("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return invalid("metrics port must differ from server port")
		}
	}

	return nil
}

// ConnectionConfig converts the store section into the connection settings
// the store package consumes.
func (s StoreConfig) ConnectionConfig() store.ConnectionConfig {
	return store.ConnectionConfig{
		Driver:                         s.Driver,
		Host:                           s.Host,
		Port:                           s.Port,
		Username:                       s.Username,
		Password:                       s.Password,
		Namespace:                      s.Namespace,
		Schema:                         s.Schema,
		ConnectTimeout:                 s.ConnectTimeout,
		HeartbeatConnectRetryFrequency: s.HeartbeatConnectRetryFrequency,
		HeartbeatConnectTimeout:        s.HeartbeatConnectTimeout,
		HeartbeatSocketTimeout:         s.HeartbeatSocketTimeout,
		MaxPoolSize:                    s.MaxPoolSize,
	}
}

// Redacted returns a copy with secrets masked
func (c Config) Redacted() Config {
	if c.Store.Password != "" {
		c.Store.Password = redacted
	}
	if c.Idempotency.Redis.Password != "" {
		c.Idempotency.Redis.Password = redacted
	}
	return c
}

// YAML renders the effective configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
