package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user overrides (~/.config/scaffoldir/config.yaml or --config)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OTP       OTPConfig       `mapstructure:"otp"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	RDAP      RDAPConfig      `mapstructure:"rdap"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLibsql = "libsql"
)

// RateLimitConfig selects the limiter backend.
type RateLimitConfig struct {
	Backend       string        `mapstructure:"backend"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig configures the shared limiter backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// OTPConfig configures one-time code issuance and its request limit.
type OTPConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
	CodeTTL     time.Duration `mapstructure:"code_ttl"`
}

// OverpassConfig configures the listing scraper.
type OverpassConfig struct {
	Mirrors       []string      `mapstructure:"mirrors"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	DefaultArea   string        `mapstructure:"default_area"`
	PacerInterval time.Duration `mapstructure:"pacer_interval"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures per-mirror circuit breakers.
type BreakerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold uint32        `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RDAPConfig configures website verification.
type RDAPConfig struct {
	Timeout time.Duration       `mapstructure:"timeout"`
	Servers map[string][]string `mapstructure:"servers"`
}

// AdminConfig protects the admin endpoints.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Validate rejects settings that would fail on every request.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}

	switch strings.ToLower(strings.TrimSpace(c.RateLimit.Backend)) {
	case BackendMemory, BackendLibsql:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			problems = append(problems, "redis.addr is required for the redis rate limit backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("rate_limit.backend must be memory, redis or libsql, got: %q", c.RateLimit.Backend))
	}

	if c.OTP.Window <= 0 {
		problems = append(problems, "otp.window must be > 0")
	}
	if c.OTP.MaxRequests <= 0 {
		problems = append(problems, "otp.max_requests must be > 0")
	}
	if c.OTP.CodeTTL <= 0 {
		problems = append(problems, "otp.code_ttl must be > 0")
	}

	if len(c.Overpass.Mirrors) == 0 {
		problems = append(problems, "overpass.mirrors must list at least one endpoint")
	}
	for _, mirror := range c.Overpass.Mirrors {
		if strings.TrimSpace(mirror) == "" {
			problems = append(problems, "overpass.mirrors contains an empty entry")
			break
		}
	}
	if c.Overpass.Timeout <= 0 {
		problems = append(problems, "overpass.timeout must be > 0")
	}
	if c.Overpass.PacerInterval < 0 {
		problems = append(problems, "overpass.pacer_interval must be >= 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
