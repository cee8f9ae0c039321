// Package config loads process configuration for the curly CLI from
// CURLY_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Sternrassler/curly/pkg/logging"
)

// Prefix is the environment variable prefix.
const Prefix = "CURLY"

// Config holds all process configuration.
type Config struct {
	Logging   LogConfig
	Redis     RedisConfig
	Request   RequestConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// RedisConfig holds the optional Redis connection. An empty address
// disables caching and rate limit tracking.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// RequestConfig holds the request builder and executor defaults.
type RequestConfig struct {
	UserAgent       string        `envconfig:"USER_AGENT" default:"curly/0.1.0"`
	FollowRedirects bool          `envconfig:"FOLLOW_REDIRECTS" default:"true"`
	MaxRedirects    int           `envconfig:"MAX_REDIRECTS" default:"3"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"30s"`
	Attempts        int           `envconfig:"ATTEMPTS" default:"3"`
	CookieDir       string        `envconfig:"COOKIE_DIR"`
}

// SchedulerConfig holds the parallel scheduler defaults.
type SchedulerConfig struct {
	Parallel int           `envconfig:"PARALLEL" default:"0"`
	Throttle time.Duration `envconfig:"THROTTLE" default:"0s"`
}

// RateLimitConfig holds the local attempt rate limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"1"`
}

// MetricsConfig holds the metrics server configuration.
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR"`
}

// Load loads configuration from environment variables.
//
// Sections are processed one by one so their variables keep the flat
// CURLY_<NAME> form rather than CURLY_<SECTION>_<NAME>.
func Load() (*Config, error) {
	var cfg Config
	sections := []any{
		&cfg.Logging,
		&cfg.Redis,
		&cfg.Request,
		&cfg.Scheduler,
		&cfg.RateLimit,
		&cfg.Metrics,
	}
	for _, section := range sections {
		if err := envconfig.Process(Prefix, section); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level: "info",
		},
		Request: RequestConfig{
			UserAgent:       "curly/0.1.0",
			FollowRedirects: true,
			MaxRedirects:    3,
			Timeout:         30 * time.Second,
			Attempts:        3,
		},
		RateLimit: RateLimitConfig{
			Burst: 1,
		},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid %s_LOG_LEVEL: %w", Prefix, err)
	}
	if c.Request.UserAgent == "" {
		return fmt.Errorf("%s_USER_AGENT must not be empty", Prefix)
	}
	if c.Request.MaxRedirects < 0 {
		return fmt.Errorf("%s_MAX_REDIRECTS must be >= 0 (got %d)", Prefix, c.Request.MaxRedirects)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("%s_TIMEOUT must be positive (got %s)", Prefix, c.Request.Timeout)
	}
	if c.Scheduler.Parallel < 0 {
		return fmt.Errorf("%s_PARALLEL must be >= 0 (got %d)", Prefix, c.Scheduler.Parallel)
	}
	if c.Scheduler.Throttle < 0 {
		return fmt.Errorf("%s_THROTTLE must be >= 0 (got %s)", Prefix, c.Scheduler.Throttle)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%s_RATE_LIMIT_RPS must be >= 0 (got %v)", Prefix, c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("%s_RATE_LIMIT_BURST must be >= 1 (got %d)", Prefix, c.RateLimit.Burst)
	}
	return nil
}
