package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CURLY_LOG_LEVEL", "debug")
	t.Setenv("CURLY_LOG_PRETTY", "true")
	t.Setenv("CURLY_REDIS_ADDR", "redis:6379")
	t.Setenv("CURLY_USER_AGENT", "bot/2.0")
	t.Setenv("CURLY_FOLLOW_REDIRECTS", "false")
	t.Setenv("CURLY_TIMEOUT", "5s")
	t.Setenv("CURLY_ATTEMPTS", "5")
	t.Setenv("CURLY_PARALLEL", "8")
	t.Setenv("CURLY_THROTTLE", "1500ms")
	t.Setenv("CURLY_RATE_LIMIT_RPS", "2.5")
	t.Setenv("CURLY_METRICS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "bot/2.0", cfg.Request.UserAgent)
	assert.False(t, cfg.Request.FollowRedirects)
	assert.Equal(t, 5*time.Second, cfg.Request.Timeout)
	assert.Equal(t, 5, cfg.Request.Attempts)
	assert.Equal(t, 8, cfg.Scheduler.Parallel)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scheduler.Throttle)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoad_IgnoresSectionPrefixedNames(t *testing.T) {
	t.Setenv("CURLY_SCHEDULER_PARALLEL", "8")
	t.Setenv("CURLY_LOGGING_LOG_LEVEL", "debug")
	t.Setenv("CURLY_REQUEST_ATTEMPTS", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Scheduler.Parallel)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Request.Attempts)
}

func TestLoad_EverySectionReadsFlatNames(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"CURLY_LOG_PRETTY", "true", func(c *Config) bool { return c.Logging.Pretty }},
		{"CURLY_REDIS_DB", "4", func(c *Config) bool { return c.Redis.DB == 4 }},
		{"CURLY_MAX_REDIRECTS", "7", func(c *Config) bool { return c.Request.MaxRedirects == 7 }},
		{"CURLY_COOKIE_DIR", "/tmp/jars", func(c *Config) bool { return c.Request.CookieDir == "/tmp/jars" }},
		{"CURLY_THROTTLE", "2s", func(c *Config) bool { return c.Scheduler.Throttle == 2*time.Second }},
		{"CURLY_RATE_LIMIT_BURST", "5", func(c *Config) bool { return c.RateLimit.Burst == 5 }},
		{"CURLY_METRICS_ADDR", "127.0.0.1:9100", func(c *Config) bool { return c.Metrics.Addr == "127.0.0.1:9100" }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("Load() did not apply %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparsable duration", "CURLY_TIMEOUT", "soon"},
		{"zero timeout", "CURLY_TIMEOUT", "0s"},
		{"unknown log level", "CURLY_LOG_LEVEL", "verbose"},
		{"negative parallel", "CURLY_PARALLEL", "-1"},
		{"negative throttle", "CURLY_THROTTLE", "-1s"},
		{"negative rate limit", "CURLY_RATE_LIMIT_RPS", "-3"},
		{"negative redirects", "CURLY_MAX_REDIRECTS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestValidate_BurstRequiredWithRateLimit(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.RequestsPerSecond = 10
	cfg.RateLimit.Burst = 0

	assert.Error(t, cfg.Validate())

	cfg.RateLimit.Burst = 5
	assert.NoError(t, cfg.Validate())
}
