// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace logs every attempt and poller step.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// NoColor disables colors in pretty output.
	NoColor bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			NoColor:    cfg.NoColor,
			TimeFormat: time.TimeOnly,
		}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name.
func ParseLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch level {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelDisabled:
		return level, nil
	case "warning":
		return LevelWarn, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Operation build and attempt results (op_id, url, status_code)
//   - Cache operations (fresh hit, conditional request, stored TTL)
//   - Scheduler completions per key
//
// Info: Normal operation events
//   - Request succeeded after retry
//   - Run complete (operations, chunks, results)
//   - Metrics server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts with backoff
//   - Rate limit throttling
//   - Dropped operations (invalid, duplicate)
//   - Cache and cookie jar errors (operation continues without them)
//
// Error: Error conditions requiring attention
//   - Retry attempts exhausted
//   - Poller broke and the chunk was aborted
//   - Configuration errors
//
// Context Fields:
//   - component: client, scheduler, builder, ratelimit, cli
//   - op_id: Operation ID
//   - key: Caller key of an operation in a set
//   - url: Target URL
//   - status_code: HTTP status code
//   - attempt: 1-based attempt number
//   - error_class: client, server, rate_limit, network, build
//   - backoff: Pause before the next attempt
//   - host: Host of a rate limit state
