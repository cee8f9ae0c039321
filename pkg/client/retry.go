package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curly_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curly_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curly_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Backoff returns the pause after failed attempt i (1-based):
// 2^(i-2) seconds, so 0.5s, 1s, 2s, 4s and so on.
func Backoff(attempt int) time.Duration {
	return time.Duration(math.Ldexp(float64(time.Second), attempt-2))
}

// SleepFunc waits for d unless ctx is done first.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff calls fn up to attempts times, stopping at the first
// success. It sleeps Backoff(i) between attempts i and i+1 and never after
// the last one. Errors that are not transport failures end the loop.
func retryWithBackoff(ctx context.Context, attempts int, sleep SleepFunc, logger zerolog.Logger, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !retryable(err) {
			return err
		}

		// If this was the last attempt, don't wait
		if attempt >= attempts {
			break
		}

		class := errorClass(err)
		backoff := Backoff(attempt)
		retriesTotal.WithLabelValues(class).Inc()
		retryBackoffSeconds.WithLabelValues(class).Observe(backoff.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, backoff); err != nil {
			logger.Warn().
				Str("error_class", class).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return cancelled(err)
		}
	}

	class := errorClass(lastErr)
	retryExhaustedTotal.WithLabelValues(class).Inc()
	logger.Error().
		Err(lastErr).
		Str("error_class", class).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}
