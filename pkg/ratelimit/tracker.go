package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "curly_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by host",
	}, []string{"host"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curly_rate_limit_blocks_total",
		Help: "Total number of requests blocked because a host budget was exhausted",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curly_rate_limit_throttles_total",
		Help: "Total number of requests throttled because a host budget ran low",
	})
)

// DefaultThrottleDelay is the pause applied to requests in warning state.
const DefaultThrottleDelay = time.Second

// epochThreshold separates "seconds until reset" from absolute Unix
// timestamps in X-RateLimit-Reset.
const epochThreshold = 1_000_000_000

// Tracker monitors announced rate limits and gates requests per host.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay changes the pause applied in warning state.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the state of host from Redis.
// Returns a default healthy state if no data exists.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, RedisKey(host)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if len(fields) == 0 {
		t.logger.Debug().Str("host", host).Msg("No rate limit state in Redis, returning default healthy state")
		return &State{
			Host:       host,
			Remaining:  DefaultRemaining,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	remaining, err := strconv.Atoi(fields[fieldRemaining])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	lastUpdate, err := strconv.ParseInt(fields[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &State{
		Host:       host,
		Remaining:  remaining,
		ResetAt:    time.Unix(resetAt, 0),
		LastUpdate: time.UnixMilli(lastUpdate),
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses rate limit headers of a response from host and
// stores the resulting state. Responses without such headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	now := time.Now()

	remain, hasRemain, err := parseRemaining(headers)
	if err != nil {
		return err
	}
	resetAt, hasReset, err := parseReset(headers, now)
	if err != nil {
		return err
	}

	switch {
	case !hasRemain && !hasReset:
		return nil
	case !hasRemain:
		// Retry-After alone means the budget is gone.
		remain = 0
	case !hasReset:
		return fmt.Errorf("rate limit reset header missing")
	}

	state := &State{
		Host:       host,
		Remaining:  remain,
		ResetAt:    resetAt,
		LastUpdate: now,
	}
	state.UpdateHealth()

	key := RedisKey(host)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldRemaining, remain,
		fieldResetAt, state.ResetAt.Unix(),
		fieldLastUpdate, now.UnixMilli(),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.WithLabelValues(host).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("host", host).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit exhausted - requests will be blocked until reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Str("host", host).
			Int("remaining", remain).
			Msg("Rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks whether a request to host may be sent now.
// It returns false while the host budget is exhausted, and sleeps for the
// throttle delay when the budget is low.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, host string) (bool, error) {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Str("host", host).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit exhausted - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Msg("Rate limit low - throttling request")

		rateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}

func parseRemaining(headers http.Header) (int, bool, error) {
	for _, name := range []string{"X-RateLimit-Remaining", "RateLimit-Remaining"} {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			continue
		}
		remain, err := strconv.Atoi(value)
		if err != nil {
			return 0, false, fmt.Errorf("parse %s header: %w", name, err)
		}
		return remain, true, nil
	}
	return 0, false, nil
}

func parseReset(headers http.Header, now time.Time) (time.Time, bool, error) {
	for _, name := range []string{"X-RateLimit-Reset", "RateLimit-Reset"} {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			continue
		}
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse %s header: %w", name, err)
		}
		if seconds >= epochThreshold {
			return time.Unix(seconds, 0), true, nil
		}
		return now.Add(time.Duration(seconds) * time.Second), true, nil
	}

	if value := strings.TrimSpace(headers.Get("Retry-After")); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return now.Add(time.Duration(seconds) * time.Second), true, nil
		}
		if at, err := http.ParseTime(value); err == nil {
			return at, true, nil
		}
		return time.Time{}, false, fmt.Errorf("parse Retry-After header %q", value)
	}

	return time.Time{}, false, nil
}
