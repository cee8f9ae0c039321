// Package client executes request operations with retries, an optional
// local rate limit, per-host rate limit tracking and response caching.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/curly/pkg/cache"
	"github.com/Sternrassler/curly/pkg/ratelimit"
	"github.com/Sternrassler/curly/pkg/request"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curly_requests_total",
		Help: "Total request attempts by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curly_request_duration_seconds",
		Help:    "Request attempt duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curly_errors_total",
		Help: "Total failed attempts by error class",
	}, []string{"class"})
)

// Client executes operations built by its Builder.
type Client struct {
	builder *request.Builder
	tracker *ratelimit.Tracker
	cache   *cache.Manager
	limiter *rate.Limiter
	sleep   SleepFunc
	config  Config
	logger  zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis client for caching and rate limit state (optional)
	Redis *redis.Client

	// User-Agent header sent with every operation
	UserAgent string

	// RateLimit caps attempts per second across the client (0 = unlimited)
	RateLimit float64

	// Burst is the number of attempts allowed at once under RateLimit
	Burst int

	// EnableCache stores successful GET bodies in Redis
	EnableCache bool

	// TrackRateLimit honors X-RateLimit-* headers per host
	TrackRateLimit bool

	// Request holds the builder defaults
	Request request.Config
}

// DefaultConfig returns a default configuration. Caching and rate limit
// tracking are enabled when a Redis client is given.
func DefaultConfig(redisClient *redis.Client, userAgent string) Config {
	return Config{
		Redis:          redisClient,
		UserAgent:      userAgent,
		Burst:          1,
		EnableCache:    redisClient != nil,
		TrackRateLimit: redisClient != nil,
		Request:        request.DefaultConfig(),
	}
}

// Result is the outcome of Execute.
type Result struct {
	// Body of the last attempt (nil on failure)
	Body []byte

	// Meta of the last attempt
	Meta request.Meta

	// Cached is true when Body was served from the response cache
	Cached bool

	// Deferred holds the unexecuted operation in deferred mode
	Deferred *request.Operation
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		return nil, fmt.Errorf("burst must be >= 1 (got %d)", cfg.Burst)
	}

	if (cfg.EnableCache || cfg.TrackRateLimit) && cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required for caching and rate limit tracking")
	}

	logger := log.With().Str("component", "client").Logger()

	cfg.Request.UserAgent = cfg.UserAgent

	c := &Client{
		builder: request.NewBuilder(cfg.Request),
		sleep:   sleepContext,
		config:  cfg,
		logger:  logger,
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	if cfg.TrackRateLimit {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logger)
	}
	if cfg.EnableCache {
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// Builder returns the request builder of the client.
func (c *Client) Builder() *request.Builder {
	return c.builder
}

// Build creates a pending operation with the client's defaults.
func (c *Client) Build(rawURL string, data request.Payload, method string, cookie request.Cookie, opts ...request.Option) *request.Operation {
	return c.builder.Build(rawURL, data, method, cookie, opts...)
}

// Fetch builds an operation and executes it with the given attempt budget.
// With attempts <= 0 the built operation is returned in Result.Deferred.
func (c *Client) Fetch(ctx context.Context, rawURL string, data request.Payload, method string, cookie request.Cookie, attempts int, opts ...request.Option) (*Result, error) {
	return c.Execute(ctx, c.Build(rawURL, data, method, cookie, opts...), attempts)
}

// Execute runs op up to attempts times and returns the last attempt's
// result. Between attempts i and i+1 it sleeps Backoff(i). The operation is
// always released before Execute returns.
//
// With attempts <= 0 nothing runs: op is handed back in Result.Deferred
// and ownership stays with the caller.
func (c *Client) Execute(ctx context.Context, op *request.Operation, attempts int) (*Result, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if attempts <= 0 {
		return &Result{Deferred: op}, nil
	}
	defer c.release(op)

	host := op.Host()
	cacheable := c.cache != nil && op.Method() == http.MethodGet
	cacheKey := cache.Key{Method: op.Method(), URL: op.URL()}

	var cached *cache.Entry
	if cacheable {
		cached = c.lookup(ctx, cacheKey)
		if cached != nil && !cached.IsExpired() {
			cache.CacheHits.WithLabelValues("fresh").Inc()
			c.logger.Debug().Str("url", op.URL()).Dur("ttl", cached.TTL()).Msg("Serving fresh response from cache")
			return &Result{
				Body:   cached.Data,
				Meta:   cache.EntryToMeta(cached, request.Meta{ID: op.ID(), Method: op.Method(), URL: op.URL()}),
				Cached: true,
			}, nil
		}
		if key, value := cache.ConditionalHeaders(cached); key != "" {
			if err := op.SetHeader(key, value); err == nil {
				c.logger.Debug().Str("url", op.URL()).Str(key, value).Msg("Making conditional request")
			}
		}
	}

	c.logger.Debug().
		Str("op_id", op.ID()).
		Str("method", op.Method()).
		Str("url", op.URL()).
		Int("attempts", attempts).
		Msg("Executing operation")

	var (
		body []byte
		meta request.Meta
	)
	err := retryWithBackoff(ctx, attempts, c.sleep, c.logger, func(attempt int) error {
		if err := c.admit(ctx, host); err != nil {
			return err
		}

		performErr := op.Perform(ctx)
		body, meta, _ = op.Result()
		c.observe(op, meta, performErr)

		if c.tracker != nil && meta.Header != nil {
			if err := c.tracker.UpdateFromHeaders(ctx, host, meta.Header); err != nil {
				c.logger.Warn().Err(err).Str("host", host).Msg("Failed to update rate limit from headers")
			}
		}
		return performErr
	})
	if err != nil {
		return &Result{Meta: meta}, err
	}

	if cacheable {
		if cached != nil && meta.StatusCode == http.StatusNotModified {
			return c.revalidated(ctx, cacheKey, cached, meta), nil
		}
		c.store(ctx, cacheKey, body, meta)
	}

	return &Result{Body: body, Meta: meta}, nil
}

// admit applies the rate limit tracker and the local limiter.
func (c *Client) admit(ctx context.Context, host string) error {
	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx, host)
		switch {
		case err != nil && ctx.Err() != nil:
			return cancelled(ctx.Err())
		case err != nil:
			c.logger.Warn().Err(err).Str("host", host).Msg("Rate limit check failed, allowing request")
		case !allowed:
			errorsTotal.WithLabelValues(string(request.ErrorClassRateLimit)).Inc()
			return &request.TransportError{
				Class:   request.ErrorClassRateLimit,
				Message: "blocked by rate limit tracker",
				Err:     ErrRateLimited,
			}
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return cancelled(err)
		}
	}
	return nil
}

func (c *Client) observe(op *request.Operation, meta request.Meta, err error) {
	requestDuration.WithLabelValues(op.Method()).Observe(meta.Duration.Seconds())

	status := strconv.Itoa(meta.StatusCode)
	if meta.StatusCode == 0 {
		status = errorClass(err) + "_error"
	}
	requestsTotal.WithLabelValues(op.Method(), status).Inc()

	if err != nil {
		errorsTotal.WithLabelValues(errorClass(err)).Inc()
		c.logger.Debug().
			Err(err).
			Str("op_id", op.ID()).
			Str("url", op.URL()).
			Int("attempt", meta.Attempts).
			Int("status_code", meta.StatusCode).
			Msg("Attempt failed")
	}
}

func (c *Client) lookup(ctx context.Context, key cache.Key) *cache.Entry {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("url", key.URL).Msg("Cache get error")
		}
		return nil
	}
	return entry
}

func (c *Client) store(ctx context.Context, key cache.Key, body []byte, meta request.Meta) {
	entry, ok := cache.ResultToEntry(body, meta)
	if !ok {
		return
	}
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("url", key.URL).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().Str("url", key.URL).Dur("ttl", entry.TTL()).Msg("Cached response")
}

// revalidated serves a stale entry confirmed by a 304 and refreshes its
// expiry from the new response headers.
func (c *Client) revalidated(ctx context.Context, key cache.Key, entry *cache.Entry, meta request.Meta) *Result {
	cache.NotModifiedResponses.Inc()
	cache.CacheHits.WithLabelValues("revalidated").Inc()
	c.logger.Debug().Str("url", key.URL).Msg("304 Not Modified - using cache")

	refreshed, ok := cache.ResultToEntry(entry.Data, request.Meta{StatusCode: http.StatusOK, Header: meta.Header})
	if ok {
		if err := c.cache.UpdateTTL(ctx, key, refreshed.Expires); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
	}

	return &Result{
		Body:   entry.Data,
		Meta:   cache.EntryToMeta(entry, meta),
		Cached: true,
	}
}

func (c *Client) release(op *request.Operation) {
	if err := op.Release(); err != nil && !errors.Is(err, request.ErrReleased) {
		c.logger.Warn().Err(err).Str("op_id", op.ID()).Msg("Release failed")
	}
}

// SetSleep replaces the backoff sleep (for testing).
func (c *Client) SetSleep(sleep SleepFunc) {
	c.sleep = sleep
}

// GetCache returns the cache manager, or nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// GetTracker returns the rate limit tracker, or nil when tracking is disabled.
func (c *Client) GetTracker() *ratelimit.Tracker {
	return c.tracker
}
