// Package metrics exposes the Prometheus metrics of curly over HTTP.
// All metrics are defined in their respective packages (request, client,
// multi, cache, ratelimit) to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by curly.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics, /health and /ready while a batch runs.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on addr. The readiness
// check pings redisClient when it is not nil.
func NewServer(addr string, redisClient *redis.Client) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: log.With().Str("component", "metrics").Logger(),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info().Str("addr", s.Addr()).Msg("Starting metrics server")
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - curly_requests_total{method, status} (Counter): Attempts by method and HTTP status
//   - curly_request_duration_seconds{method} (Histogram): Attempt duration by method
//   - curly_errors_total{class} (Counter): Failed attempts by class (client, server, rate_limit, network, build)
//
// Retry Metrics (pkg/client):
//   - curly_retries_total{error_class} (Counter): Retry attempts by error class
//   - curly_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - curly_retry_exhausted_total{error_class} (Counter): Operations that used up their attempts
//
// Scheduler Metrics (pkg/multi):
//   - curly_scheduler_chunks_total (Counter): Chunks run
//   - curly_scheduler_inflight (Gauge): Registered operations not yet completed
//   - curly_scheduler_completions_total{result} (Counter): Completions by result (success, failure)
//   - curly_scheduler_dropped_total{reason} (Counter): Handles dropped (invalid, duplicate, aborted)
//   - curly_scheduler_aborts_total (Counter): Chunks aborted by a broken poller
//   - curly_scheduler_throttle_seconds (Histogram): Throttle pauses between chunks
//
// Cache Metrics (pkg/cache):
//   - curly_cache_hits_total{freshness} (Counter): Cache hits (fresh, revalidated)
//   - curly_cache_misses_total (Counter): Cache misses
//   - curly_cache_size_bytes (Gauge): Bytes written to the cache
//   - curly_cache_not_modified_total (Counter): 304 Not Modified responses
//   - curly_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - curly_rate_limit_remaining{host} (Gauge): Remaining requests per host
//   - curly_rate_limit_blocks_total (Counter): Attempts blocked until reset
//   - curly_rate_limit_throttles_total (Counter): Attempts throttled on a low budget
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(curly_cache_hits_total[5m])) /
//   (sum(rate(curly_cache_hits_total[5m])) + sum(rate(curly_cache_misses_total[5m])))
//
//   # Retry Rate
//   sum(rate(curly_retries_total[5m])) / sum(rate(curly_requests_total[5m]))
//
//   # P95 Attempt Latency
//   histogram_quantile(0.95, rate(curly_request_duration_seconds_bucket[5m]))
