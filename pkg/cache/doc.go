// Package cache provides a Redis-backed cache of HTTP response bodies.
//
// The client consults the cache for GET operations when caching is enabled:
//
// - Fresh entries are served without touching the network
// - Stale entries with an ETag or Last-Modified are revalidated with a
//   conditional request; a 304 refreshes the entry and serves its body
// - Cache-Control max-age, no-store, no-cache and private are honored,
//   then Expires, then DefaultTTL
// - Prometheus metrics for observability
// - Deterministic cache key generation (sorted query parameters)
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//	key := cache.Key{Method: "GET", URL: "https://example.com/search?q=go"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch, then store
//		if entry, ok := cache.ResultToEntry(body, meta); ok {
//			_ = manager.Set(ctx, key, entry)
//		}
//	}
//
// # Metrics
//
//   - curly_cache_hits_total{freshness} - Cache hits (fresh, revalidated)
//   - curly_cache_misses_total - Cache misses
//   - curly_cache_size_bytes - Bytes written
//   - curly_cache_not_modified_total - 304 responses served from cache
//   - curly_cache_errors_total{operation} - Cache operation errors
package cache
