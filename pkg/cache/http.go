package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/curly/pkg/request"
)

const (
	// DefaultTTL is the fallback TTL when a response carries no freshness
	// information.
	DefaultTTL = 5 * time.Minute

	// StaleRetention is how long a stale entry with validators is kept for
	// conditional revalidation.
	StaleRetention = time.Hour
)

// ResultToEntry converts a successful operation result to an Entry.
// It returns false when the response must not be stored.
func ResultToEntry(body []byte, meta request.Meta) (*Entry, bool) {
	if meta.StatusCode != http.StatusOK {
		return nil, false
	}

	expires, ok := parseFreshness(meta.Header)
	if !ok {
		return nil, false
	}

	entry := &Entry{
		Data:         append([]byte(nil), body...),
		ETag:         meta.Header.Get("ETag"),
		Expires:      expires,
		StatusCode:   meta.StatusCode,
		Headers:      meta.Header.Clone(),
		EffectiveURL: meta.EffectiveURL,
		CachedAt:     time.Now(),
	}

	if lastModStr := meta.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, true
}

// EntryToMeta rebuilds the diagnostics of a cached response.
func EntryToMeta(entry *Entry, meta request.Meta) request.Meta {
	meta.StatusCode = entry.StatusCode
	meta.Status = strconv.Itoa(entry.StatusCode) + " " + http.StatusText(entry.StatusCode)
	meta.Header = entry.Headers.Clone()
	meta.ContentType = entry.Headers.Get("Content-Type")
	meta.Size = len(entry.Data)
	if entry.EffectiveURL != "" {
		meta.EffectiveURL = entry.EffectiveURL
	}
	return meta
}

// parseFreshness derives the expiry time from Cache-Control and Expires.
// It returns false for responses marked no-store, no-cache or private.
func parseFreshness(headers http.Header) (time.Time, bool) {
	now := time.Now()

	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-store", directive == "no-cache", directive == "private":
				return time.Time{}, false
			case strings.HasPrefix(directive, "max-age="):
				seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
				if err != nil || seconds < 0 {
					continue
				}
				return now.Add(time.Duration(seconds) * time.Second), true
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL), true
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL), true
	}

	if expires.Before(now) {
		return now, true
	}

	return expires, true
}

// ConditionalHeaders returns the If-None-Match or If-Modified-Since header
// to revalidate entry, or "" when it has no validators.
func ConditionalHeaders(entry *Entry) (key, value string) {
	if entry == nil {
		return "", ""
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		return "If-None-Match", entry.ETag
	}
	if !entry.LastModified.IsZero() {
		return "If-Modified-Since", entry.LastModified.Format(http.TimeFormat)
	}
	return "", ""
}
