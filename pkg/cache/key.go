package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached response.
type Key struct {
	// Method is the request method (only GET is cached by the client)
	Method string

	// URL is the full request URL, query string included
	URL string
}

// String generates a deterministic cache key string.
// Format: curly:METHOD:host/path:q1=v1:q2=v2
//
// Example:
//
//	curly:GET:example.com/search:page=2:q=go
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	parts := []string{"curly", method}

	u, err := url.Parse(k.URL)
	if err != nil {
		return strings.Join(append(parts, k.URL), ":")
	}

	target := strings.ToLower(u.Host) + "/" + strings.Trim(u.Path, "/")
	parts = append(parts, strings.TrimSuffix(target, "/"))

	query := u.Query()
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			values := append([]string(nil), query[key]...)
			sort.Strings(values)
			parts = append(parts, key+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
