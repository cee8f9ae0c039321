package request

import (
	"net/url"
	"strings"
)

// normalizeURL drops the fragment and trailing '?' / '&' characters.
func normalizeURL(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.TrimRight(rawURL, "?&")
}

// appendQuery adds an encoded query to rawURL, using '&' when a query
// component is already present. An empty query leaves rawURL untouched.
func appendQuery(rawURL, query string) string {
	if query == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query
}

// hostOf returns the host part of rawURL, or "" when it cannot be parsed.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
