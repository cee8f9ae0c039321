package request

import (
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a single attempt, including redirects and body read.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRedirects is the maximum number of redirect hops followed.
	DefaultMaxRedirects = 3
)

// Config holds builder-wide defaults.
type Config struct {
	// FollowRedirects enables redirect following. Disable it when the
	// environment forbids redirects.
	FollowRedirects bool

	// MaxRedirects caps followed redirect hops.
	MaxRedirects int

	// Timeout per attempt.
	Timeout time.Duration

	// UserAgent sent when no User-Agent header is set.
	UserAgent string

	// TempDir hosts cookie jars given without a directory (default: os.TempDir()).
	TempDir string

	// Transport, if set, is shared by every built operation instead of a
	// private per-operation transport.
	Transport http.RoundTripper
}

// DefaultConfig returns the builder defaults.
func DefaultConfig() Config {
	return Config{
		FollowRedirects: true,
		MaxRedirects:    DefaultMaxRedirects,
		Timeout:         DefaultTimeout,
		UserAgent:       "curly/0.1.0",
	}
}

// Settings are the transport settings of one operation.
type Settings struct {
	Header             http.Header
	Timeout            time.Duration
	FollowRedirects    bool
	MaxRedirects       int
	AutoReferer        bool
	FailOnError        bool
	InsecureSkipVerify bool
	FreshConnect       bool
	AcceptEncoding     string
	CaptureHeaders     bool
	NoBody             bool
	Transport          http.RoundTripper
}

// Option overrides a setting. Options are applied after every default, so
// they always win.
type Option func(*Settings)

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(s *Settings) {
		s.Header.Set(key, value)
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Settings) {
		s.Timeout = d
	}
}

// WithFollowRedirects enables or disables redirect following.
func WithFollowRedirects(follow bool) Option {
	return func(s *Settings) {
		s.FollowRedirects = follow
	}
}

// WithMaxRedirects caps followed redirect hops.
func WithMaxRedirects(n int) Option {
	return func(s *Settings) {
		s.MaxRedirects = n
	}
}

// WithAutoReferer toggles the Referer header on redirects.
func WithAutoReferer(enabled bool) Option {
	return func(s *Settings) {
		s.AutoReferer = enabled
	}
}

// WithFailOnError controls whether status >= 400 counts as a failure.
func WithFailOnError(fail bool) Option {
	return func(s *Settings) {
		s.FailOnError = fail
	}
}

// WithVerifyTLS enables certificate verification.
func WithVerifyTLS(verify bool) Option {
	return func(s *Settings) {
		s.InsecureSkipVerify = !verify
	}
}

// WithKeepAlive allows connection reuse across attempts.
func WithKeepAlive(keep bool) Option {
	return func(s *Settings) {
		s.FreshConnect = !keep
	}
}

// WithAcceptEncoding overrides the Accept-Encoding header. An empty value
// disables it.
func WithAcceptEncoding(encoding string) Option {
	return func(s *Settings) {
		s.AcceptEncoding = encoding
	}
}

// WithCaptureHeaders prepends the response status line and headers to the body.
func WithCaptureHeaders(capture bool) Option {
	return func(s *Settings) {
		s.CaptureHeaders = capture
	}
}

// WithNoBody discards the response body.
func WithNoBody(noBody bool) Option {
	return func(s *Settings) {
		s.NoBody = noBody
	}
}

// WithTransport uses rt instead of a private transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Settings) {
		s.Transport = rt
	}
}
