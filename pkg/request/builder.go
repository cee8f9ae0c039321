package request

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Builder turns a URL, payload, method, cookie spec and option overrides
// into an Operation. It never executes anything.
type Builder struct {
	config Config
	logger zerolog.Logger
}

// NewBuilder creates a builder with the given defaults.
func NewBuilder(cfg Config) *Builder {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Builder{
		config: cfg,
		logger: log.With().Str("component", "request-builder").Logger(),
	}
}

// Config returns the builder defaults.
func (b *Builder) Config() Config {
	return b.config
}

// Build creates a pending Operation.
//
// For POST and PUT, Values are sent as a urlencoded body when flat, or as
// multipart/form-data when nested or carrying "@file" references (rewritten
// to absolute paths). For other methods Values are appended to the query
// string. HEAD and OPTIONS capture the response headers instead of a body.
// opts are applied last and override every default.
//
// Build never fails: problems such as an unreadable upload are recorded on
// the operation and reported when it is performed.
func (b *Builder) Build(rawURL string, data Payload, method string, cookie Cookie, opts ...Option) *Operation {
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	target := normalizeURL(rawURL)

	settings := Settings{
		Header:             make(http.Header),
		Timeout:            b.config.Timeout,
		FollowRedirects:    b.config.FollowRedirects,
		MaxRedirects:       b.config.MaxRedirects,
		AutoReferer:        true,
		FailOnError:        true,
		InsecureSkipVerify: true,
		FreshConnect:       true,
		AcceptEncoding:     DefaultAcceptEncoding,
		Transport:          b.config.Transport,
	}
	if b.config.UserAgent != "" {
		settings.Header.Set("User-Agent", b.config.UserAgent)
	}

	var (
		body     []byte
		buildErr error
	)

	switch method {
	case http.MethodPost, http.MethodPut:
		body, buildErr = encodeBody(data, settings.Header)
	default:
		if values, ok := data.(Values); ok {
			target = appendQuery(target, values.Encode())
		}
	}

	if method == http.MethodHead || method == http.MethodOptions {
		settings.CaptureHeaders = true
		settings.NoBody = true
	}

	for _, opt := range opts {
		opt(&settings)
	}

	op := &Operation{
		id:         uuid.NewString(),
		method:     method,
		url:        target,
		body:       body,
		cookiePath: cookie.resolve(target, b.config.TempDir),
		settings:   settings,
		buildErr:   buildErr,
		logger:     b.logger,
	}

	if buildErr != nil {
		b.logger.Warn().Err(buildErr).Str("op_id", op.id).Str("url", target).Msg("Operation built with unusable payload")
	} else {
		b.logger.Debug().
			Str("op_id", op.id).
			Str("method", method).
			Str("url", target).
			Int("body_bytes", len(body)).
			Msg("Operation built")
	}

	return op
}

// encodeBody serializes a POST/PUT payload and sets its Content-Type.
func encodeBody(data Payload, header http.Header) ([]byte, error) {
	switch payload := data.(type) {
	case nil:
		return nil, nil
	case Raw:
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		return []byte(payload), nil
	case Values:
		if !payload.Nested() && !payload.Files() {
			header.Set("Content-Type", "application/x-www-form-urlencoded")
			return []byte(payload.Encode()), nil
		}
		body, contentType, err := multipartBody(payload.withAbsoluteFiles())
		if err != nil {
			return nil, err
		}
		header.Set("Content-Type", contentType)
		return body, nil
	default:
		return nil, nil
	}
}
