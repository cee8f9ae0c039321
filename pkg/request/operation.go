package request

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of an Operation.
type State int

const (
	// StatePending means the operation was built and never performed.
	StatePending State = iota

	// StateActive means an attempt is in flight.
	StateActive

	// StateCompleted means at least one attempt finished.
	StateCompleted

	// StateReleased is terminal: the handle must not be used again.
	StateReleased
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Meta holds the diagnostics of the last attempt of an operation.
type Meta struct {
	ID            string        `json:"id"`
	Method        string        `json:"method"`
	URL           string        `json:"url"`
	EffectiveURL  string        `json:"effective_url"`
	StatusCode    int           `json:"status_code"`
	Status        string        `json:"status"`
	Header        http.Header   `json:"header,omitempty"`
	ContentType   string        `json:"content_type,omitempty"`
	RedirectCount int           `json:"redirect_count"`
	Size          int           `json:"size"`
	Duration      time.Duration `json:"duration"`
	Attempts      int           `json:"attempts"`
}

// Operation is a single outbound request. It is owned by exactly one
// component at a time and must be released exactly once by its owner.
type Operation struct {
	id         string
	method     string
	url        string
	body       []byte
	cookiePath string
	settings   Settings
	buildErr   error
	logger     zerolog.Logger

	mu        sync.Mutex
	state     State
	client    *http.Client
	transport *http.Transport // owned; nil when a shared transport is used
	jar       *cookiejar.Jar
	redirects int
	attempts  int
	result    []byte
	meta      Meta
	err       error
}

// ID returns the unique operation ID.
func (o *Operation) ID() string { return o.id }

// Method returns the upper-cased request method.
func (o *Operation) Method() string { return o.method }

// URL returns the target URL, query string included.
func (o *Operation) URL() string { return o.url }

// Host returns the target host.
func (o *Operation) Host() string { return hostOf(o.url) }

// CookiePath returns the resolved jar file, or "" without cookies.
func (o *Operation) CookiePath() string { return o.cookiePath }

// Payload returns the encoded request body.
func (o *Operation) Payload() []byte { return o.body }

// Header returns a copy of the request headers.
func (o *Operation) Header() http.Header { return o.settings.Header.Clone() }

// Settings returns a copy of the effective settings.
func (o *Operation) Settings() Settings {
	s := o.settings
	s.Header = o.settings.Header.Clone()
	return s
}

// SetHeader sets a request header for the following attempts.
func (o *Operation) SetHeader(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateReleased:
		return ErrReleased
	case StateActive:
		return ErrBusy
	}
	o.settings.Header.Set(key, value)
	return nil
}

// State returns the current lifecycle state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Pending reports whether the operation was never performed nor released.
func (o *Operation) Pending() bool {
	return o != nil && o.State() == StatePending
}

// Result returns the body, meta and error of the last attempt.
func (o *Operation) Result() ([]byte, Meta, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result, o.meta, o.err
}

// Perform runs one attempt. It may be called again after a completed
// attempt; the previous result is replaced, never merged.
func (o *Operation) Perform(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}

	body, meta, err := o.attempt(ctx)

	o.mu.Lock()
	o.result, o.meta, o.err = body, meta, err
	o.state = StateCompleted
	o.mu.Unlock()

	return err
}

func (o *Operation) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateReleased:
		return ErrReleased
	case StateActive:
		return ErrBusy
	}

	o.state = StateActive
	o.attempts++
	o.redirects = 0
	o.result, o.err = nil, nil

	if o.client == nil {
		o.client = o.newClient()
	}
	return nil
}

func (o *Operation) attempt(ctx context.Context) ([]byte, Meta, error) {
	meta := Meta{
		ID:       o.id,
		Method:   o.method,
		URL:      o.url,
		Attempts: o.attempts,
	}

	if o.buildErr != nil {
		return nil, meta, &TransportError{Class: ErrorClassBuild, Message: "invalid operation", Err: o.buildErr}
	}

	req, err := http.NewRequestWithContext(ctx, o.method, o.url, bytes.NewReader(o.body))
	if err != nil {
		return nil, meta, &TransportError{Class: ErrorClassBuild, Message: "create request", Err: err}
	}
	req.Header = o.settings.Header.Clone()
	if o.settings.AcceptEncoding != "" {
		req.Header.Set("Accept-Encoding", o.settings.AcceptEncoding)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		meta.Duration = time.Since(start)
		o.logger.Debug().Err(err).Str("op_id", o.id).Str("url", o.url).Msg("Transfer failed")
		return nil, meta, &TransportError{Class: ErrorClassNetwork, Message: "transfer failed", Err: err}
	}
	defer resp.Body.Close()

	meta.EffectiveURL = resp.Request.URL.String()
	meta.StatusCode = resp.StatusCode
	meta.Status = resp.Status
	meta.Header = resp.Header.Clone()
	meta.ContentType = resp.Header.Get("Content-Type")
	meta.RedirectCount = o.redirects

	var out []byte
	if o.settings.CaptureHeaders {
		dump, err := httputil.DumpResponse(resp, false)
		if err == nil {
			out = append(out, dump...)
		}
	}
	if !o.settings.NoBody {
		body, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"))
		if err != nil {
			meta.Duration = time.Since(start)
			return nil, meta, &TransportError{Class: ErrorClassNetwork, StatusCode: resp.StatusCode, Message: "read body", Err: err}
		}
		out = append(out, body...)
	}
	meta.Size = len(out)
	meta.Duration = time.Since(start)

	if o.settings.FailOnError && resp.StatusCode >= 400 {
		return nil, meta, &TransportError{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	if out == nil {
		out = []byte{}
	}
	return out, meta, nil
}

func (o *Operation) newClient() *http.Client {
	rt := o.settings.Transport
	if rt == nil {
		o.transport = &http.Transport{
			Proxy:              http.ProxyFromEnvironment,
			DisableKeepAlives:  o.settings.FreshConnect,
			DisableCompression: true,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: o.settings.InsecureSkipVerify,
			},
		}
		rt = o.transport
	}

	client := &http.Client{
		Transport: rt,
		Timeout:   o.settings.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !o.settings.FollowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) > o.settings.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", o.settings.MaxRedirects)
			}
			o.redirects = len(via)
			if o.settings.AutoReferer {
				req.Header.Set("Referer", via[len(via)-1].URL.String())
			}
			return nil
		},
	}

	if o.cookiePath != "" {
		jar, err := openJar(o.cookiePath)
		if err != nil {
			o.logger.Warn().Err(err).Str("op_id", o.id).Msg("Cookie jar unavailable, continuing without cookies")
		} else {
			o.jar = jar
			client.Jar = jar
		}
	}
	return client
}

// Release frees the operation: the cookie jar is written back to its file,
// idle connections of the private transport are closed and buffered data
// is dropped. Releasing twice returns ErrReleased and has no effect.
func (o *Operation) Release() error {
	if o == nil {
		return ErrReleased
	}

	o.mu.Lock()
	switch o.state {
	case StateReleased:
		o.mu.Unlock()
		return ErrReleased
	case StateActive:
		o.mu.Unlock()
		return ErrBusy
	}
	o.state = StateReleased
	jar, transport := o.jar, o.transport
	o.jar, o.transport, o.client = nil, nil, nil
	o.result = nil
	o.mu.Unlock()

	var err error
	if jar != nil {
		if saveErr := jar.Save(); saveErr != nil {
			err = fmt.Errorf("save cookie jar %q: %w", o.cookiePath, saveErr)
		}
	}
	if transport != nil {
		transport.CloseIdleConnections()
	}
	return err
}
