package request

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by operations.
var (
	// ErrReleased is returned when an operation is used after Release.
	ErrReleased = errors.New("operation already released")

	// ErrBusy is returned when an operation is performed or released while
	// an attempt is still in flight.
	ErrBusy = errors.New("operation attempt in progress")
)

// ErrorClass represents a classification of transfer failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and locally gated requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassBuild represents an operation that could not be turned into
	// a request (unreadable upload file, unparsable URL).
	ErrorClassBuild ErrorClass = "build"
)

// TransportError describes why a single attempt of an operation failed.
type TransportError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClassOf returns the error class of err, or "" when err carries none.
func ClassOf(err error) ErrorClass {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}
	return ""
}

// classifyStatus maps a failing HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
