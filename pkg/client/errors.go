package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/curly/pkg/request"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited marks attempts refused by the rate limit tracker.
	ErrRateLimited = errors.New("request blocked: host rate limit exhausted")

	// ErrNilOperation is returned when Execute is called without an operation.
	ErrNilOperation = errors.New("operation is required")
)

// retryable reports whether err is an attempt failure worth another try.
// Every transport failure qualifies, whatever its class; misuse of the
// handle and cancellation do not.
func retryable(err error) bool {
	if errors.Is(err, ErrContextCancelled) {
		return false
	}
	return request.ClassOf(err) != ""
}

// errorClass returns the metric label for err.
func errorClass(err error) string {
	if class := request.ClassOf(err); class != "" {
		return string(class)
	}
	return "unknown"
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %v", ErrContextCancelled, err)
}
