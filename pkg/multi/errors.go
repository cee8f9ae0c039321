package multi

import "errors"

// Errors reported by pollers and the scheduler.
var (
	// ErrInvalidOperation is returned when a handle is nil, released or
	// already performed. Such handles are dropped from a run.
	ErrInvalidOperation = errors.New("invalid operation handle")

	// ErrAlreadyRegistered is returned when a handle is registered twice
	// with the same poller.
	ErrAlreadyRegistered = errors.New("operation already registered")

	// ErrPollerBroken is returned once the poller can make no further
	// progress. The current chunk is aborted.
	ErrPollerBroken = errors.New("poller broken")

	// ErrPerformAgain is returned by Poller.Perform when more immediate
	// progress is possible without waiting.
	ErrPerformAgain = errors.New("perform again")

	// ErrInvalidSet is returned by RunAll for a nil operation set.
	ErrInvalidSet = errors.New("invalid operation set")

	// ErrNoCallback is returned by RunAll for a nil callback when the
	// value type is not []byte.
	ErrNoCallback = errors.New("completion callback required for non-[]byte values")

	// ErrDuplicateKey is returned when a key is added twice to a set.
	ErrDuplicateKey = errors.New("duplicate operation key")
)
