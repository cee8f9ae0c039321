package main

import (
	"errors"
)

// Exit codes for the curly CLI
const (
	// ExitSuccess indicates every request succeeded
	ExitSuccess = 0

	// ExitRequestFailure indicates one or more requests failed
	ExitRequestFailure = 1

	// ExitParseError indicates a batch file parsing error
	ExitParseError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

var (
	errRequestsFailed = errors.New("one or more requests failed")
	errParse          = errors.New("invalid batch file")
	errConfig         = errors.New("invalid configuration")
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, errRequestsFailed):
		return ExitRequestFailure
	case errors.Is(err, errParse):
		return ExitParseError
	case errors.Is(err, errConfig):
		return ExitConfigError
	default:
		return ExitUsageError
	}
}
