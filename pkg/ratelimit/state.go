// Package ratelimit tracks the request budget that servers announce in
// X-RateLimit-Remaining / X-RateLimit-Reset (or Retry-After) headers and
// gates requests per host. State is shared through Redis so that several
// processes hitting the same host honor one budget.
package ratelimit

import (
	"time"
)

// Redis key layout: one hash per host.
const (
	RedisKeyPrefix = "curly:rate_limit:"

	fieldRemaining  = "remaining"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests to a host until its window resets.
	ThresholdCritical = 1

	// ThresholdWarning applies throttling when the remaining budget falls
	// below this value.
	ThresholdWarning = 5

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 20

	// DefaultRemaining is assumed for hosts without recorded state.
	DefaultRemaining = 100
)

// RedisKey returns the Redis hash holding the state of host.
func RedisKey(host string) string {
	return RedisKeyPrefix + host
}

// State represents the announced request budget of one host.
type State struct {
	// Host the budget applies to.
	Host string `json:"host"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must wait for the reset.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
