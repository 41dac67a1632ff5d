// Package ratelimit tracks the report API's rate-limit headers and gates
// outgoing requests. It reads X-RateLimit-Remaining, X-RateLimit-Reset and
// Retry-After so the client backs off before the server starts refusing.
package ratelimit

import (
	"time"
)

// Response headers consulted by the tracker.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests until the window resets when the
	// remaining budget falls below this value.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when the remaining budget falls
	// below this value.
	ThresholdWarning = 20

	// ThresholdHealthy marks the budget as healthy at or above this value.
	ThresholdHealthy = 50
)

// State is the last rate-limit state reported by the server.
type State struct {
	// Remaining is the request budget left in the current window.
	// Only meaningful when Known is true.
	Remaining int `json:"remaining"`

	// Known is false until a response carried X-RateLimit-Remaining.
	Known bool `json:"known"`

	// ResetAt is when the current window resets.
	ResetAt time.Time `json:"reset_at"`

	// RetryAfter is the earliest time the server asked to be contacted again.
	RetryAfter time.Time `json:"retry_after"`

	// LastUpdate is when the state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true while the budget is unknown or >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state was refreshed more than maxAge before now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should wait for the window reset.
func (s *State) NeedsCriticalBlock() bool {
	return s.Known && s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be spaced out.
func (s *State) NeedsThrottling() bool {
	return s.Known && s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// BlockedFor returns how long a request issued at now has to wait: the
// larger of the Retry-After delay and, in the critical band, the time
// until reset.
func (s *State) BlockedFor(now time.Time) time.Duration {
	var d time.Duration
	if ra := s.RetryAfter.Sub(now); ra > 0 {
		d = ra
	}
	if s.NeedsCriticalBlock() {
		if r := s.TimeUntilReset(now); r > d {
			d = r
		}
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = !s.Known || s.Remaining >= ThresholdHealthy
}
