// Package ratelimit tracks per-host request budgets reported by upstream
// APIs and gates requests before the budget runs out.
//
// Budgets are read from the X-RateLimit-Remaining, X-RateLimit-Limit and
// X-RateLimit-Reset response headers and shared across processes via Redis.
package ratelimit

import (
	"time"
)

// KeyPrefix namespaces rate limit state in Redis. The full key is
// KeyPrefix:<host>.
const KeyPrefix = "fanout:rate_limit"

// Hash fields of the per-host state.
const (
	fieldRemaining  = "remaining"
	fieldLimit      = "limit"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// unknownRemaining is assumed until a host reports its budget.
const unknownRemaining = 100

// Thresholds decide how a remaining budget is treated.
type Thresholds struct {
	// Critical blocks all requests when remaining falls below this value.
	Critical int

	// Warning throttles requests when remaining falls below this value.
	Warning int

	// Healthy marks the state healthy at or above this value.
	Healthy int
}

// DefaultThresholds returns the default gating thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: 5,
		Warning:  20,
		Healthy:  50,
	}
}

// State is the last known budget of one host.
type State struct {
	Host string `json:"host"`

	// Remaining requests in the current window.
	Remaining int `json:"remaining"`

	// Limit is the window size, 0 if the host does not report it.
	Limit int `json:"limit"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`

	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock reports whether requests must be blocked.
func (s *State) NeedsCriticalBlock(th Thresholds) bool {
	return s.Remaining < th.Critical
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *State) NeedsThrottling(th Thresholds) bool {
	return s.Remaining < th.Warning && !s.NeedsCriticalBlock(th)
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy.
func (s *State) UpdateHealth(th Thresholds) {
	s.IsHealthy = s.Remaining >= th.Healthy
}

func defaultState(host string, th Thresholds) *State {
	now := time.Now()
	s := &State{
		Host:       host,
		Remaining:  max(unknownRemaining, th.Healthy),
		ResetAt:    now,
		LastUpdate: now,
	}
	s.UpdateHealth(th)
	return s
}
