// Package ratelimit paces EDSM requests and tracks the API rate-limit window.
// It reads the X-Rate-Limit-Limit, X-Rate-Limit-Remaining and X-Rate-Limit-Reset
// headers EDSM returns on every response and holds requests back before the
// remaining budget runs out.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// EDSM rate-limit response headers.
const (
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderReset     = "X-Rate-Limit-Reset"
)

// Default thresholds for rate limit decisions.
const (
	// DefaultCriticalThreshold holds requests until the window resets when the
	// remaining budget falls below this value.
	DefaultCriticalThreshold = 5

	// DefaultWarningThreshold slows requests down when the remaining budget
	// falls below this value.
	DefaultWarningThreshold = 20
)

// State is the last observed EDSM rate-limit window.
type State struct {
	// Limit is the request budget of the window (X-Rate-Limit-Limit).
	Limit int `json:"limit"`

	// Remaining is the budget left in the window (X-Rate-Limit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the budget is fully restored, derived from
	// X-Rate-Limit-Reset (seconds from the response time).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the headers were observed.
	LastUpdate time.Time `json:"last_update"`
}

// ParseHeaders builds a State from EDSM response headers observed at now.
// It returns nil without error when the response carries no rate-limit
// headers.
func ParseHeaders(headers http.Header, now time.Time) (*State, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	state := &State{
		Remaining:  remain,
		ResetAt:    now,
		LastUpdate: now,
	}

	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	if resetStr := headers.Get(HeaderReset); resetStr != "" {
		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		state.ResetAt = now.Add(time.Duration(resetSeconds) * time.Second)
	}

	return state, nil
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must wait for the window reset.
func (s *State) NeedsCriticalBlock(threshold int) bool {
	return s.Remaining < threshold
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling(warning, critical int) bool {
	return s.Remaining < warning && !s.NeedsCriticalBlock(critical)
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
