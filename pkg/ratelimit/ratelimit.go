// Package ratelimit gates state-changing updates per connection.
package ratelimit

import "time"

const (
	// DefaultMinInterval is the minimum time between accepted movement
	// updates on one connection.
	DefaultMinInterval = 50 * time.Millisecond
)

// Limiter admits at most one update per minInterval. The clock advances
// on every admitted attempt, whether or not the update is subsequently
// accepted by validation, so it bounds update frequency rather than
// successful-change frequency.
//
// A Limiter is owned by a single session and driven from its sequential
// read loop, so it needs no locking.
type Limiter struct {
	minInterval    time.Duration
	lastAcceptedAt time.Time
}

// New creates a limiter. minInterval <= 0 selects the default.
func New(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Limiter{minInterval: minInterval}
}

// Allow reports whether an update arriving at now is admitted, and
// advances the limiter clock when it is.
func (l *Limiter) Allow(now time.Time) bool {
	if !l.lastAcceptedAt.IsZero() && now.Sub(l.lastAcceptedAt) < l.minInterval {
		return false
	}
	l.lastAcceptedAt = now
	return true
}
