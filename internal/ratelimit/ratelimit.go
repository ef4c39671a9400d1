// Package ratelimit implements the per-caller sliding-window gate applied
// before a call session is created.
//
// The limiter is process-local: counters reset on restart and are not shared
// across instances. Horizontally scaled deployments need an externally shared
// counter instead.
package ratelimit

import (
	"sync"
	"time"
)

// UnknownIdentity is the sentinel identity for calls whose caller could not
// be attributed. Unattributable calls are never throttled.
const UnknownIdentity = "unknown"

// Limiter tracks call acceptance timestamps per caller identity over a
// sliding window. All methods are safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	maxCalls int
	accepted map[string][]time.Time
}

// New creates a Limiter allowing maxCalls accepted calls per identity within
// the given window.
func New(window time.Duration, maxCalls int) *Limiter {
	return &Limiter{
		window:   window,
		maxCalls: maxCalls,
		accepted: make(map[string][]time.Time),
	}
}

// Allow reports whether a new call for identity may proceed at time now.
// An allowed call is recorded against the identity's window; a blocked call
// leaves the window untouched. The identities "" and [UnknownIdentity] are
// always allowed without bookkeeping.
func (l *Limiter) Allow(identity string, now time.Time) bool {
	if identity == "" || identity == UnknownIdentity {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Lazily evict entries that have aged out of the window.
	cutoff := now.Add(-l.window)
	kept := l.accepted[identity][:0]
	for _, ts := range l.accepted[identity] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.maxCalls {
		l.accepted[identity] = kept
		return false
	}

	l.accepted[identity] = append(kept, now)
	return true
}

// Pending returns the number of recorded calls for identity still inside the
// window at time now. Intended for testing and diagnostics.
func (l *Limiter) Pending(identity string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	n := 0
	for _, ts := range l.accepted[identity] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
