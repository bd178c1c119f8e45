// Package reprocess re-runs deduplication outside the main pipeline: after
// scraper completion, on manual triggers, and on a failsafe interval. Every
// invocation goes through a resilience wrapper with a store-level lock, a
// timeout, a circuit breaker, and a fallback copy-through path.
package reprocess

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current disposition.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breaker is a three-state circuit breaker. After threshold consecutive
// failures it opens; once the reset window passes the next attempt runs as a
// half-open probe whose outcome closes or re-opens the circuit.
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	threshold int
	reset     time.Duration

	consecutive int
	totalErrors int
	openedAt    time.Time
}

func newBreaker(threshold int, reset time.Duration) *breaker {
	return &breaker{state: BreakerClosed, threshold: threshold, reset: reset}
}

// allow reports whether an invocation may proceed, transitioning open to
// half_open once the reset window has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.reset {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// success records a successful invocation, closing the circuit.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.state = BreakerClosed
}

// failure records a failed invocation and returns the resulting state.
func (b *breaker) failure() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalErrors++
	b.consecutive++
	if b.state == BreakerHalfOpen || b.consecutive >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
	return b.state
}

// snapshot returns the breaker's counters for stats reporting.
func (b *breaker) snapshot() (BreakerState, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutive, b.totalErrors
}

// forceReset closes the circuit and clears the consecutive counter.
func (b *breaker) forceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutive = 0
}
