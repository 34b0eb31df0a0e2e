package transmit

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed means calls flow normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen means calls are blocked until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen means a single probe call is allowed.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker blocks egress after repeated transient failures. Each Breaker
// belongs to one Client; state is never shared across instances.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = time.Minute
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. When the reset timeout has
// elapsed on an open breaker it transitions to half-open and admits
// exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.state = BreakerClosed
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		// Failed probe reopens the circuit for another full timeout.
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.probeInFlight = false
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker currently blocks calls. Used by the
// readiness endpoint.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == BreakerOpen && time.Since(b.openedAt) < b.resetTimeout
}
