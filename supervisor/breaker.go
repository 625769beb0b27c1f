// Package supervisor owns the wire connection's lifecycle: reconnect backoff
// and the circuit breaker that shields the adapter from a known-bad core.
package supervisor

import (
	"sync"
	"time"

	"github.com/qrwc/gateway/errors"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is a three-state circuit breaker guarding calls against a
// connection that has recently failed repeatedly. After failureThreshold
// consecutive failures it opens and short-circuits every call until
// resetTimeout elapses, then admits one probe at a time (HalfOpen) until a
// recorded result decides whether to close again or re-open.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	timeNow          func() time.Time // injectable for testing

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// NewBreaker creates a circuit breaker with real time.
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	return NewBreakerWithClock(failureThreshold, resetTimeout, time.Now)
}

// NewBreakerWithClock creates a circuit breaker with an injectable clock.
func NewBreakerWithClock(failureThreshold int, resetTimeout time.Duration, timeNow func() time.Time) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		timeNow:          timeNow,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed, and transitions Open->HalfOpen
// once resetTimeout has elapsed. In HalfOpen only one probe is in flight at a
// time; concurrent callers arriving while a probe is in flight are refused.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.timeNow().Sub(b.openedAt) < b.resetTimeout {
			return errors.WithDetail(
				errors.Newf("circuit breaker open: %d consecutive failures", b.failures),
				"retry after reset timeout elapses",
			)
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return errors.New("circuit breaker half-open: probe already in flight")
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call. From HalfOpen it closes the
// breaker and resets the failure count; from Closed it just clears the count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	b.state = StateClosed
}

// RecordFailure reports a failed call. From HalfOpen, a failed probe re-opens
// the breaker immediately. From Closed, the breaker opens once failures
// reaches failureThreshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.timeNow()
		return
	case StateOpen:
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.timeNow()
	}
}

// Snapshot returns the current state and consecutive failure count.
func (b *Breaker) Snapshot() (State, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}

// Reset forces the breaker back to Closed with a zeroed failure count. Used
// when the supervisor observes an externally-confirmed healthy reconnect.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
}
