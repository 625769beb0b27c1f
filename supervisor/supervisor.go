package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
	"github.com/qrwc/gateway/wire"
)

// ConnState is the supervisor's observable connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ReconnectPolicy configures the backoff schedule.
type ReconnectPolicy struct {
	BaseInterval time.Duration
	Ceiling      time.Duration
	MaxAttempts  int
	Enabled      bool
}

// BreakerPolicy configures the circuit breaker.
type BreakerPolicy struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// HealthStatus is the snapshot returned by GetHealthStatus.
type HealthStatus struct {
	State               ConnState `json:"state"`
	BreakerState        State     `json:"breakerState"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	TotalAttempts       int64     `json:"totalAttempts"`
	TotalSuccesses      int64     `json:"totalSuccesses"`
	Healthy             bool      `json:"healthy"`
}

// Supervisor owns one wire.Client's lifecycle: dial, exponential-backoff
// reconnect, and the circuit breaker that shields the adapter (C3) from a
// known-bad core.
type Supervisor struct {
	client  *wire.Client
	wireCfg wire.Config
	reconn  ReconnectPolicy
	breaker *Breaker
	log     *zap.SugaredLogger

	mu                  sync.RWMutex
	state               ConnState
	consecutiveFailures int
	totalAttempts       int64
	totalSuccesses      int64

	successesInHalfOpen int
	successThreshold    int

	cancel context.CancelFunc
}

// New creates a supervisor for the given wire configuration. A nil log
// falls back to a no-op logger, which test code relies on.
func New(wireCfg wire.Config, reconn ReconnectPolicy, breaker BreakerPolicy, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{
		wireCfg:          wireCfg,
		reconn:           reconn,
		breaker:          NewBreaker(breaker.FailureThreshold, breaker.OpenTimeout),
		successThreshold: breaker.SuccessThreshold,
		state:            StateDisconnected,
		log:              logger.AddSupervisorSymbol(log),
	}
}

// Client returns the underlying wire client for the adapter to issue frames
// through. Nil until the first successful Connect.
func (s *Supervisor) Client() *wire.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// GetState returns the current connection state.
func (s *Supervisor) GetState() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetCircuitBreakerState returns the breaker's current state.
func (s *Supervisor) GetCircuitBreakerState() State {
	state, _ := s.breaker.Snapshot()
	return state
}

// IsHealthy reports connected and breaker Closed and zero consecutive failures
// (neither failed dials nor breaker-recorded command failures).
func (s *Supervisor) IsHealthy() bool {
	s.mu.RLock()
	state, failures := s.state, s.consecutiveFailures
	s.mu.RUnlock()

	breakerState, breakerFailures := s.breaker.Snapshot()
	return state == StateConnected && breakerState == StateClosed && failures == 0 && breakerFailures == 0
}

// GetHealthStatus returns a full health snapshot.
func (s *Supervisor) GetHealthStatus() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	breakerState, failures := s.breaker.Snapshot()
	return HealthStatus{
		State:               s.state,
		BreakerState:        breakerState,
		ConsecutiveFailures: failures,
		TotalAttempts:       s.totalAttempts,
		TotalSuccesses:      s.totalSuccesses,
		Healthy:             s.state == StateConnected && breakerState == StateClosed && s.consecutiveFailures == 0 && failures == 0,
	}
}

// Connect dials the wire client and, if enabled, starts the reconnect loop
// watching for disconnection events.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	client := wire.New(s.wireCfg, s.log)
	if err := client.Dial(ctx); err != nil {
		s.recordFailure()
		return err
	}

	s.mu.Lock()
	s.client = client
	s.state = StateConnected
	s.mu.Unlock()
	s.recordSuccess()

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.watch(runCtx, client)

	return nil
}

// Disconnect stops the reconnect watcher and closes the wire client.
func (s *Supervisor) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	client := s.client
	s.state = StateDisconnected
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// CheckHealth is a no-op liveness probe suitable for periodic calling by the
// dispatcher's manage_connection tool; it simply re-reads current state.
func (s *Supervisor) CheckHealth(ctx context.Context) HealthStatus {
	return s.GetHealthStatus()
}

// Allow reports whether a command may proceed through the breaker, per
// the breaker's Closed/Open/HalfOpen semantics. Callers must check this before
// issuing a command and must call RecordSuccess/RecordFailure after.
func (s *Supervisor) Allow() error {
	if s.GetState() != StateConnected {
		return errors.NewCategory(errors.CategoryConnectionFailed, "not connected")
	}
	if err := s.breaker.Allow(); err != nil {
		return errors.WrapCategory(errors.CategoryCircuitOpen, err, "circuit breaker refused call")
	}
	return nil
}

// RecordSuccess reports a successful command to the breaker. In HalfOpen the
// breaker closes only once successThreshold successes are recorded; each
// earlier success frees the probe slot so the next probe is admitted.
func (s *Supervisor) RecordSuccess() {
	state, _ := s.breaker.Snapshot()
	if state == StateHalfOpen {
		s.mu.Lock()
		s.successesInHalfOpen++
		reached := s.successesInHalfOpen >= s.successThreshold
		s.mu.Unlock()
		if reached {
			s.breaker.RecordSuccess()
			s.mu.Lock()
			s.successesInHalfOpen = 0
			s.mu.Unlock()
		} else {
			s.breaker.mu.Lock()
			s.breaker.probeInFlight = false
			s.breaker.mu.Unlock()
		}
		return
	}
	s.breaker.RecordSuccess()
}

// RecordFailure reports a failed command to the breaker.
func (s *Supervisor) RecordFailure() {
	s.mu.Lock()
	s.successesInHalfOpen = 0
	s.mu.Unlock()
	s.breaker.RecordFailure()
}

func (s *Supervisor) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSuccesses++
	s.consecutiveFailures = 0
}

func (s *Supervisor) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts++
	s.consecutiveFailures++
}

// watch observes the wire client's Events channel and drives reconnection
// after a disconnect, per the exponential backoff schedule:
// attempt n fires at min(base * 2^(n-1), ceiling).
func (s *Supervisor) watch(ctx context.Context, client *wire.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			if ev.Name == "disconnected" {
				s.mu.Lock()
				s.state = StateDisconnected
				s.mu.Unlock()
				if s.reconn.Enabled {
					s.reconnectLoop(ctx)
				}
				return
			}
		}
	}
}

func (s *Supervisor) reconnectLoop(ctx context.Context) {
	for attempt := 1; s.reconn.MaxAttempts == 0 || attempt <= s.reconn.MaxAttempts; attempt++ {
		delay := backoffDelay(s.reconn.BaseInterval, s.reconn.Ceiling, attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.log.Infow("attempting reconnect", "attempt", attempt, "delay", delay)
		s.mu.Lock()
		s.totalAttempts++
		s.mu.Unlock()

		client := wire.New(s.wireCfg, s.log)
		if err := client.Dial(ctx); err != nil {
			s.recordFailure()
			continue
		}

		s.mu.Lock()
		s.client = client
		s.state = StateConnected
		s.mu.Unlock()
		s.recordSuccess()

		go s.watch(ctx, client)
		return
	}

	s.log.Warnw("reconnect attempts exhausted", "maxAttempts", s.reconn.MaxAttempts)
}

// backoffDelay computes min(base * 2^(attempt-1), ceiling).
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}
