package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	require.NoError(t, b.Allow())
	state, failures := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, failures)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newMockClock(time.Now())
	b := NewBreakerWithClock(3, time.Second, clock.Now)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	state, failures := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 2, failures)

	require.NoError(t, b.Allow())
	b.RecordFailure()

	state, failures = b.Snapshot()
	assert.Equal(t, StateOpen, state)
	assert.Equal(t, 3, failures)

	err := b.Allow()
	assert.Error(t, err)
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	clock := newMockClock(time.Now())
	b := NewBreakerWithClock(1, 10*time.Second, clock.Now)

	require.NoError(t, b.Allow())
	b.RecordFailure()

	state, _ := b.Snapshot()
	require.Equal(t, StateOpen, state)

	assert.Error(t, b.Allow(), "still within reset timeout")

	clock.Advance(11 * time.Second)

	require.NoError(t, b.Allow(), "probe should be admitted once timeout elapses")
	state, _ = b.Snapshot()
	assert.Equal(t, StateHalfOpen, state)

	err := b.Allow()
	assert.Error(t, err, "second concurrent probe should be refused")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newMockClock(time.Now())
	b := NewBreakerWithClock(1, 10*time.Second, clock.Now)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()

	state, failures := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, failures)

	require.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newMockClock(time.Now())
	b := NewBreakerWithClock(1, 10*time.Second, clock.Now)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()

	state, _ := b.Snapshot()
	assert.Equal(t, StateOpen, state)
	assert.Error(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(1, time.Second)
	require.NoError(t, b.Allow())
	b.RecordFailure()

	state, _ := b.Snapshot()
	require.Equal(t, StateOpen, state)

	b.Reset()

	state, failures := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, failures)
	assert.NoError(t, b.Allow())
}

func TestBreaker_ConsecutiveFailuresExactThreshold(t *testing.T) {
	// Invariant: after exactly failureThreshold consecutive failures from
	// Closed, the next call fails with the breaker open, without invoking
	// the underlying function (callers check Allow before calling).
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}

	state, failures := b.Snapshot()
	assert.Equal(t, StateOpen, state)
	assert.Equal(t, 5, failures)
	assert.Error(t, b.Allow())
}
