package changegroup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	calls [][]ChangeEvent
}

func (s *recordingSink) Append(changes []ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, changes)
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += len(c)
	}
	return n
}

func allowAll(string) bool { return true }

func TestAddControls_CreatesNewGroup(t *testing.T) {
	r := New(nil, nil, nil, nil)
	result := r.AddControls("g1", []string{"A.gain", "A.mute"}, allowAll)

	assert.False(t, result.PreExisted)
	assert.Equal(t, 2, result.AddedCount)
	assert.Equal(t, 2, result.SurvivedCount)

	state, ok := r.State("g1")
	require.True(t, ok)
	assert.Equal(t, StateCreated, state)
}

func TestAddControls_DuplicateCreateMergesWithoutLoss(t *testing.T) {
	r := New(nil, nil, nil, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)
	result := r.AddControls("g1", []string{"A.gain", "B.mute"}, allowAll)

	assert.True(t, result.PreExisted)
	assert.Equal(t, 1, result.AddedCount) // only B.mute is new
	assert.Equal(t, 2, result.SurvivedCount)

	controls := r.Controls("g1")
	assert.ElementsMatch(t, []string{"A.gain", "B.mute"}, controls)
}

func TestAddControls_RejectsUnresolvedPaths(t *testing.T) {
	r := New(nil, nil, nil, nil)
	resolve := func(p string) bool { return p != "Bogus.path" }
	result := r.AddControls("g1", []string{"A.gain", "Bogus.path"}, resolve)

	assert.Equal(t, 1, result.AddedCount)
	assert.ElementsMatch(t, []string{"A.gain"}, r.Controls("g1"))
}

func TestAutoPoll_RejectsOutOfRangeRate(t *testing.T) {
	r := New(nil, nil, nil, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)

	err := r.AutoPoll(context.Background(), "g1", 0.02)
	require.Error(t, err)

	err = r.AutoPoll(context.Background(), "g1", 3600.1)
	require.Error(t, err)
}

func TestAutoPoll_AcceptsBoundaryRates(t *testing.T) {
	r := New(func(ctx context.Context, paths []string) (map[string]ControlSnapshot, error) {
		return map[string]ControlSnapshot{}, nil
	}, nil, nil, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.AutoPoll(ctx, "g1", minPollRate))
	state, _ := r.State("g1")
	assert.Equal(t, StatePolling, state)

	require.NoError(t, r.AutoPoll(ctx, "g1", maxPollRate))
}

func TestAutoPoll_MinPeriodProducesAboutThirtyTicksPerSecond(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	poll := func(ctx context.Context, paths []string) (map[string]ControlSnapshot, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return map[string]ControlSnapshot{}, nil
	}

	r := New(poll, nil, nil, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.AutoPoll(ctx, "g1", minPollRate)) // 0.03s period == ~33Hz

	time.Sleep(time.Second)

	mu.Lock()
	n := calls
	mu.Unlock()
	assert.InDelta(t, 33, n, 10) // ~30-36 ticks/s at a 30ms period, allowing for scheduling jitter
}

func TestAutoPoll_EmitsChangesOnFirstTickAndOnDelta(t *testing.T) {
	sink := &recordingSink{}
	value := 1.0
	var mu sync.Mutex
	poll := func(ctx context.Context, paths []string) (map[string]ControlSnapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		return map[string]ControlSnapshot{"A.gain": {Value: value}}, nil
	}

	r := New(poll, sink, nil, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.AutoPoll(ctx, "g1", minPollRate)) // fastest allowed period, for test speed

	require.Eventually(t, func() bool { return sink.total() >= 1 }, time.Second, time.Millisecond)

	mu.Lock()
	value = 2.0
	mu.Unlock()

	require.Eventually(t, func() bool { return sink.total() >= 2 }, time.Second, time.Millisecond)
}

func TestAutoPoll_SuspendsAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	stopped := false
	calls := 0

	poll := func(ctx context.Context, paths []string) (map[string]ControlSnapshot, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, assertErr{}
	}

	emitter := &captureEmitter{onStop: func(id, reason string) {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}}

	r := New(poll, nil, emitter, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.AutoPoll(ctx, "g1", minPollRate))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	n := calls
	mu.Unlock()
	assert.GreaterOrEqual(t, n, maxConsecutiveFailures)
}

type assertErr struct{}

func (assertErr) Error() string { return "poll failed" }

type captureEmitter struct {
	NopEmitter
	onStop func(id, reason string)
}

func (c *captureEmitter) OnAutoPollStopped(id, reason string) {
	if c.onStop != nil {
		c.onStop(id, reason)
	}
}

func TestDestroy_CancelsTimerAndForgetsGroup(t *testing.T) {
	r := New(func(ctx context.Context, paths []string) (map[string]ControlSnapshot, error) {
		return map[string]ControlSnapshot{}, nil
	}, nil, nil, nil)
	r.AddControls("g1", []string{"A.gain"}, allowAll)
	require.NoError(t, r.AutoPoll(context.Background(), "g1", 10))

	require.NoError(t, r.Destroy("g1"))

	_, ok := r.State("g1")
	assert.False(t, ok)
}

func TestDestroy_UnknownGroupErrors(t *testing.T) {
	r := New(nil, nil, nil, nil)
	err := r.Destroy("missing")
	require.Error(t, err)
}

func TestComponentAndControlPathSplit(t *testing.T) {
	assert.Equal(t, "Mixer 1", componentOf("Mixer 1.gain"))
	assert.Equal(t, "gain", controlOf("Mixer 1.gain"))
	assert.Equal(t, "", componentOf("gain"))
}
