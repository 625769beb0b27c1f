// Package changegroup implements the change-group registry (C4): named
// subscriptions of control paths with a polling cadence, against which
// differential snapshots are emitted.
package changegroup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
)

// State is one of a group's three lifecycle states.
type State string

const (
	StateCreated   State = "Created"
	StatePolling   State = "Polling"
	StateDestroyed State = "Destroyed"
)

const (
	minPollRate            = 0.03
	maxPollRate            = 3600.0
	maxConsecutiveFailures = 10
)

// ChangeEvent is one control's delta, as appended to an emitted changeGroup:changes batch.
type ChangeEvent struct {
	ChangeGroupID   string
	ControlPath     string
	ComponentName   string
	ControlName     string
	Value           float64
	StringValue     string
	Source          string // changeGroup | sdk-control-event | state-change
	TimestampMillis int64
}

// Sink receives emitted changes. Implemented by the SQLite event store and by
// the fan-out sink in cmd/qrwc-gateway/serve.go, which also feeds the ring
// cache; a registry's sink may be nil.
type Sink interface {
	Append(changes []ChangeEvent)
}

// PollFunc reads current values for a batch of control paths. Bound to the
// command adapter's GetControlValues in production.
type PollFunc func(ctx context.Context, paths []string) (map[string]ControlSnapshot, error)

// ControlSnapshot is a control's value as read by PollFunc.
type ControlSnapshot struct {
	Value  float64
	String string
}

// EventEmitter is notified of lifecycle events (changeGroup:autoPollStarted,
// changeGroup:autoPollStopped, changeGroup:activated, changeGroup:deactivated).
// A typed, directional callback per signal avoids the string-keyed listener
// tables that silently drop renamed events.
type EventEmitter interface {
	OnAutoPollStarted(groupID string, rate float64)
	OnAutoPollStopped(groupID string, reason string)
	OnActivated(groupID string)
	OnDeactivated(groupID string)
	OnChanges(groupID string, changes []ChangeEvent, timestampMs int64)
}

// NopEmitter implements EventEmitter as a no-op for callers that don't need
// lifecycle notifications (most test code).
type NopEmitter struct{}

func (NopEmitter) OnAutoPollStarted(string, float64)      {}
func (NopEmitter) OnAutoPollStopped(string, string)       {}
func (NopEmitter) OnActivated(string)                     {}
func (NopEmitter) OnDeactivated(string)                   {}
func (NopEmitter) OnChanges(string, []ChangeEvent, int64) {}

type group struct {
	id       string
	state    State
	controls map[string]bool // set of control paths, preserves across duplicate create
	snapshot map[string]ControlSnapshot
	firstTick bool

	pollRate float64
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	consecutiveFailures int
}

// Registry owns every change group's lifecycle and auto-poll loop.
type Registry struct {
	poll     PollFunc
	sink     Sink
	emitter  EventEmitter
	log      *zap.SugaredLogger
	nowMilli func() int64

	mu     sync.Mutex
	groups map[string]*group
}

// New creates a registry. poll is used to read current control values on
// each auto-poll tick; sink receives emitted changes (may be nil).
func New(poll PollFunc, sink Sink, emitter EventEmitter, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Registry{
		poll:     poll,
		sink:     sink,
		emitter:  emitter,
		log:      logger.AddChangeGroupSymbol(log),
		nowMilli: func() int64 { return time.Now().UnixMilli() },
		groups:   make(map[string]*group),
	}
}

// AddControlsResult reports how many controls were actually added, and
// whether the group pre-existed (duplicate-create semantics).
type AddControlsResult struct {
	AddedCount    int
	SurvivedCount int
	PreExisted    bool
}

// AddControls creates the group if new, or merges controls into an existing
// group (set-union, no loss). Paths that do not resolve are rejected by the
// caller-supplied resolver before reaching the registry; resolve is called
// here to keep that contract in one place.
func (r *Registry) AddControls(groupID string, paths []string, resolve func(string) bool) AddControlsResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, preExisted := r.groups[groupID]
	if !preExisted {
		g = &group{id: groupID, state: StateCreated, controls: make(map[string]bool), firstTick: true}
		r.groups[groupID] = g
		r.emitter.OnActivated(groupID)
	}

	added := 0
	for _, p := range paths {
		if resolve != nil && !resolve(p) {
			continue
		}
		if !g.controls[p] {
			g.controls[p] = true
			added++
		}
	}

	return AddControlsResult{AddedCount: added, SurvivedCount: len(g.controls), PreExisted: preExisted}
}

// RemoveControls removes the given paths from the group's control set.
func (r *Registry) RemoveControls(groupID string, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return errors.NewCategory(errors.CategoryInvalidComponent, "unknown change group").WithContext("groupId", groupID)
	}
	for _, p := range paths {
		delete(g.controls, p)
	}
	return nil
}

// Clear empties the group's control set without destroying the group.
func (r *Registry) Clear(groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return errors.NewCategory(errors.CategoryInvalidComponent, "unknown change group").WithContext("groupId", groupID)
	}
	g.controls = make(map[string]bool)
	return nil
}

// State returns a group's current lifecycle state.
func (r *Registry) State(groupID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return "", false
	}
	return g.state, true
}

// Controls returns a snapshot of a group's current control-path set.
func (r *Registry) Controls(groupID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(g.controls))
	for p := range g.controls {
		paths = append(paths, p)
	}
	return paths
}

// AutoPoll starts (or restarts, at a new rate) a group's poll timer.
// pollRate is a period in seconds and must be within [0.03, 3600].
func (r *Registry) AutoPoll(ctx context.Context, groupID string, pollRate float64) error {
	if pollRate == 0 {
		pollRate = minPollRate
	}
	if pollRate < minPollRate || pollRate > maxPollRate {
		return errors.NewCategory(errors.CategoryValidationFailed, "Invalid poll rate").
			WithContext("rate", pollRate).WithContext("min", minPollRate).WithContext("max", maxPollRate)
	}

	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return errors.NewCategory(errors.CategoryInvalidComponent, "unknown change group").WithContext("groupId", groupID)
	}

	priorCancel := g.cancel
	r.mu.Unlock()

	if priorCancel != nil {
		priorCancel()
		g.wg.Wait()
	}

	r.mu.Lock()
	pollCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.pollRate = pollRate
	g.state = StatePolling
	g.consecutiveFailures = 0
	g.wg.Add(1)
	r.mu.Unlock()

	r.emitter.OnAutoPollStarted(groupID, pollRate)

	go r.runTicker(pollCtx, g)

	return nil
}

// runTicker drives the group's poll loop every pollRate seconds (pollRate is
// a period, not a frequency). Ticks run one at a time in this goroutine, and
// a per-group token-bucket limiter (twice the tick rate, burst 1) caps how
// often they can fire; the limiter does not coordinate across groups.
func (r *Registry) runTicker(ctx context.Context, g *group) {
	defer g.wg.Done()

	interval := time.Duration(g.pollRate * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	limiter := rate.NewLimiter(rate.Limit(2/g.pollRate), 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			r.tick(ctx, g)
		}
	}
}

func (r *Registry) tick(ctx context.Context, g *group) {
	r.mu.Lock()
	paths := make([]string, 0, len(g.controls))
	for p := range g.controls {
		paths = append(paths, p)
	}
	r.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	values, err := r.poll(ctx, paths)
	if err != nil {
		r.mu.Lock()
		g.consecutiveFailures++
		failures := g.consecutiveFailures
		r.mu.Unlock()

		if failures >= maxConsecutiveFailures {
			r.mu.Lock()
			if g.cancel != nil {
				g.cancel()
			}
			r.mu.Unlock()
			r.emitter.OnAutoPollStopped(g.id, "repeated-failures")
		}
		return
	}

	r.mu.Lock()
	g.consecutiveFailures = 0
	if g.snapshot == nil {
		g.snapshot = make(map[string]ControlSnapshot)
	}

	now := r.nowMilli()
	var changes []ChangeEvent
	source := "state-change"
	if g.firstTick {
		source = "sdk-control-event"
	}

	for path, v := range values {
		prev, known := g.snapshot[path]
		if known && prev == v {
			continue
		}
		g.snapshot[path] = v
		if !known && !g.firstTick {
			continue
		}
		changes = append(changes, ChangeEvent{
			ChangeGroupID:   g.id,
			ControlPath:     path,
			ComponentName:   componentOf(path),
			ControlName:     controlOf(path),
			Value:           v.Value,
			StringValue:     v.String,
			Source:          source,
			TimestampMillis: now,
		})
	}
	g.firstTick = false
	r.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	if r.sink != nil {
		r.sink.Append(changes)
	}
	r.emitter.OnChanges(g.id, changes, now)
}

func componentOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return ""
}

func controlOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}

// Destroy cancels the poll timer, removes the group, and emits
// autoPollStopped + deactivated. A subsequent query against the
// destroyed id against the event sinks still succeeds; the registry itself
// forgets the group.
func (r *Registry) Destroy(groupID string) error {
	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return errors.NewCategory(errors.CategoryInvalidComponent, "unknown change group").WithContext("groupId", groupID)
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.state = StateDestroyed
	delete(r.groups, groupID)
	r.mu.Unlock()

	g.wg.Wait()
	r.emitter.OnAutoPollStopped(groupID, "destroyed")
	r.emitter.OnDeactivated(groupID)
	return nil
}

// List returns every currently-registered group id.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	return ids
}
