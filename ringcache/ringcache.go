// Package ringcache is the in-memory event sink (C5): one append-only ring
// per change group, bounded by count and age, with optional time-windowed
// compression. Eviction is per ring; GlobalMemoryLimitMB is only reported
// against in GetHealth, and exceeding it evicts nothing across groups.
package ringcache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qrwc/gateway/logger"
)

// Event is one change-group event as stored in the ring.
type Event struct {
	ChangeGroupID   string  `json:"changeGroupId"`
	ControlPath     string  `json:"controlPath"`
	ComponentName   string  `json:"componentName"`
	ControlName     string  `json:"controlName"`
	Value           float64 `json:"value"`
	StringValue     string  `json:"stringValue"`
	Source          string  `json:"source"` // changeGroup | sdk-control-event | state-change
	TimestampMillis int64   `json:"timestampMillis"`
	seq             uint64  // insertion order, for deterministic tie-break
}

// Config bounds a single ring.
type Config struct {
	MaxEvents            int
	MaxAgeMillis         int64
	GlobalMemoryLimitMB  int
	CompressionEnabled   bool
	RecentWindowMillis   int64
	MediumWindowMillis   int64
	SignificantChangePct float64
	MinTimeBetweenEvents int64
}

// DefaultConfig mirrors the documented defaults for ring sizing.
func DefaultConfig() Config {
	return Config{
		MaxEvents:            100000,
		MaxAgeMillis:         300000,
		GlobalMemoryLimitMB:  512,
		RecentWindowMillis:   60000,
		MediumWindowMillis:   300000,
		SignificantChangePct: 1.0,
		MinTimeBetweenEvents: 100,
	}
}

type ring struct {
	events []Event
	nextSeq uint64
}

// Cache holds one ring per change-group id.
type Cache struct {
	cfg Config
	log *zap.SugaredLogger

	mu    sync.RWMutex
	rings map[string]*ring
}

// New creates an empty cache.
func New(cfg Config, log *zap.SugaredLogger) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cache{cfg: cfg, log: logger.AddRingCacheSymbol(log), rings: make(map[string]*ring)}
}

// Append adds an event to its group's ring, evicting age-then-oldest-first
// once MaxEvents or MaxAgeMillis is exceeded.
func (c *Cache) Append(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rings[e.ChangeGroupID]
	if !ok {
		r = &ring{}
		c.rings[e.ChangeGroupID] = r
	}

	e.seq = r.nextSeq
	r.nextSeq++
	r.events = append(r.events, e)

	c.evictLocked(r, e.TimestampMillis)
}

func (c *Cache) evictLocked(r *ring, now int64) {
	if c.cfg.MaxAgeMillis > 0 {
		cutoff := now - c.cfg.MaxAgeMillis
		i := 0
		for i < len(r.events) && r.events[i].TimestampMillis < cutoff {
			i++
		}
		if i > 0 {
			r.events = r.events[i:]
		}
	}

	if c.cfg.MaxEvents > 0 && len(r.events) > c.cfg.MaxEvents {
		overflow := len(r.events) - c.cfg.MaxEvents
		r.events = r.events[overflow:]
	}
}

// Destroy removes a group's ring entirely. A subsequent query on
// a destroyed group's id should still see its history — callers that want
// that behavior should not call Destroy, only the change-group registry's
// disposal path does, once no further queries are expected.
func (c *Cache) Destroy(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rings, groupID)
}

// ValueFilterOp is one of the operators recognized by Query's ValueFilter.
type ValueFilterOp string

const (
	OpEQ       ValueFilterOp = "eq"
	OpNE       ValueFilterOp = "ne"
	OpGT       ValueFilterOp = "gt"
	OpGTE      ValueFilterOp = "gte"
	OpLT       ValueFilterOp = "lt"
	OpLTE      ValueFilterOp = "lte"
	OpContains ValueFilterOp = "contains"
)

// ValueFilter restricts a query to events matching an operator against Value.
type ValueFilter struct {
	Op    ValueFilterOp
	Value float64
}

// Query is the parameter surface shared with the SQLite store.
type Query struct {
	GroupID        string
	StartTime      *int64
	EndTime        *int64
	ControlNames   []string
	ControlPaths   []string
	ComponentNames []string
	ValueFilter    *ValueFilter
	Limit          int
	Offset         int
}

const defaultLimit = 10000

// Query returns events ordered by timestamp descending, capped at Limit
// (default 10000), with insertion order as the deterministic tie-break for
// equal timestamps within a group.
func (c *Cache) Query(q Query) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var matches []Event
	if q.GroupID != "" {
		if r, ok := c.rings[q.GroupID]; ok {
			matches = appendMatching(matches, r.events, q)
		}
	} else {
		for _, r := range c.rings {
			matches = appendMatching(matches, r.events, q)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].TimestampMillis != matches[j].TimestampMillis {
			return matches[i].TimestampMillis > matches[j].TimestampMillis
		}
		return matches[i].seq > matches[j].seq
	})

	if q.Offset > 0 {
		if q.Offset >= len(matches) {
			return nil
		}
		matches = matches[q.Offset:]
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func appendMatching(dst []Event, events []Event, q Query) []Event {
	for _, e := range events {
		if q.StartTime != nil && e.TimestampMillis < *q.StartTime {
			continue
		}
		if q.EndTime != nil && e.TimestampMillis > *q.EndTime {
			continue
		}
		if len(q.ControlNames) > 0 && !contains(q.ControlNames, e.ControlName) {
			continue
		}
		if len(q.ControlPaths) > 0 && !contains(q.ControlPaths, e.ControlPath) {
			continue
		}
		if len(q.ComponentNames) > 0 && !contains(q.ComponentNames, e.ComponentName) {
			continue
		}
		if q.ValueFilter != nil && !matchesValueFilter(e.Value, *q.ValueFilter) {
			continue
		}
		dst = append(dst, e)
	}
	return dst
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func matchesValueFilter(v float64, f ValueFilter) bool {
	switch f.Op {
	case OpEQ:
		return v == f.Value
	case OpNE:
		return v != f.Value
	case OpGT:
		return v > f.Value
	case OpGTE:
		return v >= f.Value
	case OpLT:
		return v < f.Value
	case OpLTE:
		return v <= f.Value
	case OpContains:
		return false // string containment has no meaning against a numeric Value
	default:
		return true
	}
}

// Health is the shape returned by GetHealth.
type Health struct {
	Status              string   `json:"status"` // healthy | degraded | unhealthy
	ErrorCount          int      `json:"errorCount"`
	MemoryUsageMB       float64  `json:"memoryUsageMB"`
	Percentage          float64  `json:"percentage"`
	CompressionActive   bool     `json:"compressionActive"`
	DiskSpilloverActive bool     `json:"diskSpilloverActive"`
	Groups              []string `json:"groups"`
}

// GetHealth reports memory usage as a rough estimate (fixed per-event cost)
// against GlobalMemoryLimitMB.
func (c *Cache) GetHealth() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	const bytesPerEvent = 128
	total := 0
	groups := make([]string, 0, len(c.rings))
	for id, r := range c.rings {
		total += len(r.events)
		groups = append(groups, id)
	}
	sort.Strings(groups)

	memMB := float64(total*bytesPerEvent) / (1024 * 1024)
	limitMB := float64(c.cfg.GlobalMemoryLimitMB)
	pct := 0.0
	if limitMB > 0 {
		pct = (memMB / limitMB) * 100
	}

	status := "healthy"
	if pct >= 100 {
		status = "unhealthy"
	} else if pct >= 80 {
		status = "degraded"
	}

	return Health{
		Status:              status,
		MemoryUsageMB:       memMB,
		Percentage:          pct,
		CompressionActive:   c.cfg.CompressionEnabled,
		DiskSpilloverActive: false,
		Groups:              groups,
	}
}

// Compact applies time-windowed down-sampling: events older than
// RecentWindowMillis are thinned, keeping only those whose value differs
// from the last-kept value by at least SignificantChangePct, subject to
// MinTimeBetweenEvents. Only meaningful when CompressionEnabled.
func (c *Cache) Compact(now int64) {
	if !c.cfg.CompressionEnabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.rings {
		r.events = compactRing(r.events, now, c.cfg)
	}
}

func compactRing(events []Event, now int64, cfg Config) []Event {
	recentCutoff := now - cfg.RecentWindowMillis
	kept := make([]Event, 0, len(events))
	var lastKept *Event

	for i := range events {
		e := events[i]
		if e.TimestampMillis >= recentCutoff {
			kept = append(kept, e)
			lastKept = &kept[len(kept)-1]
			continue
		}

		if lastKept == nil {
			kept = append(kept, e)
			lastKept = &kept[len(kept)-1]
			continue
		}

		elapsed := e.TimestampMillis - lastKept.TimestampMillis
		if elapsed < cfg.MinTimeBetweenEvents {
			continue
		}

		changePct := percentChange(lastKept.Value, e.Value)
		if changePct >= cfg.SignificantChangePct {
			kept = append(kept, e)
			lastKept = &kept[len(kept)-1]
		}
	}

	return kept
}

func percentChange(prev, next float64) float64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return 100
	}
	delta := next - prev
	if delta < 0 {
		delta = -delta
	}
	return (delta / absFloat(prev)) * 100
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Now is a small seam for tests; production callers pass time.Now().UnixMilli().
func Now() int64 {
	return time.Now().UnixMilli()
}
