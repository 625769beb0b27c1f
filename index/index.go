// Package index is the component/control discovery cache: a single-writer,
// many-reader map refreshed from Component.GetComponents/GetControls,
// used for adapter validation and for the discovery tools (list_components,
// list_controls, qsys_get_all_controls).
package index

import (
	"context"
	"strings"
	"sync"

	"github.com/qrwc/gateway/adapter"
)

// ControlEntry is one discovered control, keyed by its fully-qualified
// "Component.Control" path.
type ControlEntry struct {
	Path          string
	ComponentName string
	adapter.ControlInfo
}

// Source is the subset of adapter.Adapter the index needs to refresh itself.
type Source interface {
	GetComponents(ctx context.Context, policy adapter.RetryPolicy) ([]adapter.Component, error)
	GetComponentControls(ctx context.Context, name string, policy adapter.RetryPolicy) (*adapter.ComponentControls, error)
}

// Index caches discovered components and controls. Refresh is the single
// writer; Lookup/ListComponents/ListControls are concurrent readers guarded
// by a read-write lock.
type Index struct {
	source Source

	mu         sync.RWMutex
	components []adapter.Component
	controls   map[string]ControlEntry
}

// New creates an empty index. Call Refresh before relying on Lookup.
func New(source Source) *Index {
	return &Index{source: source, controls: make(map[string]ControlEntry)}
}

// Refresh re-discovers every component and its controls, replacing the
// previous snapshot atomically once the new one is fully built.
func (x *Index) Refresh(ctx context.Context) error {
	comps, err := x.source.GetComponents(ctx, adapter.DefaultRetryPolicy())
	if err != nil {
		return err
	}

	controls := make(map[string]ControlEntry)
	for _, c := range comps {
		cc, err := x.source.GetComponentControls(ctx, c.Name, adapter.DefaultRetryPolicy())
		if err != nil || cc == nil {
			continue // partial discovery is better than none; caller can retry
		}
		for _, ctl := range cc.Controls {
			path := c.Name + "." + ctl.Name
			controls[path] = ControlEntry{Path: path, ComponentName: c.Name, ControlInfo: ctl}
		}
	}

	x.mu.Lock()
	x.components = comps
	x.controls = controls
	x.mu.Unlock()
	return nil
}

// Lookup satisfies adapter.Index.
func (x *Index) Lookup(path string) (adapter.ControlInfo, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.controls[path]
	return entry.ControlInfo, ok
}

// Resolve reports whether path names a known control, for use as the
// changegroup registry's add-controls resolver.
func (x *Index) Resolve(path string) bool {
	_, ok := x.Lookup(path)
	return ok
}

// ListComponents returns every discovered component.
func (x *Index) ListComponents() []adapter.Component {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]adapter.Component, len(x.components))
	copy(out, x.components)
	return out
}

// ListControls returns every discovered control, optionally filtered by
// controlType (case-insensitive match against the control's Type).
func (x *Index) ListControls(controlType string) []ControlEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]ControlEntry, 0, len(x.controls))
	for _, entry := range x.controls {
		if controlType != "" && !strings.EqualFold(entry.Type, controlType) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Component returns the discovered metadata for name.
func (x *Index) Component(name string) (adapter.Component, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, c := range x.components {
		if c.Name == name {
			return c, true
		}
	}
	return adapter.Component{}, false
}
