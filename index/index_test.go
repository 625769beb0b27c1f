package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrwc/gateway/adapter"
	"github.com/qrwc/gateway/errors"
)

type fakeSource struct {
	components []adapter.Component
	controls   map[string]*adapter.ComponentControls
	failFor    map[string]bool
}

func (f *fakeSource) GetComponents(ctx context.Context, policy adapter.RetryPolicy) ([]adapter.Component, error) {
	return f.components, nil
}

func (f *fakeSource) GetComponentControls(ctx context.Context, name string, policy adapter.RetryPolicy) (*adapter.ComponentControls, error) {
	if f.failFor[name] {
		return nil, errors.NewCategory(errors.CategoryCommandFailed, "boom")
	}
	return f.controls[name], nil
}

func TestRefresh_BuildsLookupTableKeyedByComponentDotControl(t *testing.T) {
	src := &fakeSource{
		components: []adapter.Component{{Name: "Mixer1", Type: "mixer"}},
		controls: map[string]*adapter.ComponentControls{
			"Mixer1": {Name: "Mixer1", Controls: []adapter.ControlInfo{{Name: "gain", Type: "Float"}}},
		},
	}
	idx := New(src)
	require.NoError(t, idx.Refresh(context.Background()))

	info, ok := idx.Lookup("Mixer1.gain")
	require.True(t, ok)
	assert.Equal(t, "Float", info.Type)
	assert.True(t, idx.Resolve("Mixer1.gain"))
	assert.False(t, idx.Resolve("Mixer1.nope"))
}

func TestRefresh_TolerantOfPerComponentFailures(t *testing.T) {
	src := &fakeSource{
		components: []adapter.Component{
			{Name: "Good", Type: "mixer"},
			{Name: "Bad", Type: "mixer"},
		},
		controls: map[string]*adapter.ComponentControls{
			"Good": {Name: "Good", Controls: []adapter.ControlInfo{{Name: "mute", Type: "Boolean"}}},
		},
		failFor: map[string]bool{"Bad": true},
	}
	idx := New(src)
	require.NoError(t, idx.Refresh(context.Background()))

	_, ok := idx.Lookup("Good.mute")
	assert.True(t, ok)
	_, ok = idx.Lookup("Bad.anything")
	assert.False(t, ok)

	comps := idx.ListComponents()
	assert.Len(t, comps, 2)
}

func TestListControls_FiltersByTypeCaseInsensitively(t *testing.T) {
	src := &fakeSource{
		components: []adapter.Component{{Name: "C", Type: "mixer"}},
		controls: map[string]*adapter.ComponentControls{
			"C": {Name: "C", Controls: []adapter.ControlInfo{
				{Name: "gain", Type: "Float"},
				{Name: "mute", Type: "Boolean"},
			}},
		},
	}
	idx := New(src)
	require.NoError(t, idx.Refresh(context.Background()))

	floats := idx.ListControls("float")
	require.Len(t, floats, 1)
	assert.Equal(t, "C.gain", floats[0].Path)

	all := idx.ListControls("")
	assert.Len(t, all, 2)
}

func TestComponent_LooksUpByName(t *testing.T) {
	src := &fakeSource{components: []adapter.Component{{Name: "C1", Type: "mixer"}}, controls: map[string]*adapter.ComponentControls{}}
	idx := New(src)
	require.NoError(t, idx.Refresh(context.Background()))

	c, ok := idx.Component("C1")
	require.True(t, ok)
	assert.Equal(t, "mixer", c.Type)

	_, ok = idx.Component("missing")
	assert.False(t, ok)
}

func TestRefresh_PropagatesComponentListFailure(t *testing.T) {
	src := &fakeSource{}
	idx := New(src)
	src.components = nil

	// Simulate GetComponents itself failing by wrapping.
	failingSrc := &failingComponentsSource{err: errors.NewCategory(errors.CategoryConnectionFailed, "down")}
	idx2 := New(failingSrc)
	err := idx2.Refresh(context.Background())
	require.Error(t, err)
	_ = idx
}

type failingComponentsSource struct{ err error }

func (f *failingComponentsSource) GetComponents(ctx context.Context, policy adapter.RetryPolicy) ([]adapter.Component, error) {
	return nil, f.err
}

func (f *failingComponentsSource) GetComponentControls(ctx context.Context, name string, policy adapter.RetryPolicy) (*adapter.ComponentControls, error) {
	return nil, nil
}
