package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/supervisor"
)

type fakeHandler struct {
	name       string
	needsConn  bool
	execute    func(ctx context.Context, args Args) (interface{}, error)
}

func (h fakeHandler) Name() string             { return h.name }
func (h fakeHandler) RequiresConnection() bool { return h.needsConn }
func (h fakeHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	return h.execute(ctx, args)
}

type fakeConn struct{ state supervisor.ConnState }

func (f fakeConn) GetState() supervisor.ConnState { return f.state }

func TestDispatch_UnknownToolReturnsStructuredError(t *testing.T) {
	d := New(NewHandlerRegistry(), nil, nil)
	result := d.Dispatch(context.Background(), "nope", nil)
	assert.True(t, result.IsError)
}

func TestDispatch_ConnectionRequiredShortCircuitsWhenDisconnected(t *testing.T) {
	reg := NewHandlerRegistry()
	called := false
	reg.Register(fakeHandler{name: "t1", needsConn: true, execute: func(ctx context.Context, args Args) (interface{}, error) {
		called = true
		return "ok", nil
	}})
	d := New(reg, fakeConn{state: supervisor.StateDisconnected}, nil)

	result := d.Dispatch(context.Background(), "t1", nil)
	assert.False(t, called)
	assert.False(t, result.IsError)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, false, data["success"])
}

func TestDispatch_ConnectionOptOutRunsEvenWhenDisconnected(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register(fakeHandler{name: "t1", needsConn: false, execute: func(ctx context.Context, args Args) (interface{}, error) {
		return "ok", nil
	}})
	d := New(reg, fakeConn{state: supervisor.StateDisconnected}, nil)

	result := d.Dispatch(context.Background(), "t1", nil)
	assert.False(t, result.IsError)
	assert.Equal(t, "ok", result.Data)
}

func TestDispatch_ErrorBoundaryCatchesHandlerError(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register(fakeHandler{name: "t1", execute: func(ctx context.Context, args Args) (interface{}, error) {
		return nil, errors.NewCategory(errors.CategoryCommandFailed, "boom")
	}})
	d := New(reg, nil, nil)

	result := d.Dispatch(context.Background(), "t1", nil)
	assert.True(t, result.IsError)
}

func TestDispatch_ErrorBoundaryCatchesPanic(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register(fakeHandler{name: "t1", execute: func(ctx context.Context, args Args) (interface{}, error) {
		panic("kaboom")
	}})
	d := New(reg, nil, nil)

	result := d.Dispatch(context.Background(), "t1", nil)
	assert.True(t, result.IsError)
}

func TestDispatch_TimeoutReturnsErrorNotHang(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register(fakeHandler{name: "slow", execute: func(ctx context.Context, args Args) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too slow", nil
		}
	}})
	d := New(reg, nil, nil).WithTimeout(10 * time.Millisecond)

	result := d.Dispatch(context.Background(), "slow", nil)
	assert.True(t, result.IsError)
}

func TestMarshalResult_ProducesJSONText(t *testing.T) {
	text, err := MarshalResult(Result{Data: map[string]interface{}{"a": 1}})
	require.NoError(t, err)
	assert.Contains(t, text, `"a":1`)
}
