package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
	"github.com/qrwc/gateway/supervisor"
)

// ConnectionStatus is the subset of supervisor.Supervisor the dispatcher
// needs to decide whether a connection-requiring tool should short-circuit.
type ConnectionStatus interface {
	GetState() supervisor.ConnState
}

// Result is the dispatcher's output shape: always JSON-serializable,
// never a thrown error across the boundary.
type Result struct {
	IsError bool
	Data    interface{}
}

const defaultTimeout = 30 * time.Second

// Dispatcher validates, routes, times out, and error-boundaries every tool
// invocation (C7's per-call contract).
type Dispatcher struct {
	registry *HandlerRegistry
	conn     ConnectionStatus
	timeout  time.Duration
	log      *zap.SugaredLogger
}

// New creates a dispatcher. conn may be nil in tests that don't exercise
// the not-connected short-circuit.
func New(registry *HandlerRegistry, conn ConnectionStatus, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{registry: registry, conn: conn, timeout: defaultTimeout, log: logger.AddToolsSymbol(log)}
}

// WithTimeout overrides the per-call deadline (default 30s).
func (d *Dispatcher) WithTimeout(t time.Duration) *Dispatcher {
	d.timeout = t
	return d
}

// notConnectedResult is what a connection-requiring tool returns when the
// supervisor reports anything other than Connected.
func notConnectedResult(toolName string) Result {
	return Result{
		IsError: false,
		Data: map[string]interface{}{
			"success": false,
			"error":   "Q-SYS Core not connected",
			"tool":    toolName,
			"_metadata": map[string]interface{}{
				"error": "Q-SYS Core not connected",
			},
		},
	}
}

// Dispatch runs name's handler under the full C7 contract: unknown-tool
// rejection, the connection precondition, a timeout, and an error boundary
// that converts any panic or error into a structured result instead of
// propagating across the protocol boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args Args) (result Result) {
	handler, ok := d.registry.Get(name)
	if !ok {
		return Result{IsError: true, Data: errorPayload(
			errors.NewCategory(errors.CategoryToolNotFound, "no handler for tool").WithContext("tool", name))}
	}

	if handler.RequiresConnection() && d.conn != nil && d.conn.GetState() != supervisor.StateConnected {
		return notConnectedResult(name)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("tool handler panicked", "tool", name, "panic", r)
			result = Result{IsError: true, Data: map[string]interface{}{"error": fmt.Sprintf("internal error: %v", r)}}
		}
	}()

	data, err := handler.Execute(callCtx, args)
	if err != nil {
		if callCtx.Err() != nil {
			return Result{IsError: true, Data: map[string]interface{}{"error": "tool call timed out"}}
		}
		return Result{IsError: true, Data: errorPayload(err)}
	}

	return Result{IsError: false, Data: data}
}

func errorPayload(err error) map[string]interface{} {
	if cat, ok := errors.GetCategory(err); ok {
		return map[string]interface{}{"error": err.Error(), "code": string(cat)}
	}
	return map[string]interface{}{"error": err.Error()}
}

// MarshalResult renders a Result's Data as JSON text. server.go places that
// text in the MCP {content:[{type:"text", text:<json>}], isError?} shape.
func MarshalResult(r Result) (string, error) {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
