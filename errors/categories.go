package errors

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category is a closed taxonomy of error kinds for the gateway's core paths
// (connection, adapter, change-group executor, dispatcher, event store).
// Callers branch on Category, never on message substrings.
type Category string

const (
	// CategoryConnectionFailed means the wire client is not currently usable.
	// Retryable by the connection supervisor.
	CategoryConnectionFailed Category = "QSYS_CONNECTION_FAILED"
	// CategoryCommandFailed means the DSP core returned a JSON-RPC error envelope.
	CategoryCommandFailed Category = "QSYS_COMMAND_FAILED"
	// CategoryUnknownCommand means the adapter does not recognize the method.
	CategoryUnknownCommand Category = "QSYS_UNKNOWN_COMMAND"
	// CategoryInvalidComponent means the named component is not in the index.
	CategoryInvalidComponent Category = "QSYS_INVALID_COMPONENT"
	// CategoryInvalidControl means the named control is not in the index.
	CategoryInvalidControl Category = "QSYS_INVALID_CONTROL"
	// CategoryValidationFailed means input failed schema or per-control constraints.
	CategoryValidationFailed Category = "VALIDATION_FAILED"
	// CategoryNetworkTimeout means a frame did not complete within its deadline.
	CategoryNetworkTimeout Category = "NETWORK_TIMEOUT"
	// CategoryNetworkDropped means the socket closed with requests outstanding.
	CategoryNetworkDropped Category = "NETWORK_DROPPED"
	// CategoryToolNotFound means the dispatcher has no handler for the tool name.
	CategoryToolNotFound Category = "MCP_TOOL_NOT_FOUND"
	// CategoryInvalidParams means a tool call's arguments failed schema validation.
	CategoryInvalidParams Category = "MCP_INVALID_PARAMS"
	// CategoryCircuitOpen means the breaker refused the call without invoking it.
	CategoryCircuitOpen Category = "CIRCUIT_OPEN"
)

// retryable records whether a category is worth retrying.
// CircuitOpen is "retryable" only in the sense of waiting for the breaker,
// never by immediately reissuing the call.
var retryable = map[Category]bool{
	CategoryConnectionFailed: true,
	CategoryCommandFailed:    false,
	CategoryUnknownCommand:   false,
	CategoryInvalidComponent: false,
	CategoryInvalidControl:   false,
	CategoryValidationFailed: false,
	CategoryNetworkTimeout:   true,
	CategoryNetworkDropped:   true,
	CategoryToolNotFound:     false,
	CategoryInvalidParams:    false,
	CategoryCircuitOpen:      false,
}

// Severity ranks how urgently an error should be surfaced to operators.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func severityFor(c Category) Severity {
	switch c {
	case CategoryCircuitOpen, CategoryConnectionFailed, CategoryNetworkDropped:
		return SeverityCritical
	case CategoryCommandFailed, CategoryNetworkTimeout:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// CategorizedError is a typed error carrying the fields the core error model requires:
// code, message, context, severity, timestamp, id. Generic, untyped errors
// are forbidden on the core paths; construct one of these instead.
type CategorizedError struct {
	Code      Category               `json:"code"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id"`

	cause error
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *CategorizedError) Unwrap() error {
	return e.cause
}

// MarshalJSON serializes the error to its documented wire shape. The cause,
// if present, is not serialized and Message is emitted as given, so callers
// never see a free-form stack trace in a tool result.
func (e *CategorizedError) MarshalJSON() ([]byte, error) {
	type alias CategorizedError
	return json.Marshal((*alias)(e))
}

// WithContext attaches a structured context entry and returns the receiver
// for chaining.
func (e *CategorizedError) WithContext(key string, value interface{}) *CategorizedError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether this error's category is worth retrying.
func (e *CategorizedError) Retryable() bool {
	return retryable[e.Code]
}

// NewCategory constructs a CategorizedError with a fresh id and timestamp
// and a stack trace captured via cockroachdb/errors so it can still be
// inspected with GetStack.
func NewCategory(code Category, message string) *CategorizedError {
	return &CategorizedError{
		Code:      code,
		Message:   message,
		Severity:  severityFor(code),
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
		cause:     WithStack(New(message)),
	}
}

// NewCategoryf constructs a CategorizedError with a formatted message.
func NewCategoryf(code Category, format string, args ...interface{}) *CategorizedError {
	return NewCategory(code, fmt.Sprintf(format, args...))
}

// WrapCategory constructs a CategorizedError by wrapping an existing error
// as the cause, preserving its message and stack trace.
func WrapCategory(code Category, err error, message string) *CategorizedError {
	return &CategorizedError{
		Code:      code,
		Message:   message,
		Severity:  severityFor(code),
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
		cause:     Wrap(err, message),
	}
}

// GetCategory extracts the Category from err, if it (or something it wraps)
// is a *CategorizedError.
func GetCategory(err error) (Category, bool) {
	var ce *CategorizedError
	if As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// IsRetryable reports whether err is a *CategorizedError whose category is
// retryable. Non-CategorizedError errors are treated as not
// retryable — the core paths should never produce one.
func IsRetryable(err error) bool {
	var ce *CategorizedError
	if As(err, &ce) {
		return ce.Retryable()
	}
	return false
}
