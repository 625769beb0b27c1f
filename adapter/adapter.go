package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
	"github.com/qrwc/gateway/wire"
)

// FrameSender is the subset of wire.Client the adapter depends on. A fake
// implementation lets tests drive the adapter without a real socket.
type FrameSender interface {
	SendFrame(ctx context.Context, method string, params interface{}) (*wire.Response, error)
}

// Breaker is the subset of supervisor.Supervisor the adapter depends on to
// ask about circuit state before each attempt (retry + circuit breaker
// composition).
type Breaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
}

// Index resolves component/control metadata used for validation. The
// change-group registry and discovery tools populate it from
// Component.GetComponents / Component.GetControls responses.
type Index interface {
	// Lookup returns the control's metadata, if known. ok is false for
	// controls with no discovered metadata (which pass through unvalidated).
	Lookup(path string) (ControlInfo, bool)
}

// Adapter is the command translation layer (C3).
type Adapter struct {
	sender  FrameSender
	breaker Breaker
	index   Index
	log     *zap.SugaredLogger
}

// New creates an Adapter. index may be nil if no validation metadata is
// available yet (controls pass through unvalidated in that case).
func New(sender FrameSender, breaker Breaker, index Index, log *zap.SugaredLogger) *Adapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Adapter{sender: sender, breaker: breaker, index: index, log: logger.AddAdapterSymbol(log)}
}

// SetIndex wires validation metadata in after construction, for callers
// whose index depends on the adapter itself (discovery calls go through it).
func (a *Adapter) SetIndex(index Index) {
	a.index = index
}

var recognizedMethods = map[string]bool{
	"Status.Get":                        true,
	"Component.GetComponents":           true,
	"Component.GetControls":             true,
	"Component.Get":                     true,
	"Control.Get":                       true,
	"Control.GetValues":                 true,
	"Control.Set":                       true,
	"Control.SetValues":                 true,
	"ChangeGroup.AddControl":            true,
	"ChangeGroup.AddComponentControl":   true,
	"ChangeGroup.Remove":                true,
	"ChangeGroup.Clear":                 true,
	"ChangeGroup.Poll":                  true,
	"ChangeGroup.AutoPoll":              true,
	"ChangeGroup.Destroy":               true,
}

// SendCommand issues method with params, applying the adapter's retry
// policy and circuit-breaker precondition.
func (a *Adapter) SendCommand(ctx context.Context, method string, params interface{}, policy RetryPolicy) (json.RawMessage, error) {
	if !recognizedMethods[method] {
		return nil, errors.NewCategory(errors.CategoryUnknownCommand, "unrecognized QRWC method").
			WithContext("method", method)
	}

	if a.breaker != nil {
		if err := a.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	result, err := a.withRetry(ctx, method, params, policy)
	if a.breaker != nil {
		if err != nil {
			a.breaker.RecordFailure()
		} else {
			a.breaker.RecordSuccess()
		}
	}
	return result, err
}

func (a *Adapter) withRetry(ctx context.Context, method string, params interface{}, policy RetryPolicy) (json.RawMessage, error) {
	var lastErr error
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(policy.RetryDelayMS) * time.Millisecond):
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if policy.TimeoutMillis > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(policy.TimeoutMillis)*time.Millisecond)
		}
		resp, err := a.sender.SendFrame(callCtx, method, params)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			lastErr = err
			if !errors.IsRetryable(err) {
				return nil, err
			}
			continue
		}

		if resp.Error != nil {
			return nil, errors.NewCategory(errors.CategoryCommandFailed, resp.Error.Message).
				WithContext("method", method).WithContext("code", resp.Error.Code)
		}

		return resp.Result, nil
	}

	return nil, lastErr
}

// Status calls Status.Get.
func (a *Adapter) Status(ctx context.Context, policy RetryPolicy) (*Status, error) {
	raw, err := a.SendCommand(ctx, "Status.Get", nil, policy)
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "decode Status.Get result")
	}
	return &s, nil
}

// GetComponents calls Component.GetComponents.
func (a *Adapter) GetComponents(ctx context.Context, policy RetryPolicy) ([]Component, error) {
	raw, err := a.SendCommand(ctx, "Component.GetComponents", nil, policy)
	if err != nil {
		return nil, err
	}
	var comps []Component
	if err := json.Unmarshal(raw, &comps); err != nil {
		return nil, errors.Wrap(err, "decode Component.GetComponents result")
	}
	return comps, nil
}

// GetComponentControls calls Component.GetControls for name.
func (a *Adapter) GetComponentControls(ctx context.Context, name string, policy RetryPolicy) (*ComponentControls, error) {
	raw, err := a.SendCommand(ctx, "Component.GetControls", map[string]interface{}{"Name": name}, policy)
	if err != nil {
		return nil, err
	}
	var cc ComponentControls
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, errors.Wrap(err, "decode Component.GetControls result")
	}
	return &cc, nil
}

// GetControlValues calls Control.GetValues for the given control paths.
func (a *Adapter) GetControlValues(ctx context.Context, names []string, policy RetryPolicy) ([]ControlValue, error) {
	raw, err := a.SendCommand(ctx, "Control.GetValues", map[string]interface{}{"Names": names}, policy)
	if err != nil {
		return nil, err
	}
	var values []ControlValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrap(err, "decode Control.GetValues result")
	}
	return values, nil
}

// SetControlValues validates and coerces each input, then issues one
// Control.Set per control through setOneWithRetry, which retries transient
// failures for that control alone. It returns one result per input, in
// input order; a control that fails becomes an Error result rather than
// failing the call.
func (a *Adapter) SetControlValues(ctx context.Context, inputs []ControlSetInput, policy RetryPolicy) ([]ControlSetResult, error) {
	results := make([]ControlSetResult, len(inputs))

	for i, in := range inputs {
		coerced, err := a.coerceAndValidate(in)
		if err != nil {
			results[i] = ControlSetResult{Name: in.Name, Result: ResultError, Error: err.Error()}
			continue
		}
		res, _ := a.setOneWithRetry(ctx, coerced, policy)
		results[i] = res
	}

	return results, nil
}

// setOneWithRetry issues Control.Set for a single already-validated input,
// retrying transient transport failures up to policy.MaxRetries times
// independently of the top-level call ("Retries apply ... independently
// to each per-control operation").
func (a *Adapter) setOneWithRetry(ctx context.Context, in ControlSetInput, policy RetryPolicy) (ControlSetResult, error) {
	var lastErr error
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ControlSetResult{Name: in.Name, Result: ResultError, Error: ctx.Err().Error()}, ctx.Err()
			case <-time.After(time.Duration(policy.RetryDelayMS) * time.Millisecond):
			}
		}

		raw, err := a.SendCommand(ctx, "Control.Set", map[string]interface{}{
			"Name":  in.Name,
			"Value": in.Value,
			"Ramp":  in.Ramp,
		}, RetryPolicy{MaxRetries: 0, RetryDelayMS: policy.RetryDelayMS, TimeoutMillis: policy.TimeoutMillis})

		if err != nil {
			lastErr = err
			if !errors.IsRetryable(err) {
				return ControlSetResult{Name: in.Name, Result: ResultError, Error: err.Error()}, nil
			}
			continue
		}

		var single []ControlSetResult
		if len(raw) > 0 {
			if jerr := json.Unmarshal(raw, &single); jerr == nil && len(single) > 0 {
				r := single[0]
				if r.Name == "" {
					r.Name = in.Name
				}
				return r, nil
			}
		}
		return ControlSetResult{Name: in.Name, Result: ResultSuccess}, nil
	}

	if lastErr != nil {
		return ControlSetResult{Name: in.Name, Result: ResultError, Error: lastErr.Error()}, nil
	}
	return ControlSetResult{Name: in.Name, Result: ResultSuccess}, nil
}

// coerceAndValidate applies the value coercion and validation rules for a control's type.
func (a *Adapter) coerceAndValidate(in ControlSetInput) (ControlSetInput, error) {
	var meta ControlInfo
	var known bool
	if a.index != nil {
		meta, known = a.index.Lookup(in.Name)
	}

	if !known {
		return in, nil
	}

	switch meta.Type {
	case "Boolean", "boolean":
		switch v := in.Value.(type) {
		case bool:
			in.Value = boolToFloat(v)
		case string:
			switch v {
			case "true":
				in.Value = 1.0
			case "false":
				in.Value = 0.0
			default:
				return in, errors.NewCategory(errors.CategoryValidationFailed,
					"string value is not a literal boolean for a boolean control").
					WithContext("control", in.Name).WithContext("value", v)
			}
		case float64:
			if v != 0 {
				in.Value = 1.0
			} else {
				in.Value = 0.0
			}
		}
	case "String", "string", "Text", "text":
		if num, ok := in.Value.(float64); ok {
			in.Value = formatNumber(num)
		}
		// ValueMax doubles as maxLength for string-typed controls.
		if s, ok := in.Value.(string); ok && meta.ValueMax != nil {
			if float64(len(s)) > *meta.ValueMax {
				return in, errors.NewCategory(errors.CategoryValidationFailed, "value too long for control").
					WithContext("control", in.Name).WithContext("maxLength", *meta.ValueMax)
			}
		}
	default:
		if s, ok := in.Value.(string); ok {
			return in, errors.NewCategory(errors.CategoryValidationFailed, "string value rejected for numeric control").
				WithContext("control", in.Name).WithContext("value", s)
		}
		if num, ok := in.Value.(float64); ok {
			if meta.ValueMax != nil && num > *meta.ValueMax {
				return in, errors.NewCategory(errors.CategoryValidationFailed, "value above maximum for control").
					WithContext("control", in.Name).WithContext("max", *meta.ValueMax)
			}
			if meta.ValueMin != nil && num < *meta.ValueMin {
				return in, errors.NewCategory(errors.CategoryValidationFailed, "value below minimum for control").
					WithContext("control", in.Name).WithContext("min", *meta.ValueMin)
			}
		}
	}

	return in, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// formatNumber stringifies a numeric control value the way the DSP's own
// string representation would read: integral values with no decimal point.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// PollChangeGroup calls ChangeGroup.Poll for id.
func (a *Adapter) PollChangeGroup(ctx context.Context, id string, policy RetryPolicy) ([]ChangeGroupChange, error) {
	raw, err := a.SendCommand(ctx, "ChangeGroup.Poll", map[string]interface{}{"Id": id}, policy)
	if err != nil {
		return nil, err
	}
	var result struct {
		Changes []ChangeGroupChange `json:"Changes"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "decode ChangeGroup.Poll result")
	}
	return result.Changes, nil
}

// AutoPoll calls ChangeGroup.AutoPoll for id at the given rate.
func (a *Adapter) AutoPoll(ctx context.Context, id string, rateHz float64, policy RetryPolicy) error {
	_, err := a.SendCommand(ctx, "ChangeGroup.AutoPoll", map[string]interface{}{"Id": id, "Rate": rateHz}, policy)
	return err
}

// AddControls calls ChangeGroup.AddControl for id.
func (a *Adapter) AddControls(ctx context.Context, id string, controls []string, policy RetryPolicy) error {
	_, err := a.SendCommand(ctx, "ChangeGroup.AddControl", map[string]interface{}{"Id": id, "Controls": controls}, policy)
	return err
}

// DestroyChangeGroup calls ChangeGroup.Destroy for id.
func (a *Adapter) DestroyChangeGroup(ctx context.Context, id string, policy RetryPolicy) error {
	_, err := a.SendCommand(ctx, "ChangeGroup.Destroy", map[string]interface{}{"Id": id}, policy)
	return err
}
