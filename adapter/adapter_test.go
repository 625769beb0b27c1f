package adapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/wire"
)

type fakeSender struct {
	calls     int
	responses []func(method string, params interface{}) (*wire.Response, error)
}

func (f *fakeSender) SendFrame(ctx context.Context, method string, params interface{}) (*wire.Response, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx](method, params)
}

func okResponse(result string) func(string, interface{}) (*wire.Response, error) {
	return func(string, interface{}) (*wire.Response, error) {
		return &wire.Response{Result: json.RawMessage(result)}, nil
	}
}

func transientErr() func(string, interface{}) (*wire.Response, error) {
	return func(string, interface{}) (*wire.Response, error) {
		return nil, errors.NewCategory(errors.CategoryNetworkTimeout, "timed out")
	}
}

type noopBreaker struct{}

func (noopBreaker) Allow() error     { return nil }
func (noopBreaker) RecordSuccess()   {}
func (noopBreaker) RecordFailure()   {}

func TestSendCommand_UnknownMethod(t *testing.T) {
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){okResponse(`{}`)}}, noopBreaker{}, nil, nil)

	_, err := a.SendCommand(context.Background(), "Core.Reboot", nil, DefaultRetryPolicy())
	require.Error(t, err)
	cat, ok := errors.GetCategory(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryUnknownCommand, cat)
}

func TestSendCommand_RetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{responses: []func(string, interface{}) (*wire.Response, error){
		transientErr(), transientErr(), okResponse(`{"Platform":"Core 110f"}`),
	}}
	a := New(sender, noopBreaker{}, nil, nil)

	raw, err := a.SendCommand(context.Background(), "Status.Get", nil, RetryPolicy{MaxRetries: 3, RetryDelayMS: 1, TimeoutMillis: 100})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Core 110f")
	assert.Equal(t, 3, sender.calls)
}

func TestSendCommand_NonRetryableFailsImmediately(t *testing.T) {
	sender := &fakeSender{responses: []func(string, interface{}) (*wire.Response, error){
		func(string, interface{}) (*wire.Response, error) {
			return nil, errors.NewCategory(errors.CategoryValidationFailed, "bad input")
		},
		okResponse(`{}`),
	}}
	a := New(sender, noopBreaker{}, nil, nil)

	_, err := a.SendCommand(context.Background(), "Status.Get", nil, DefaultRetryPolicy())
	require.Error(t, err)
	assert.Equal(t, 1, sender.calls)
}

type stubIndex map[string]ControlInfo

func (s stubIndex) Lookup(path string) (ControlInfo, bool) {
	c, ok := s[path]
	return c, ok
}

func TestSetControlValues_BooleanNormalization(t *testing.T) {
	idx := stubIndex{"Mixer.mute": {Name: "Mixer.mute", Type: "Boolean"}}
	sender := &fakeSender{responses: []func(string, interface{}) (*wire.Response, error){
		func(method string, params interface{}) (*wire.Response, error) {
			p := params.(map[string]interface{})
			assert.Equal(t, 1.0, p["Value"])
			return &wire.Response{Result: json.RawMessage(`[{"Name":"Mixer.mute","Result":"Success"}]`)}, nil
		},
	}}
	a := New(sender, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.mute", Value: true}}, DefaultRetryPolicy())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultSuccess, results[0].Result)
	assert.Equal(t, "Mixer.mute", results[0].Name)
}

func TestSetControlValues_RejectsStringToBooleanNonLiteral(t *testing.T) {
	idx := stubIndex{"Mixer.mute": {Name: "Mixer.mute", Type: "Boolean"}}
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){okResponse(`[]`)}}, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.mute", Value: "maybe"}}, DefaultRetryPolicy())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultError, results[0].Result)
	assert.Equal(t, "Mixer.mute", results[0].Name)
}

func TestSetControlValues_RejectsStringToNumeric(t *testing.T) {
	maxV := 10.0
	idx := stubIndex{"Mixer.gain": {Name: "Mixer.gain", Type: "Float", ValueMax: &maxV}}
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){okResponse(`[]`)}}, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.gain", Value: "loud"}}, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultError, results[0].Result)
	assert.Contains(t, results[0].Error, "rejected")
}

func TestSetControlValues_RejectsAboveMaximum(t *testing.T) {
	maxV := 10.0
	idx := stubIndex{"Mixer.gain": {Name: "Mixer.gain", Type: "Float", ValueMax: &maxV}}
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){okResponse(`[]`)}}, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.gain", Value: 20.0}}, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultError, results[0].Result)
	assert.Contains(t, results[0].Error, "above maximum")
}

func TestSetControlValues_RejectsBelowMinimum(t *testing.T) {
	minV := 0.0
	idx := stubIndex{"Mixer.gain": {Name: "Mixer.gain", Type: "Float", ValueMin: &minV}}
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){okResponse(`[]`)}}, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.gain", Value: -5.0}}, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultError, results[0].Result)
	assert.Contains(t, results[0].Error, "below minimum")
}

func TestSetControlValues_RejectsOverLongString(t *testing.T) {
	maxLen := 4.0
	idx := stubIndex{"Mixer.label": {Name: "Mixer.label", Type: "String", ValueMax: &maxLen}}
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){okResponse(`[]`)}}, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.label", Value: "way too long"}}, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultError, results[0].Result)
	assert.Contains(t, results[0].Error, "too long")
}

func TestSetControlValues_NumberToStringAccepted(t *testing.T) {
	idx := stubIndex{"Mixer.label": {Name: "Mixer.label", Type: "String"}}
	sender := &fakeSender{responses: []func(string, interface{}) (*wire.Response, error){
		func(method string, params interface{}) (*wire.Response, error) {
			p := params.(map[string]interface{})
			assert.Equal(t, "42", p["Value"])
			return &wire.Response{Result: json.RawMessage(`[{"Name":"Mixer.label","Result":"Success"}]`)}, nil
		},
	}}
	a := New(sender, noopBreaker{}, idx, nil)

	results, err := a.SetControlValues(context.Background(), []ControlSetInput{{Name: "Mixer.label", Value: 42.0}}, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, results[0].Result)
}

func TestSetControlValues_EveryResultCarriesName(t *testing.T) {
	idx := stubIndex{}
	a := New(&fakeSender{responses: []func(string, interface{}) (*wire.Response, error){
		okResponse(`[{"Name":"A.gain","Result":"Success"}]`),
		okResponse(`[{"Name":"B.gain","Result":"Success"}]`),
		okResponse(`[{"Name":"C.gain","Result":"Success"}]`),
	}}, noopBreaker{}, idx, nil)

	inputs := []ControlSetInput{{Name: "A.gain", Value: 1.0}, {Name: "B.gain", Value: 2.0}, {Name: "C.gain", Value: 3.0}}
	results, err := a.SetControlValues(context.Background(), inputs, DefaultRetryPolicy())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NotEmpty(t, r.Name)
	}
}

func TestSetControlValues_PartialSetWithRetry(t *testing.T) {
	// Scenario: middle control transiently fails once; final response has
	// three Success entries, underlying setter called four times total.
	calls := 0
	sender := &fakeSender{responses: []func(string, interface{}) (*wire.Response, error){
		func(method string, params interface{}) (*wire.Response, error) {
			calls++
			p := params.(map[string]interface{})
			if p["Name"] == "B.gain" && calls == 2 {
				return nil, errors.NewCategory(errors.CategoryNetworkTimeout, "transient")
			}
			name := p["Name"].(string)
			return &wire.Response{Result: json.RawMessage(`[{"Name":"` + name + `","Result":"Success"}]`)}, nil
		},
	}}
	a := New(sender, noopBreaker{}, nil, nil)

	inputs := []ControlSetInput{{Name: "A.gain", Value: 1.0}, {Name: "B.gain", Value: 2.0}, {Name: "C.gain", Value: 3.0}}
	results, err := a.SetControlValues(context.Background(), inputs, RetryPolicy{MaxRetries: 1, RetryDelayMS: 1, TimeoutMillis: 100})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, ResultSuccess, r.Result, r.Name)
	}
	assert.Equal(t, 4, calls)
}
