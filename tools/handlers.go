package tools

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/qrwc/gateway/adapter"
	"github.com/qrwc/gateway/changegroup"
	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/index"
	"github.com/qrwc/gateway/ringcache"
	"github.com/qrwc/gateway/supervisor"
)

// Deps bundles every component a tool handler might call into. Individual
// handlers only close over the fields they need.
type Deps struct {
	Adapter     *adapter.Adapter
	Index       *index.Index
	Groups      *changegroup.Registry
	Ring        *ringcache.Cache
	Supervisor  *supervisor.Supervisor
	MonitoringEnabled bool
}

var rawCommandDenylist = map[string]bool{
	"Core.Reboot": true,
}

// RegisterAll builds and registers every fixed tool against deps.
func RegisterAll(reg *HandlerRegistry, deps Deps) {
	reg.Register(listComponentsHandler{deps})
	reg.Register(componentGetHandler{deps})
	reg.Register(listControlsHandler{deps})
	reg.Register(getControlValuesHandler{deps})
	reg.Register(setControlValuesHandler{deps})
	reg.Register(queryCoreStatusHandler{deps})
	reg.Register(getAllControlsHandler{deps})
	reg.Register(sendRawCommandHandler{deps})
	reg.Register(createChangeGroupHandler{deps})
	reg.Register(addControlsToChangeGroupHandler{deps})
	reg.Register(removeControlsFromChangeGroupHandler{deps})
	reg.Register(clearChangeGroupHandler{deps})
	reg.Register(listChangeGroupsHandler{deps})
	reg.Register(pollChangeGroupHandler{deps})
	reg.Register(destroyChangeGroupHandler{deps})
	reg.Register(manageConnectionHandler{deps})
	reg.Register(echoTestHandler{})
}

func stringArg(args Args, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceArg(args Args, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func floatArg(args Args, key string) (float64, bool) {
	v, ok := args[key].(float64)
	return v, ok
}

type listComponentsHandler struct{ d Deps }

func (listComponentsHandler) Name() string             { return "list_components" }
func (listComponentsHandler) RequiresConnection() bool { return true }
func (h listComponentsHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	comps, err := h.d.Adapter.GetComponents(ctx, adapter.DefaultRetryPolicy())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"components": comps}, nil
}

type componentGetHandler struct{ d Deps }

func (componentGetHandler) Name() string             { return "qsys_component_get" }
func (componentGetHandler) RequiresConnection() bool { return true }
func (h componentGetHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	name := stringArg(args, "name")
	if name == "" {
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "name is required")
	}
	controls, err := h.d.Adapter.GetComponentControls(ctx, name, adapter.DefaultRetryPolicy())
	if err != nil {
		return nil, err
	}
	return controls, nil
}

type listControlsHandler struct{ d Deps }

func (listControlsHandler) Name() string             { return "list_controls" }
func (listControlsHandler) RequiresConnection() bool { return true }
func (h listControlsHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	controlType := stringArg(args, "controlType")
	entries := h.d.Index.ListControls(controlType)
	return map[string]interface{}{"controls": entries}, nil
}

type getControlValuesHandler struct{ d Deps }

func (getControlValuesHandler) Name() string             { return "get_control_values" }
func (getControlValuesHandler) RequiresConnection() bool { return true }
func (h getControlValuesHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	names := stringSliceArg(args, "names")
	if len(names) == 0 {
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "names must be a non-empty array")
	}
	values, err := h.d.Adapter.GetControlValues(ctx, names, adapter.DefaultRetryPolicy())
	if err != nil {
		return nil, err
	}
	return values, nil
}

type setControlValuesHandler struct{ d Deps }

func (setControlValuesHandler) Name() string             { return "set_control_values" }
func (setControlValuesHandler) RequiresConnection() bool { return true }
func (h setControlValuesHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	raw, ok := args["controls"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "controls must be a non-empty array")
	}

	inputs := make([]adapter.ControlSetInput, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		inputs = append(inputs, adapter.ControlSetInput{Name: name, Value: m["value"]})
	}

	return h.d.Adapter.SetControlValues(ctx, inputs, adapter.DefaultRetryPolicy())
}

type queryCoreStatusHandler struct{ d Deps }

func (queryCoreStatusHandler) Name() string             { return "query_core_status" }
func (queryCoreStatusHandler) RequiresConnection() bool { return false }
func (h queryCoreStatusHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	if h.d.Supervisor != nil && h.d.Supervisor.GetState() != supervisor.StateConnected {
		return map[string]interface{}{
			"connectionStatus": map[string]interface{}{"connected": false},
			"systemHealth":     map[string]interface{}{"status": "disconnected"},
			"_metadata":        map[string]interface{}{"error": "Q-SYS Core not connected"},
		}, nil
	}

	status, err := h.d.Adapter.Status(ctx, adapter.DefaultRetryPolicy())
	if err == nil {
		return map[string]interface{}{
			"connectionStatus": map[string]interface{}{"connected": true},
			"systemHealth":     map[string]interface{}{"status": status.Status.String},
			"status":           status,
		}, nil
	}

	return h.fallback(ctx)
}

// fallback buckets discovered components whose name contains "Status" into
// CoreStatus/PeripheralStatus/GeneralStatus by a keyword heuristic, used
// when Status.Get itself fails but the core is otherwise reachable.
func (h queryCoreStatusHandler) fallback(ctx context.Context) (interface{}, error) {
	comps, err := h.d.Adapter.GetComponents(ctx, adapter.DefaultRetryPolicy())
	if err != nil {
		return map[string]interface{}{
			"connectionStatus": map[string]interface{}{"connected": false},
			"systemHealth":     map[string]interface{}{"status": "disconnected"},
			"_metadata":        map[string]interface{}{"error": "Q-SYS Core not connected"},
		}, nil
	}

	core := []interface{}{}
	peripheral := []interface{}{}
	general := []interface{}{}

	for _, c := range comps {
		if !strings.Contains(strings.ToLower(c.Name), "status") {
			continue
		}
		controls, err := h.d.Adapter.GetComponentControls(ctx, c.Name, adapter.DefaultRetryPolicy())
		if err != nil {
			continue
		}
		payload := map[string]interface{}{"component": c.Name, "controls": summarize(controls.Controls)}

		lower := strings.ToLower(c.Name)
		switch {
		case strings.Contains(lower, "core"):
			core = append(core, payload)
		case strings.Contains(lower, "mic") || strings.Contains(lower, "camera") ||
			strings.Contains(lower, "speaker") || strings.Contains(lower, "soundbar"):
			peripheral = append(peripheral, payload)
		default:
			general = append(general, payload)
		}
	}

	return map[string]interface{}{
		"connectionStatus": map[string]interface{}{"connected": true},
		"systemHealth":      map[string]interface{}{"status": "degraded"},
		"CoreStatus":        core,
		"PeripheralStatus":  peripheral,
		"GeneralStatus":     general,
	}, nil
}

func summarize(controls []adapter.ControlInfo) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(controls))
	for _, c := range controls {
		out = append(out, map[string]interface{}{"value": c.Value, "string": c.String, "type": c.Type})
	}
	return out
}

type getAllControlsHandler struct{ d Deps }

func (getAllControlsHandler) Name() string             { return "qsys_get_all_controls" }
func (getAllControlsHandler) RequiresConnection() bool { return true }
func (h getAllControlsHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	if err := h.d.Index.Refresh(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"controls": h.d.Index.ListControls("")}, nil
}

type sendRawCommandHandler struct{ d Deps }

func (sendRawCommandHandler) Name() string             { return "send_raw_command" }
func (sendRawCommandHandler) RequiresConnection() bool { return true }
func (h sendRawCommandHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	method := stringArg(args, "method")
	if method == "" {
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "method is required")
	}
	if rawCommandDenylist[method] {
		return map[string]interface{}{"success": false, "error": "method is not permitted: " + method}, nil
	}

	params, _ := args["params"].(map[string]interface{})
	raw, err := h.d.Adapter.SendCommand(ctx, method, params, adapter.DefaultRetryPolicy())
	if err != nil {
		if cat, ok := errors.GetCategory(err); ok && cat == errors.CategoryUnknownCommand {
			return map[string]interface{}{"success": false, "error": err.Error()}, nil
		}
		return nil, err
	}
	return map[string]interface{}{"success": true, "result": string(raw)}, nil
}

type createChangeGroupHandler struct{ d Deps }

func (createChangeGroupHandler) Name() string             { return "create_change_group" }
func (createChangeGroupHandler) RequiresConnection() bool { return true }
func (h createChangeGroupHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	id := stringArg(args, "id")
	if id == "" {
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "id is required")
	}
	controls := stringSliceArg(args, "controls")

	var resolve func(string) bool
	if h.d.Index != nil {
		resolve = h.d.Index.Resolve
	}
	result := h.d.Groups.AddControls(id, controls, resolve)

	resp := map[string]interface{}{"success": true, "groupId": id}
	if result.PreExisted {
		resp["warning"] = "change group already exists; controls merged"
		resp["controlCount"] = result.SurvivedCount
	}

	if pollRate, ok := floatArg(args, "pollRate"); ok {
		if err := h.d.Groups.AutoPoll(ctx, id, pollRate); err != nil {
			return nil, err
		}
		resp["pollRate"] = pollRate
		resp["frequency"] = formatHz(pollRate)
		resp["recording"] = h.d.MonitoringEnabled
	}

	return resp, nil
}

// formatHz renders a pollRate (a period in seconds) as its equivalent
// frequency, rounded to 2 decimal places, e.g. a 0.03s period is reported
// as "33.33Hz" and a 1s period as "1Hz".
func formatHz(pollRate float64) string {
	freq := math.Round((1/pollRate)*100) / 100
	return strconv.FormatFloat(freq, 'f', -1, 64) + "Hz"
}

type addControlsToChangeGroupHandler struct{ d Deps }

func (addControlsToChangeGroupHandler) Name() string             { return "add_controls_to_change_group" }
func (addControlsToChangeGroupHandler) RequiresConnection() bool { return true }
func (h addControlsToChangeGroupHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	id := stringArg(args, "id")
	controls := stringSliceArg(args, "controls")
	result := h.d.Groups.AddControls(id, controls, h.d.Index.Resolve)
	return map[string]interface{}{"success": true, "groupId": id, "addedCount": result.AddedCount}, nil
}

type removeControlsFromChangeGroupHandler struct{ d Deps }

func (removeControlsFromChangeGroupHandler) Name() string { return "remove_controls_from_change_group" }

func (removeControlsFromChangeGroupHandler) RequiresConnection() bool { return true }

func (h removeControlsFromChangeGroupHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	id := stringArg(args, "id")
	controls := stringSliceArg(args, "controls")
	if err := h.d.Groups.RemoveControls(id, controls); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "groupId": id}, nil
}

type clearChangeGroupHandler struct{ d Deps }

func (clearChangeGroupHandler) Name() string             { return "clear_change_group" }
func (clearChangeGroupHandler) RequiresConnection() bool { return true }
func (h clearChangeGroupHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	id := stringArg(args, "id")
	if err := h.d.Groups.Clear(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "groupId": id}, nil
}

type listChangeGroupsHandler struct{ d Deps }

func (listChangeGroupsHandler) Name() string             { return "list_change_groups" }
func (listChangeGroupsHandler) RequiresConnection() bool { return false }
func (h listChangeGroupsHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	return map[string]interface{}{"groups": h.d.Groups.List()}, nil
}

type pollChangeGroupHandler struct{ d Deps }

func (pollChangeGroupHandler) Name() string             { return "poll_change_group" }
func (pollChangeGroupHandler) RequiresConnection() bool { return true }
func (h pollChangeGroupHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	id := stringArg(args, "id")
	if id == "" {
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "id is required")
	}
	changes, err := h.d.Adapter.PollChangeGroup(ctx, id, adapter.DefaultRetryPolicy())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"groupId": id, "changes": changes}, nil
}

type destroyChangeGroupHandler struct{ d Deps }

func (destroyChangeGroupHandler) Name() string             { return "destroy_change_group" }
func (destroyChangeGroupHandler) RequiresConnection() bool { return true }
func (h destroyChangeGroupHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	id := stringArg(args, "id")
	if err := h.d.Groups.Destroy(id); err != nil {
		return nil, err
	}
	_ = h.d.Adapter.DestroyChangeGroup(ctx, id, adapter.DefaultRetryPolicy())
	if h.d.Ring != nil {
		h.d.Ring.Destroy(id)
	}
	return map[string]interface{}{"success": true, "groupId": id}, nil
}

type manageConnectionHandler struct{ d Deps }

func (manageConnectionHandler) Name() string             { return "manage_connection" }
func (manageConnectionHandler) RequiresConnection() bool { return false }
func (h manageConnectionHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	action := stringArg(args, "action")
	switch action {
	case "status":
		if h.d.Supervisor == nil {
			return map[string]interface{}{"success": true, "action": action, "data": map[string]interface{}{"state": "unknown"}}, nil
		}
		return map[string]interface{}{"success": true, "action": action, "data": h.d.Supervisor.GetHealthStatus()}, nil
	case "connect":
		if h.d.Supervisor == nil {
			return map[string]interface{}{"success": false, "action": action}, nil
		}
		err := h.d.Supervisor.Connect(ctx)
		return map[string]interface{}{"success": err == nil, "action": action}, nil
	case "disconnect":
		if h.d.Supervisor == nil {
			return map[string]interface{}{"success": false, "action": action}, nil
		}
		err := h.d.Supervisor.Disconnect()
		return map[string]interface{}{"success": err == nil, "action": action}, nil
	case "history":
		data := map[string]interface{}{"state": "unknown"}
		if h.d.Supervisor != nil {
			data = map[string]interface{}{"healthStatus": h.d.Supervisor.GetHealthStatus()}
		}
		return map[string]interface{}{"success": true, "action": action, "data": data}, nil
	case "diagnose":
		data := map[string]interface{}{"state": "unknown"}
		if h.d.Supervisor != nil {
			data = map[string]interface{}{"healthStatus": h.d.Supervisor.GetHealthStatus()}
		}
		if proc, err := getProcessHealth(); err == nil {
			data["process"] = proc
		}
		return map[string]interface{}{"success": true, "action": action, "data": data}, nil
	default:
		return nil, errors.NewCategory(errors.CategoryInvalidParams, "unknown manage_connection action").WithContext("action", action)
	}
}

// echoTestHandler is the fixed testing tool: it requires no connection and
// simply reflects its input, useful for verifying the dispatcher wiring
// independent of the Q-SYS core.
type echoTestHandler struct{}

func (echoTestHandler) Name() string             { return "echo_test" }
func (echoTestHandler) RequiresConnection() bool { return false }
func (echoTestHandler) Execute(ctx context.Context, args Args) (interface{}, error) {
	return map[string]interface{}{"echo": args}, nil
}
