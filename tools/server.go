package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wraps the dispatcher in an MCP server, registering the fixed tool
// surface with its JSON-schema and binding each to the dispatcher.
type Server struct {
	dispatcher *Dispatcher
	mcp        *server.MCPServer
	log        *zap.SugaredLogger
}

// NewServer builds the MCP server and registers the fixed tool definitions
// listed in registerTools, each bound to the dispatcher. reg is not
// consulted, so a handler missing from that list is not exposed over MCP.
func NewServer(dispatcher *Dispatcher, reg *HandlerRegistry, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		dispatcher: dispatcher,
		mcp:        server.NewMCPServer("qrwc-gateway", "1.0.0", server.WithToolCapabilities(true)),
		log:        log,
	}
	s.registerTools(reg)
	return s
}

// ServeStdio blocks, serving MCP requests over stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools(reg *HandlerRegistry) {
	register := func(def mcp.Tool) {
		name := def.Name
		s.mcp.AddTool(def, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := Args(req.GetArguments())
			result := s.dispatcher.Dispatch(ctx, name, args)
			text, err := MarshalResult(result)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if result.IsError {
				return mcp.NewToolResultError(text), nil
			}
			return mcp.NewToolResultText(text), nil
		})
	}

	register(mcp.NewTool("list_components",
		mcp.WithDescription("List every discovered Q-SYS component")))

	register(mcp.NewTool("qsys_component_get",
		mcp.WithDescription("Get a component's controls by name"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Component name"))))

	register(mcp.NewTool("list_controls",
		mcp.WithDescription("List discovered controls, optionally filtered by type"),
		mcp.WithString("controlType", mcp.Description("Control type to filter by, e.g. gain"))))

	register(mcp.NewTool("get_control_values",
		mcp.WithDescription("Read current values for one or more control paths"),
		mcp.WithArray("names", mcp.Required(), mcp.Description("Control paths"))))

	register(mcp.NewTool("set_control_values",
		mcp.WithDescription("Set one or more control values"),
		mcp.WithArray("controls", mcp.Required(), mcp.Description("Array of {name, value}"))))

	register(mcp.NewTool("query_core_status",
		mcp.WithDescription("Query the Q-SYS Core's health and status")))

	register(mcp.NewTool("qsys_get_all_controls",
		mcp.WithDescription("Force a full component/control discovery refresh and return every control")))

	register(mcp.NewTool("send_raw_command",
		mcp.WithDescription("Send a raw QRWC method call, subject to a denylist"),
		mcp.WithString("method", mcp.Required(), mcp.Description("QRWC method name")),
		mcp.WithObject("params", mcp.Description("Method parameters"))))

	register(mcp.NewTool("create_change_group",
		mcp.WithDescription("Create (or merge into) a change group, optionally starting auto-poll"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change group id")),
		mcp.WithArray("controls", mcp.Description("Initial control paths")),
		mcp.WithNumber("pollRate", mcp.Description("Auto-poll period in seconds, 0.03-3600"))))

	register(mcp.NewTool("add_controls_to_change_group",
		mcp.WithDescription("Add control paths to an existing change group"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change group id")),
		mcp.WithArray("controls", mcp.Required(), mcp.Description("Control paths to add"))))

	register(mcp.NewTool("remove_controls_from_change_group",
		mcp.WithDescription("Remove control paths from a change group"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change group id")),
		mcp.WithArray("controls", mcp.Required(), mcp.Description("Control paths to remove"))))

	register(mcp.NewTool("clear_change_group",
		mcp.WithDescription("Clear a change group's control set without destroying it"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change group id"))))

	register(mcp.NewTool("list_change_groups",
		mcp.WithDescription("List every currently-registered change group id")))

	register(mcp.NewTool("poll_change_group",
		mcp.WithDescription("Poll a change group for pending changes"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change group id"))))

	register(mcp.NewTool("destroy_change_group",
		mcp.WithDescription("Destroy a change group and stop its auto-poll"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change group id"))))

	register(mcp.NewTool("manage_connection",
		mcp.WithDescription("Inspect or control the wire connection"),
		mcp.WithString("action", mcp.Required(), mcp.Description("status|connect|disconnect|history|diagnose"))))

	register(mcp.NewTool("echo_test",
		mcp.WithDescription("Reflect input back; used to verify dispatcher wiring without a live core")))
}
