package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/tools"
)

// DestructiveTools lists the tools gated by confirmation tokens.
var DestructiveTools = []string{"node_power"}

// NewConfirmationTracker returns the tracker for the control surface: every
// power signal except start needs a token.
func NewConfirmationTracker() *safety.ConfirmationTracker {
	return safety.NewConfirmationTracker(DestructiveTools).Exempt("node_power", string(tasks.PowerStart))
}

// Tools returns the control surface tools that change the node's state. A nil
// confirm uses NewConfirmationTracker.
func Tools(power PowerController, commands CommandSink, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) []tools.Registration {
	if confirm == nil {
		confirm = NewConfirmationTracker()
	}
	return []tools.Registration{
		nodePower(power, confirm, audit),
		nodeCommand(commands, audit),
	}
}

func nodePower(power PowerController, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "node_power"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Send a power signal to the monitored node. Every signal except start requires confirmation."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Power signal"),
			mcp.Enum("start", "stop", "restart", "kill"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		raw := req.GetString("action", "")
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"action": raw}

		action, err := tasks.ParsePowerAction(raw)
		if err != nil {
			tools.Audit(audit, toolName, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		if confirm.RequiresConfirmation(toolName, string(action)) && !confirm.Confirm(token, toolName, string(action)) {
			desc := fmt.Sprintf("This will send the %q signal to the node.", action)
			return tools.ConfirmPrompt(confirm, toolName, string(action), desc), nil
		}

		if power == nil {
			tools.Audit(audit, toolName, params, "error: no power backend", start)
			return tools.ErrorResult("no power backend configured"), nil
		}
		if err := power.Power(ctx, action); err != nil {
			tools.Audit(audit, toolName, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.Audit(audit, toolName, params, "ok", start)
		return mcp.NewToolResultText(fmt.Sprintf("power signal %q sent", action)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func nodeCommand(commands CommandSink, audit *safety.AuditLogger) tools.Registration {
	const toolName = "node_command"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Run a console command on the monitored node. Commands are subject to the configured allow and deny lists."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Console command line"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		command := req.GetString("command", "")
		params := map[string]any{"command": command}

		if commands == nil {
			tools.Audit(audit, toolName, params, "error: no command backend", start)
			return tools.ErrorResult("no command backend configured"), nil
		}
		if err := commands.SendCommand(ctx, command); err != nil {
			tools.Audit(audit, toolName, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.Audit(audit, toolName, params, "ok", start)
		return mcp.NewToolResultText("command sent"), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
