package tasks

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tools"
)

// ReloadFunc re-reads the configuration and reloads the registry.
type ReloadFunc func(ctx context.Context) (LoadReport, error)

// Tools returns the task inspection and reload tools. reload may be nil, in
// which case tasks_reload is not registered.
func Tools(reg *Registry, reload ReloadFunc, audit *safety.AuditLogger) []tools.Registration {
	regs := []tools.Registration{tasksList(reg, audit)}
	if reload != nil {
		regs = append(regs, tasksReload(reload, audit))
	}
	return regs
}

func tasksList(reg *Registry, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("tasks_list",
		mcp.WithDescription("List the loaded automation tasks in evaluation order."),
		mcp.WithBoolean("active_only",
			mcp.Description("Only list active tasks"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		activeOnly := req.GetBool("active_only", false)

		list := make([]Summary, 0, reg.Len())
		for _, t := range reg.Tasks() {
			if activeOnly && !t.Active() {
				continue
			}
			list = append(list, t.Summary())
		}

		tools.Audit(audit, "tasks_list", map[string]any{"active_only": activeOnly}, "ok", start)
		return tools.JSONResult(list), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func tasksReload(reload ReloadFunc, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("tasks_reload",
		mcp.WithDescription("Re-read the configuration file and reload tasks. The transport is restarted only when panel settings changed."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		params := map[string]any{}

		report, err := reload(ctx)
		if err != nil {
			tools.Audit(audit, "tasks_reload", params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.Audit(audit, "tasks_reload", params, "ok", start)
		return tools.JSONResult(report), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
