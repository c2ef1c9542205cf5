package transport

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tools"
)

// StateSource reports transport state. *Listener implements it.
type StateSource interface {
	State() State
}

var _ StateSource = (*Listener)(nil)

// Tools returns the read-only transport tools.
func Tools(src StateSource, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		transportStatus(src, audit),
	}
}

func transportStatus(src StateSource, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("transport_status",
		mcp.WithDescription("Get the delivery mode of resource updates (push or poll), whether push is still allowed, and the reconnect attempt count."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		state := src.State()
		tools.Audit(audit, "transport_status", map[string]any{}, "ok", start)
		return tools.JSONResult(state), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
