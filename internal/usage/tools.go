package usage

import (
	"context"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tools"
)

// Report is the node_usage response: the raw snapshot plus display values.
type Report struct {
	Snapshot
	CPU       string `json:"cpu"`
	Memory    string `json:"memory"`
	Disk      string `json:"disk"`
	Populated bool   `json:"populated"`
	Age       string `json:"age,omitempty"`
}

// NewReport builds a Report from snap. Age is measured against now.
func NewReport(snap Snapshot, now time.Time) Report {
	r := Report{
		Snapshot:  snap,
		CPU:       strconv.FormatFloat(snap.CPUPercent, 'f', 1, 64) + "%",
		Memory:    FormatBytes(snap.MemoryBytes),
		Disk:      FormatBytes(snap.DiskBytes),
		Populated: snap.Populated(),
	}
	if r.Populated {
		r.Age = now.Sub(snap.LastUpdated).Truncate(time.Second).String()
	}
	return r
}

// Tools returns the read-only usage tools.
func Tools(store *Store, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		nodeUsage(store, audit),
	}
}

func nodeUsage(store *Store, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("node_usage",
		mcp.WithDescription("Get the last known resource usage of the monitored node: CPU, memory, disk and uptime."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		report := NewReport(store.Read(), start)
		tools.Audit(audit, "node_usage", map[string]any{}, "ok", start)
		return tools.JSONResult(report), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
