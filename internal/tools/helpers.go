// Package tools provides shared helpers for the MCP control surface.
package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/readings/internal/safety"
)

// JSONResult marshals v to indented JSON and returns an mcp.CallToolResult.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns a tool result flagged as an error.
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError("error: " + msg)
}

// Audit records a control surface call. A nil logger is ignored.
func Audit(audit *safety.AuditLogger, tool string, params map[string]any, result string, start time.Time) {
	audit.Record(safety.SourceControl, tool, "", params, result, start)
}

// ConfirmPrompt issues a confirmation token for tool on resource and returns
// the prompt telling the caller how to proceed.
func ConfirmPrompt(confirm *safety.ConfirmationTracker, tool, resource, description string) *mcp.CallToolResult {
	token := confirm.RequestConfirmation(tool, resource, description)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Confirmation required for %s %q.\n\n%s\n\nTo proceed, call %s again with the same arguments and confirmation_token=%q.",
		tool, resource, description, tool, token,
	))
}
