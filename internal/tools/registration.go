package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Registration pairs an MCP tool definition with its handler function.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// RegisterAll adds every registration to s.
func RegisterAll(s *server.MCPServer, registrations ...[]Registration) {
	for _, group := range registrations {
		for _, r := range group {
			s.AddTool(r.Tool, r.Handler)
		}
	}
}

// Names returns the tool names of registrations in order.
func Names(registrations []Registration) []string {
	out := make([]string, len(registrations))
	for i, r := range registrations {
		out[i] = r.Tool.Name
	}
	return out
}
