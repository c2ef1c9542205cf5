package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tools"
)

func callTool(t *testing.T, reg tools.Registration, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := reg.Handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return tc.Text
}

func Test_Tools_WithoutReload(t *testing.T) {
	regs := Tools(NewRegistry(), nil, nil)
	assert.Equal(t, []string{"tasks_list"}, tools.Names(regs))
}

func Test_TasksList_Tool(t *testing.T) {
	reg := NewRegistry()
	Load(reg, sampleEntries(), nil)
	list := Tools(reg, nil, nil)[0]

	var all []Summary
	require.NoError(t, json.Unmarshal([]byte(textOf(t, callTool(t, list, nil))), &all))
	require.Len(t, all, 3)
	assert.Equal(t, "restart-hot", all[0].Name)
	assert.Equal(t, "restart", all[0].Payload)
	assert.Equal(t, "warn-mem", all[1].Name)
	assert.False(t, all[1].Active)
	assert.Equal(t, "save", all[2].Name)

	var active []Summary
	require.NoError(t, json.Unmarshal([]byte(textOf(t, callTool(t, list, map[string]any{"active_only": true}))), &active))
	require.Len(t, active, 2)
	assert.Equal(t, "save", active[1].Name)
}

func Test_TasksReload_Tool(t *testing.T) {
	var buf bytes.Buffer
	audit := safety.NewAuditLogger(&buf)
	calls := 0
	reload := func(ctx context.Context) (LoadReport, error) {
		calls++
		if calls == 2 {
			return LoadReport{}, errors.New("read config: no such file")
		}
		return LoadReport{Loaded: 2, Active: 1, Skipped: []Skipped{{Name: "bad", Reason: "invalid task type"}}}, nil
	}
	regs := Tools(NewRegistry(), reload, audit)
	require.Len(t, regs, 2)
	reloadTool := regs[1]
	assert.Equal(t, "tasks_reload", reloadTool.Tool.Name)

	result := callTool(t, reloadTool, nil)
	assert.False(t, result.IsError)
	var report LoadReport
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &report))
	assert.Equal(t, 2, report.Loaded)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "invalid task type", report.Skipped[0].Reason)

	result = callTool(t, reloadTool, nil)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "no such file")
	assert.Contains(t, buf.String(), `"action":"tasks_reload"`)
}
