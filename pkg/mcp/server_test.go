package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-layers/pkg/metrics"
)

func TestNewServer(t *testing.T) {
	logger := zap.NewNop()
	s := NewServer("test-server", "1.0.0", logger)

	require.NotNil(t, s)
	assert.NotNil(t, s.MCP())
	assert.Same(t, s.mcp, s.MCP())
	assert.NotNil(t, s.NewStreamableHTTPServer())
}

func callToolMessage(name, sql string) []byte {
	args, _ := json.Marshal(map[string]any{"sql": sql})
	return []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"` + name + `","arguments":` + string(args) + `}}`)
}

func TestToolAuditor_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zap.InfoLevel)
	auditor := NewToolAuditor(metrics.NewLayerMetrics(reg), zap.New(core))

	s := NewServer("test-server", "1.0.0", zap.NewNop(), server.WithHooks(auditor.Hooks()))
	s.MCP().AddTool(mcplib.NewTool("ok_tool"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return mcplib.NewToolResultText("{}"), nil
	})
	s.MCP().AddTool(mcplib.NewTool("rejecting_tool"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return mcplib.NewToolResultError("query_not_valid"), nil
	})
	s.MCP().AddTool(mcplib.NewTool("failing_tool"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return nil, errors.New("database connection unavailable")
	})

	ctx := context.Background()
	s.MCP().HandleMessage(ctx, callToolMessage("ok_tool", "SELECT * FROM cities WHERE name = 'Oslo'"))
	s.MCP().HandleMessage(ctx, callToolMessage("rejecting_tool", "DROP TABLE cities"))
	s.MCP().HandleMessage(ctx, callToolMessage("failing_tool", "SELECT 1"))

	expected := `
# HELP layer_mcp_tool_calls_total MCP tool calls by tool and outcome.
# TYPE layer_mcp_tool_calls_total counter
layer_mcp_tool_calls_total{outcome="fault",tool="failing_tool"} 1
layer_mcp_tool_calls_total{outcome="success",tool="ok_tool"} 1
layer_mcp_tool_calls_total{outcome="tool_error",tool="rejecting_tool"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "layer_mcp_tool_calls_total"))

	calls := logs.FilterMessage("MCP tool call").All()
	require.Len(t, calls, 2)
	assert.Equal(t, "SELECT * FROM cities WHERE name = '?'", calls[0].ContextMap()["query"])

	failures := logs.FilterMessage("MCP tool call failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "failing_tool", failures[0].ContextMap()["tool"])
}

func TestToolAuditor_IgnoresOtherMethods(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	auditor := NewToolAuditor(nil, zap.New(core))

	auditor.onError(context.Background(), 1, mcplib.MethodToolsList, nil, errors.New("boom"))

	assert.Zero(t, logs.Len())
}
