package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/logging"
	"github.com/ekaya-inc/ekaya-layers/pkg/metrics"
)

// ToolAuditor records every MCP tool call in metrics and the log.
type ToolAuditor struct {
	metrics *metrics.LayerMetrics
	logger  *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolAuditor creates a ToolAuditor. m may be nil.
func NewToolAuditor(m *metrics.LayerMetrics, logger *zap.Logger) *ToolAuditor {
	return &ToolAuditor{
		metrics: m,
		logger:  logger.Named("mcp-audit"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolAuditor) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolAuditor) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolAuditor) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	elapsed := a.elapsed(id)

	outcome := metrics.ToolOutcomeSuccess
	if result != nil && result.IsError {
		outcome = metrics.ToolOutcomeToolError
	}
	a.metrics.ObserveToolCall(req.Params.Name, outcome, elapsed)

	a.logger.Info("MCP tool call",
		zap.String("tool", req.Params.Name),
		zap.String("outcome", outcome),
		zap.Duration("duration", elapsed),
		zap.String("query", queryArgument(req)),
	)
}

func (a *ToolAuditor) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	elapsed := a.elapsed(id)
	a.metrics.ObserveToolCall(req.Params.Name, metrics.ToolOutcomeFault, elapsed)

	a.logger.Warn("MCP tool call failed",
		zap.String("tool", req.Params.Name),
		zap.Duration("duration", elapsed),
		zap.String("query", queryArgument(req)),
		zap.String("error", logging.SanitizeError(err)),
	)
}

func (a *ToolAuditor) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

// queryArgument returns the sanitized "sql" argument of a layer tool call.
func queryArgument(req *mcplib.CallToolRequest) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	sql, _ := args["sql"].(string)
	return logging.SanitizeQuery(sql)
}
