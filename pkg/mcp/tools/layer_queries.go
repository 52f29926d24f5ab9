package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/logging"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
	"github.com/ekaya-inc/ekaya-layers/pkg/services"
)

// Tool names exposed to agents.
const (
	ToolValidateLayerQuery = "validate_layer_query"
	ToolDescribeLayerQuery = "describe_layer_query"
	ToolLayerFeatures      = "layer_features"
)

const layerQueryRules = "The query must be a single read-only SELECT with no comments, " +
	"only allow-listed st_* spatial functions, and it must return an 'id' column and a 'geom' geometry column."

// LayerToolDeps contains the dependencies of the layer query tools.
type LayerToolDeps struct {
	Service services.LayerQueryService
	Logger  *zap.Logger
}

// RegisterLayerQueryTools adds the layer query tools to the MCP server.
func RegisterLayerQueryTools(s *server.MCPServer, deps *LayerToolDeps) {
	registerValidateLayerQueryTool(s, deps)
	registerDescribeLayerQueryTool(s, deps)
	registerLayerFeaturesTool(s, deps)
}

func sqlParam() mcp.ToolOption {
	return mcp.WithString(
		"sql",
		mcp.Required(),
		mcp.Description("Layer query SQL. "+layerQueryRules),
	)
}

func levelParam() mcp.ToolOption {
	return mcp.WithString(
		"level",
		mcp.Description("Validation level: strict (SELECT only), moderate or permissive. Defaults to the server setting."),
		mcp.Enum(string(models.ValidationLevelStrict), string(models.ValidationLevelModerate), string(models.ValidationLevelPermissive)),
	)
}

// readLayerArgs reads the sql and level arguments shared by every layer tool.
// A non-nil result is an input error to return to the agent.
func readLayerArgs(req mcp.CallToolRequest) (string, models.ValidationLevel, *mcp.CallToolResult, error) {
	sql, err := req.RequireString("sql")
	if err != nil {
		return "", "", nil, err
	}
	if trimString(sql) == "" {
		return "", "", NewErrorResult("invalid_parameters", "parameter 'sql' cannot be empty"), nil
	}

	level, err := getLevel(req)
	if err != nil {
		return "", "", NewErrorResult("invalid_parameters", err.Error()), nil
	}
	return sql, level, nil, nil
}

func registerValidateLayerQueryTool(s *server.MCPServer, deps *LayerToolDeps) {
	tool := mcp.NewTool(
		ToolValidateLayerQuery,
		mcp.WithDescription("Checks a map layer SQL query against the security policy without running it. "+
			"Returns is_valid, errors, warnings, the detected query type and the planner's cost estimate. "+
			"A rejected query is not a tool error: fix the listed errors and validate again."),
		sqlParam(),
		levelParam(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, level, inputErr, err := readLayerArgs(req)
		if inputErr != nil || err != nil {
			return inputErr, err
		}

		result, err := deps.Service.Validate(ctx, sql, level)
		if err != nil {
			id := deps.logFailure(ToolValidateLayerQuery, sql, err)
			return nil, fmt.Errorf("validation failed to run (request %s): %w", id, err)
		}
		return jsonResult(result)
	})
}

func registerDescribeLayerQueryTool(s *server.MCPServer, deps *LayerToolDeps) {
	tool := mcp.NewTool(
		ToolDescribeLayerQuery,
		mcp.WithDescription("Validates a map layer SQL query and summarizes what it returns: "+
			"attribute columns, feature count, dominant geometry type, native SRID and WGS84 bounds. "+
			"Use this before rendering a layer."),
		sqlParam(),
		levelParam(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, level, inputErr, err := readLayerArgs(req)
		if inputErr != nil || err != nil {
			return inputErr, err
		}

		desc, err := deps.Service.Describe(ctx, sql, level)
		if err != nil {
			var details any
			if desc != nil {
				details = desc.Validation
			}
			if result := NewLayerErrorResult(err, details); result != nil {
				return result, nil
			}
			id := deps.logFailure(ToolDescribeLayerQuery, sql, err)
			return nil, fmt.Errorf("describe failed (request %s): %w", id, err)
		}

		if !desc.Validation.IsValid {
			return NewErrorResultWithDetails("query_not_valid", "layer query failed validation; see details.errors", desc.Validation), nil
		}
		return jsonResult(desc)
	})
}

func registerLayerFeaturesTool(s *server.MCPServer, deps *LayerToolDeps) {
	tool := mcp.NewTool(
		ToolLayerFeatures,
		mcp.WithDescription("Returns one page of a map layer's features ordered by id, "+
			"optionally filtered to those whose geometry overlaps a WGS84 bounding box. "+
			"The response includes the total matching count for paging."),
		sqlParam(),
		levelParam(),
		mcp.WithObject(
			"bounds",
			mcp.Description("Optional WGS84 box {west, south, east, north} in degrees"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Page size, 0 or more (default and max: server max page size)"),
		),
		mcp.WithNumber(
			"offset",
			mcp.Description("Rows to skip (default: 0)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, level, inputErr, err := readLayerArgs(req)
		if inputErr != nil || err != nil {
			return inputErr, err
		}

		bounds, err := getOptionalBounds(req, "bounds")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		page := models.PageRequest{Bounds: bounds}
		if v, ok := getOptionalFloat(req, "limit"); ok {
			page.Limit = models.PageLimit(int(v))
		}
		if v, ok := getOptionalFloat(req, "offset"); ok {
			page.Offset = int(v)
		}

		out, err := deps.Service.Features(ctx, sql, level, page)
		if err != nil {
			var details any
			if out != nil {
				details = out.Validation
			}
			if result := NewLayerErrorResult(err, details); result != nil {
				return result, nil
			}
			id := deps.logFailure(ToolLayerFeatures, sql, err)
			return nil, fmt.Errorf("features failed (request %s): %w", id, err)
		}
		return jsonResult(out)
	})
}

// logFailure records a server fault under a fresh request ID and returns the
// ID so the error the agent sees can be matched to the log line.
func (d *LayerToolDeps) logFailure(tool, sql string, err error) string {
	id := uuid.NewString()
	if d.Logger != nil {
		d.Logger.Error("MCP layer tool failed",
			zap.String("request_id", id),
			zap.String("tool", tool),
			zap.String("query", logging.SanitizeQuery(sql)),
			zap.Error(err),
		)
	}
	return id
}
