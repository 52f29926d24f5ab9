package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// PostGISChecker reports the PostGIS version of the backing database.
type PostGISChecker interface {
	PostGISVersion(ctx context.Context) (string, error)
}

type healthResult struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	PostGISVersion string `json:"postgis_version,omitempty"`
	Database       string `json:"database"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server version and whether PostGIS answers.
// postgis may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, postgis PostGISChecker) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and PostGIS availability"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version, Database: "unchecked"}

		if postgis != nil {
			checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()

			if v, err := postgis.PostGISVersion(checkCtx); err != nil {
				result.Status = "degraded"
				result.Database = "unavailable"
			} else {
				result.Database = "ok"
				result.PostGISVersion = v
			}
		}

		return jsonResult(result)
	})
}
