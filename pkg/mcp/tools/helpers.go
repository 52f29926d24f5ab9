package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-layers/pkg/models"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, _ := arguments(req)[key].(string)
	return val
}

// getOptionalFloat extracts an optional number argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	val, ok := arguments(req)[key].(float64)
	return val, ok
}

// getOptionalBounds reads a {west, south, east, north} object argument.
// All four edges are required when the object is present.
func getOptionalBounds(req mcp.CallToolRequest, key string) (*models.BoundingBox, error) {
	raw, present := arguments(req)[key]
	if !present || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter '%s' must be an object", key)
	}

	edge := func(name string) (float64, error) {
		v, ok := obj[name].(float64)
		if !ok {
			return 0, fmt.Errorf("parameter '%s.%s' must be a number", key, name)
		}
		return v, nil
	}

	var box models.BoundingBox
	var errs []error
	var err error
	if box.West, err = edge("west"); err != nil {
		errs = append(errs, err)
	}
	if box.South, err = edge("south"); err != nil {
		errs = append(errs, err)
	}
	if box.East, err = edge("east"); err != nil {
		errs = append(errs, err)
	}
	if box.North, err = edge("north"); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := box.Validate(); err != nil {
		return nil, fmt.Errorf("parameter '%s' is invalid: %w", key, err)
	}
	return &box, nil
}

// getLevel parses the optional "level" argument. Empty means the server
// default.
func getLevel(req mcp.CallToolRequest) (models.ValidationLevel, error) {
	raw := trimString(getOptionalString(req, "level"))
	if raw == "" {
		return "", nil
	}
	return models.ParseValidationLevel(raw)
}

// jsonResult marshals v as the text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
