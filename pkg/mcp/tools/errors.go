package tools

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/logging"
)

// ErrorResponse is a structured error returned as a tool result so the agent
// sees actionable detail instead of an opaque protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use it for errors the agent can fix by changing its input. System failures
// are returned as Go errors instead.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context,
// such as the validation result of a rejected layer query.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// sqlStateRegex matches PostgreSQL SQLSTATE codes in error messages like "(SQLSTATE 42601)"
var sqlStateRegex = regexp.MustCompile(`\(SQLSTATE ([0-9A-Z]{5})\)`)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	if matches := sqlStateRegex.FindStringSubmatch(err.Error()); len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// IsSQLUserError reports whether err was caused by the submitted SQL rather
// than the server. A layer query that references a missing table or has a
// type error fails inside the database, after validation passed.
//
// PostgreSQL SQLSTATE classes treated as user errors:
//   - 22xxx: Data Exception
//   - 42xxx: Syntax Error or Access Rule Violation
//   - 57014: query_canceled, raised by statement_timeout
func IsSQLUserError(err error) bool {
	if err == nil {
		return false
	}
	code := sqlState(err)
	if code == "57014" {
		return true
	}
	return strings.HasPrefix(code, "22") || strings.HasPrefix(code, "42")
}

// SQLUserErrorCode maps a SQL user error to a short error code.
// Returns empty string if the error is not a SQL user error.
func SQLUserErrorCode(err error) string {
	if !IsSQLUserError(err) {
		return ""
	}

	code := sqlState(err)
	switch code {
	case "42601":
		return "syntax_error"
	case "42703":
		return "undefined_column"
	case "42P01":
		return "undefined_table"
	case "42883":
		return "undefined_function"
	case "42501":
		return "permission_denied"
	case "22P02":
		return "invalid_input"
	case "22012":
		return "division_by_zero"
	case "57014":
		return "query_timeout"
	}

	if strings.HasPrefix(code, "22") {
		return "data_exception"
	}
	return "sql_error"
}

// ExtractSQLErrorMessage returns the database's own message without the
// SQLSTATE suffix and wrapping prefixes.
func ExtractSQLErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}

	msg := logging.SanitizeError(err)
	if idx := strings.Index(msg, " (SQLSTATE"); idx != -1 {
		msg = msg[:idx]
	}
	if idx := strings.LastIndex(msg, "ERROR: "); idx != -1 {
		msg = msg[idx+len("ERROR: "):]
	}
	return msg
}

// NewLayerErrorResult converts a pipeline error the agent can act on into a
// tool result. details, when non-nil, carries the validation result.
// Returns nil for server faults, which the caller returns as Go errors.
func NewLayerErrorResult(err error, details any) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperrors.ErrQueryNotValid):
		return NewErrorResultWithDetails("query_not_valid", "layer query failed validation; see details.errors", details)
	case errors.Is(err, apperrors.ErrMissingRequiredColumn):
		return NewErrorResultWithDetails("missing_required_column",
			"layer queries must return an 'id' column and a 'geom' geometry column", details)
	case errors.Is(err, apperrors.ErrInvalidPage):
		return NewErrorResult("invalid_page", err.Error())
	}

	if IsSQLUserError(err) {
		return NewErrorResultWithDetails(SQLUserErrorCode(err), ExtractSQLErrorMessage(err), details)
	}
	return nil
}
