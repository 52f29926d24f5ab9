package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
)

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestNewErrorResult(t *testing.T) {
	resp := decodeErrorResult(t, NewErrorResult("invalid_parameters", "parameter 'sql' cannot be empty"))

	assert.True(t, resp.Error)
	assert.Equal(t, "invalid_parameters", resp.Code)
	assert.Equal(t, "parameter 'sql' cannot be empty", resp.Message)
	assert.Nil(t, resp.Details)
}

func TestIsSQLUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
		code     string
	}{
		{name: "nil", err: nil, expected: false},
		{name: "undefined table", err: &pgconn.PgError{Code: "42P01", Message: `relation "nope" does not exist`}, expected: true, code: "undefined_table"},
		{name: "wrapped undefined column", err: fmt.Errorf("%w: %w", apperrors.ErrIntrospectionFailure, &pgconn.PgError{Code: "42703"}), expected: true, code: "undefined_column"},
		{name: "internal error", err: &pgconn.PgError{Code: "XX000"}, expected: false},
		{name: "division by zero", err: &pgconn.PgError{Code: "22012"}, expected: true, code: "division_by_zero"},
		{name: "other data exception", err: &pgconn.PgError{Code: "22023"}, expected: true, code: "data_exception"},
		{name: "statement timeout", err: &pgconn.PgError{Code: "57014"}, expected: true, code: "query_timeout"},
		{name: "sqlstate in message", err: errors.New(`ERROR: syntax error at or near "FORM" (SQLSTATE 42601)`), expected: true, code: "syntax_error"},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, expected: false},
		{name: "plain error", err: errors.New("connection reset by peer"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSQLUserError(tt.err))
			assert.Equal(t, tt.code, SQLUserErrorCode(tt.err))
		})
	}
}

func TestExtractSQLErrorMessage(t *testing.T) {
	assert.Equal(t, "", ExtractSQLErrorMessage(nil))
	assert.Equal(t, `column "nme" does not exist`,
		ExtractSQLErrorMessage(fmt.Errorf("failed: %w", &pgconn.PgError{Code: "42703", Message: `column "nme" does not exist`})))
	assert.Equal(t, `syntax error at or near "FORM"`,
		ExtractSQLErrorMessage(errors.New(`failed to create temporary view: ERROR: syntax error at or near "FORM" (SQLSTATE 42601)`)))
}

func TestNewLayerErrorResult(t *testing.T) {
	validation := models.NewValidationResult(models.NewQuery("SELECT name FROM cities"), models.ValidationLevelStrict)
	validation.AddError("missing geom column")

	t.Run("rejected query carries validation", func(t *testing.T) {
		resp := decodeErrorResult(t, NewLayerErrorResult(fmt.Errorf("%w: 1 violation(s)", apperrors.ErrQueryNotValid), validation))
		assert.Equal(t, "query_not_valid", resp.Code)
		details, ok := resp.Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, false, details["is_valid"])
	})

	t.Run("missing column", func(t *testing.T) {
		err := fmt.Errorf("%w: %w: [missing geom column]", apperrors.ErrIntrospectionFailure, apperrors.ErrMissingRequiredColumn)
		resp := decodeErrorResult(t, NewLayerErrorResult(err, validation))
		assert.Equal(t, "missing_required_column", resp.Code)
		assert.Contains(t, resp.Message, "'geom'")
	})

	t.Run("invalid page", func(t *testing.T) {
		resp := decodeErrorResult(t, NewLayerErrorResult(fmt.Errorf("%w: offset must be >= 0", apperrors.ErrInvalidPage), nil))
		assert.Equal(t, "invalid_page", resp.Code)
	})

	t.Run("sql user error", func(t *testing.T) {
		err := fmt.Errorf("%w: %w", apperrors.ErrIntrospectionFailure, &pgconn.PgError{Code: "42P01", Message: `relation "citys" does not exist`})
		resp := decodeErrorResult(t, NewLayerErrorResult(err, nil))
		assert.Equal(t, "undefined_table", resp.Code)
		assert.Equal(t, `relation "citys" does not exist`, resp.Message)
	})

	t.Run("server fault is not a tool result", func(t *testing.T) {
		assert.Nil(t, NewLayerErrorResult(fmt.Errorf("%w: pool closed", apperrors.ErrConnectionUnavailable), nil))
		assert.Nil(t, NewLayerErrorResult(fmt.Errorf("%w: conn reset", apperrors.ErrExecutionFailure), nil))
	})
}
