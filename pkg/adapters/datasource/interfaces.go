package datasource

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoRows is returned by Row.Scan when the query produced no row.
var ErrNoRows = errors.New("no rows in result set")

// Row is a single-row result. pgx.Row satisfies it.
type Row interface {
	Scan(dest ...any) error
}

// LayerConn is a connection borrowed from the pool for the duration of one
// layer-query pipeline run. The pipeline never opens, closes or pools it.
//
// Every method must run on the same database session: temporary views created
// by CreateTempView are only visible to that session.
type LayerConn interface {
	// Query runs a parameterized statement and collects all rows.
	// The SQL should use $1, $2, etc. for parameter placeholders.
	Query(ctx context.Context, sqlQuery string, params ...any) (*QueryExecutionResult, error)

	// QueryRow runs a parameterized statement expected to return one row.
	QueryRow(ctx context.Context, sqlQuery string, params ...any) Row

	// Explain returns the estimated execution plan without running the query.
	Explain(ctx context.Context, sqlQuery string) (*PlanResult, error)

	// ViewColumns returns the columns of a session-scoped view, in catalog order.
	ViewColumns(ctx context.Context, viewName string) ([]ColumnInfo, error)

	// CreateTempView creates a session-scoped view over definition.
	CreateTempView(ctx context.Context, viewName, definition string) error

	// DropView drops the view if it still exists.
	DropView(ctx context.Context, viewName string) error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "GEOMETRY")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// PlanResult holds an estimated (not executed) query plan.
type PlanResult struct {
	Plan      json.RawMessage `json:"plan"`       // Serialized plan as returned by the database
	TotalCost float64         `json:"total_cost"` // Planner's estimated total cost of the root node
}
