package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
)

// Querier is the subset of pgx shared by *pgx.Conn, *pgxpool.Conn and pgx.Tx.
// A *pgxpool.Pool also satisfies it but must not be used here: each call could
// land on a different session and temporary views would vanish between calls.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LayerConn implements datasource.LayerConn on a single PostgreSQL session.
type LayerConn struct {
	q Querier
}

// NewLayerConn wraps a session-bound pgx querier.
func NewLayerConn(q Querier) *LayerConn {
	return &LayerConn{q: q}
}

// Query runs a parameterized statement and collects every row into maps keyed
// by column name. pgx binds params natively, so values never touch the SQL text.
func (c *LayerConn) Query(ctx context.Context, sqlQuery string, params ...any) (*datasource.QueryExecutionResult, error) {
	rows, err := c.q.Query(ctx, sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// QueryRow runs a statement expected to return a single row.
func (c *LayerConn) QueryRow(ctx context.Context, sqlQuery string, params ...any) datasource.Row {
	return &row{row: c.q.QueryRow(ctx, sqlQuery, params...)}
}

type row struct {
	row pgx.Row
}

func (r *row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return datasource.ErrNoRows
	}
	return err
}

// explainDocument is the shape of EXPLAIN (FORMAT JSON) output.
type explainDocument []struct {
	Plan struct {
		NodeType  string  `json:"Node Type"`
		TotalCost float64 `json:"Total Cost"`
	} `json:"Plan"`
}

// Explain returns the planner's estimate for sqlQuery. Plain EXPLAIN never
// executes the statement, unlike EXPLAIN ANALYZE.
func (c *LayerConn) Explain(ctx context.Context, sqlQuery string) (*datasource.PlanResult, error) {
	var raw []byte
	if err := c.q.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+sqlQuery).Scan(&raw); err != nil {
		return nil, fmt.Errorf("EXPLAIN failed: %w", err)
	}

	var doc explainDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse EXPLAIN output: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("EXPLAIN returned an empty plan")
	}

	return &datasource.PlanResult{
		Plan:      json.RawMessage(raw),
		TotalCost: doc[0].Plan.TotalCost,
	}, nil
}

// viewColumnsSQL lists a view's columns, restricted to this session's
// temporary schema so a same-named permanent relation cannot shadow it.
const viewColumnsSQL = `
SELECT column_name::text, udt_name::text
FROM information_schema.columns
WHERE table_name = $1
  AND table_schema = pg_my_temp_schema()::regnamespace::text
ORDER BY ordinal_position`

// ViewColumns returns the columns of a temporary view in catalog order.
func (c *LayerConn) ViewColumns(ctx context.Context, viewName string) ([]datasource.ColumnInfo, error) {
	rows, err := c.q.Query(ctx, viewColumnsSQL, viewName)
	if err != nil {
		return nil, fmt.Errorf("failed to query view columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnInfo
	for rows.Next() {
		var col datasource.ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan view column: %w", err)
		}
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating view columns: %w", err)
	}

	return columns, nil
}

// CreateTempView creates a session-scoped view. The name is quoted with
// pgx.Identifier; the definition is embedded as-is and must already be trusted.
func (c *LayerConn) CreateTempView(ctx context.Context, viewName, definition string) error {
	stmt := fmt.Sprintf("CREATE TEMPORARY VIEW %s AS %s", pgx.Identifier{viewName}.Sanitize(), definition)
	if _, err := c.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create temporary view: %w", err)
	}
	return nil
}

// DropView drops the view if it exists.
func (c *LayerConn) DropView(ctx context.Context, viewName string) error {
	stmt := "DROP VIEW IF EXISTS " + pgx.Identifier{viewName}.Sanitize()
	if _, err := c.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop view: %w", err)
	}
	return nil
}

// pgTypeNameFromOID maps built-in PostgreSQL type OIDs to readable names.
// Extension types such as PostGIS geometry have per-database OIDs and come
// back as "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	default:
		return "UNKNOWN"
	}
}

// Ensure LayerConn implements datasource.LayerConn at compile time.
var _ datasource.LayerConn = (*LayerConn)(nil)
