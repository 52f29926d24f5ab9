//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-layers/pkg/testhelpers"
)

func acquireLayerConn(t *testing.T) *postgres.LayerConn {
	t.Helper()
	testDB := testhelpers.GetPostGISDB(t)

	conn, err := testDB.DB.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(conn.Release)

	return postgres.NewLayerConn(conn)
}

func TestLayerConn_Explain(t *testing.T) {
	conn := acquireLayerConn(t)

	plan, err := conn.Explain(context.Background(), "SELECT id, geom FROM cities WHERE population > 1000")
	require.NoError(t, err)

	assert.Greater(t, plan.TotalCost, 0.0)
	assert.Contains(t, string(plan.Plan), `"Node Type"`)
}

func TestLayerConn_ExplainDoesNotExecute(t *testing.T) {
	conn := acquireLayerConn(t)
	ctx := context.Background()

	var before int64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM mixed_shapes").Scan(&before))

	plan, err := conn.Explain(ctx, "DELETE FROM mixed_shapes")
	require.NoError(t, err)
	assert.Contains(t, string(plan.Plan), "ModifyTable")

	var after int64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM mixed_shapes").Scan(&after))
	assert.Equal(t, before, after)
}

func TestLayerConn_TempViewLifecycle(t *testing.T) {
	conn := acquireLayerConn(t)
	ctx := context.Background()

	require.NoError(t, conn.CreateTempView(ctx, "layer_conn_probe", "SELECT id, name, population, geom FROM cities"))

	cols, err := conn.ViewColumns(ctx, "layer_conn_probe")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, datasource.ColumnInfo{Name: "id", Type: "int4"}, cols[0])
	assert.Equal(t, "name", cols[1].Name)
	assert.Equal(t, "geom", cols[3].Name)
	assert.Equal(t, "geometry", cols[3].Type)

	require.NoError(t, conn.DropView(ctx, "layer_conn_probe"))

	cols, err = conn.ViewColumns(ctx, "layer_conn_probe")
	require.NoError(t, err)
	assert.Empty(t, cols)

	// Dropping twice is not an error.
	require.NoError(t, conn.DropView(ctx, "layer_conn_probe"))
}

func TestLayerConn_QueryBindsParameters(t *testing.T) {
	conn := acquireLayerConn(t)

	result, err := conn.Query(context.Background(),
		"SELECT id, name FROM cities WHERE name = $1", "x' OR '1'='1")
	require.NoError(t, err)

	assert.Equal(t, 0, result.RowCount)
	assert.Equal(t, []datasource.ColumnInfo{{Name: "id", Type: "INT4"}, {Name: "name", Type: "TEXT"}}, result.Columns)
}

func TestLayerConn_QueryRowNoRows(t *testing.T) {
	conn := acquireLayerConn(t)

	var id int
	err := conn.QueryRow(context.Background(), "SELECT id FROM cities WHERE false").Scan(&id)
	assert.ErrorIs(t, err, datasource.ErrNoRows)
}
