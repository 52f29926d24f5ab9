//go:build integration

package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/database"
	"github.com/ekaya-inc/ekaya-layers/pkg/testhelpers"
)

func TestLayerSessions_StatementTimeoutIsScopedToBorrow(t *testing.T) {
	testDB := testhelpers.GetPostGISDB(t)
	sessions := database.NewLayerSessions(testDB.DB, 1500*time.Millisecond, 1, zap.NewNop())
	ctx := context.Background()

	err := sessions.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		var timeout string
		require.NoError(t, conn.QueryRow(ctx, "SHOW statement_timeout").Scan(&timeout))
		assert.Equal(t, "1500ms", timeout)
		return nil
	})
	require.NoError(t, err)

	// Every pooled session must be back at the server default.
	for i := 0; i < 3; i++ {
		var timeout string
		require.NoError(t, testDB.DB.QueryRow(ctx, "SHOW statement_timeout").Scan(&timeout))
		assert.Equal(t, "0", timeout)
	}
}

func TestLayerSessions_StatementTimeoutCancelsSlowQuery(t *testing.T) {
	testDB := testhelpers.GetPostGISDB(t)
	sessions := database.NewLayerSessions(testDB.DB, 200*time.Millisecond, 1, zap.NewNop())

	err := sessions.WithLayerConn(context.Background(), func(ctx context.Context, conn datasource.LayerConn) error {
		_, err := conn.Query(ctx, "SELECT pg_sleep(2)")
		return err
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "57014")
}

func TestLayerSessions_SameSessionForWholeBorrow(t *testing.T) {
	testDB := testhelpers.GetPostGISDB(t)
	sessions := database.NewLayerSessions(testDB.DB, time.Second, 1, zap.NewNop())

	err := sessions.WithLayerConn(context.Background(), func(ctx context.Context, conn datasource.LayerConn) error {
		require.NoError(t, conn.CreateTempView(ctx, "layer_sessions_probe", "SELECT id, geom FROM cities"))
		cols, err := conn.ViewColumns(ctx, "layer_sessions_probe")
		require.NoError(t, err)
		assert.Len(t, cols, 2)
		return conn.DropView(ctx, "layer_sessions_probe")
	})
	require.NoError(t, err)
}

func TestLayerSessions_PropagatesCallbackError(t *testing.T) {
	testDB := testhelpers.GetPostGISDB(t)
	sessions := database.NewLayerSessions(testDB.DB, time.Second, 1, zap.NewNop())
	sentinel := errors.New("callback failed")

	err := sessions.WithLayerConn(context.Background(), func(ctx context.Context, conn datasource.LayerConn) error {
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
}

func TestLayerSessions_CancelledContext(t *testing.T) {
	testDB := testhelpers.GetPostGISDB(t)
	sessions := database.NewLayerSessions(testDB.DB, time.Second, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := sessions.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, apperrors.ErrConnectionUnavailable)
	assert.False(t, called)
}

func TestLayerSessions_ReleaseDiscardsSessionState(t *testing.T) {
	testDB := testhelpers.GetPostGISDB(t)
	ctx := context.Background()

	// One connection, so the second borrow gets the same session back.
	db, err := database.NewConnection(ctx, &database.Config{URL: testDB.ConnStr, MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	sessions := database.NewLayerSessions(db, time.Second, 1, zap.NewNop())

	var pid int
	err = sessions.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		require.NoError(t, conn.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&pid))
		if _, err := conn.Query(ctx, "SELECT id, geom, set_config('work_mem', '64MB', false) FROM cities LIMIT 1"); err != nil {
			return err
		}
		if _, err := conn.Query(ctx, "SELECT pg_advisory_lock(4242)"); err != nil {
			return err
		}
		return conn.CreateTempView(ctx, "layer_sessions_leftover", "SELECT id, geom FROM cities")
	})
	require.NoError(t, err)

	err = sessions.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		var samePID int
		require.NoError(t, conn.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&samePID))
		require.Equal(t, pid, samePID)

		var workMem string
		require.NoError(t, conn.QueryRow(ctx, "SHOW work_mem").Scan(&workMem))
		assert.Equal(t, "4MB", workMem)

		var locks int
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT count(*) FROM pg_locks WHERE locktype = 'advisory' AND pid = pg_backend_pid()").Scan(&locks))
		assert.Zero(t, locks)

		cols, err := conn.ViewColumns(ctx, "layer_sessions_leftover")
		require.NoError(t, err)
		assert.Empty(t, cols)
		return nil
	})
	require.NoError(t, err)
}
