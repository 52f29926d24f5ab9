package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/retry"
)

// sessionResetTimeout bounds the cleanup that returns a session to the pool.
const sessionResetTimeout = 5 * time.Second

// LayerSessions lends pooled sessions to the layer query pipeline. Each
// borrowed session carries a statement timeout for its lifetime.
type LayerSessions struct {
	db               *DB
	statementTimeout time.Duration
	retry            *retry.Config
	logger           *zap.Logger
}

// NewLayerSessions creates a session lender over db. A zero statementTimeout
// leaves the server default in place.
func NewLayerSessions(db *DB, statementTimeout time.Duration, acquireRetries int, logger *zap.Logger) *LayerSessions {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = acquireRetries
	return &LayerSessions{
		db:               db,
		statementTimeout: statementTimeout,
		retry:            retryCfg,
		logger:           logger.Named("layer-sessions"),
	}
}

// WithLayerConn acquires one session, runs fn on it and releases it.
// The session is released on every exit path, including panics in fn.
func (s *LayerSessions) WithLayerConn(ctx context.Context, fn func(ctx context.Context, conn datasource.LayerConn) error) error {
	conn, err := retry.DoIfRetryable(ctx, s.retry, func() (*pgxpool.Conn, error) {
		return s.db.Acquire(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrConnectionUnavailable, err)
	}
	defer conn.Release()

	defer s.resetSession(ctx, conn)

	if s.statementTimeout > 0 {
		ms := strconv.FormatInt(s.statementTimeout.Milliseconds(), 10)
		if _, err := conn.Exec(ctx, "SELECT set_config('statement_timeout', $1, false)", ms); err != nil {
			return fmt.Errorf("%w: failed to set statement timeout: %w", apperrors.ErrConnectionUnavailable, err)
		}
	}

	return fn(ctx, postgres.NewLayerConn(conn))
}

// resetSession returns the session to its post-connect state before it goes
// back to the pool: every setting, temporary object, advisory lock and
// listener from the borrow is dropped. DISCARD ALL also deallocates prepared
// statements, so pgx's statement cache is cleared with it. A session that
// cannot be reset is closed so the pool discards it.
func (s *LayerSessions) resetSession(ctx context.Context, conn *pgxpool.Conn) {
	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionResetTimeout)
	defer cancel()

	if _, err := conn.Exec(resetCtx, "DISCARD ALL"); err != nil {
		s.logger.Warn("Failed to reset session, discarding connection", zap.Error(err))
		_ = conn.Conn().Close(resetCtx)
		return
	}
	if err := conn.Conn().DeallocateAll(resetCtx); err != nil {
		s.logger.Warn("Failed to clear statement cache, discarding connection", zap.Error(err))
		_ = conn.Conn().Close(resetCtx)
	}
}
