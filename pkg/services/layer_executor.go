package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
)

// SafeExecutor runs paginated reads of validated layer queries.
//
// The validated text is the only caller-derived string embedded in SQL.
// Bounds, limit and offset are always bound parameters.
type SafeExecutor interface {
	// Execute returns one page ordered by id. A non-nil page.Bounds keeps
	// features whose bounding box overlaps it; this is not exact containment.
	Execute(ctx context.Context, vq *ValidatedQuery, page models.PageRequest, conn datasource.LayerConn) (*datasource.QueryExecutionResult, error)

	// Count returns the number of rows Execute would page through.
	Count(ctx context.Context, vq *ValidatedQuery, bounds *models.BoundingBox, conn datasource.LayerConn) (int64, error)
}

// DefaultMaxPageSize caps pages when no limit is configured.
const DefaultMaxPageSize = 1000

type safeExecutor struct {
	maxPageSize int
	logger      *zap.Logger
}

// NewSafeExecutor creates an executor that caps pages at maxPageSize rows.
func NewSafeExecutor(maxPageSize int, logger *zap.Logger) SafeExecutor {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &safeExecutor{
		maxPageSize: maxPageSize,
		logger:      logger.Named("layer-executor"),
	}
}

var _ SafeExecutor = (*safeExecutor)(nil)

// NormalizePage applies the default and maximum limit and checks offset and
// bounds. A nil limit means maxPageSize; the returned page always has one.
func NormalizePage(page models.PageRequest, maxPageSize int) (models.PageRequest, error) {
	if page.Offset < 0 {
		return page, fmt.Errorf("%w: offset must be non-negative, got %d", apperrors.ErrInvalidPage, page.Offset)
	}
	switch {
	case page.Limit == nil || *page.Limit > maxPageSize:
		page.Limit = models.PageLimit(maxPageSize)
	case *page.Limit < 0:
		return page, fmt.Errorf("%w: limit must be non-negative, got %d", apperrors.ErrInvalidPage, *page.Limit)
	default:
		page.Limit = models.PageLimit(*page.Limit)
	}
	if page.Bounds != nil {
		if err := page.Bounds.Validate(); err != nil {
			return page, fmt.Errorf("%w: %w", apperrors.ErrInvalidPage, err)
		}
	}
	return page, nil
}

func (e *safeExecutor) Execute(ctx context.Context, vq *ValidatedQuery, page models.PageRequest, conn datasource.LayerConn) (*datasource.QueryExecutionResult, error) {
	page, err := NormalizePage(page, e.maxPageSize)
	if err != nil {
		return nil, err
	}

	where, args, err := e.boundsFilter(ctx, vq, page.Bounds, conn)
	if err != nil {
		return nil, err
	}

	args = append(args, *page.Limit, page.Offset)
	stmt := fmt.Sprintf("SELECT * FROM (%s) AS _layer%s ORDER BY _layer.id LIMIT $%d OFFSET $%d",
		vq.SQL(), where, len(args)-1, len(args))

	result, err := conn.Query(ctx, stmt, args...)
	if err != nil {
		e.logger.Error("Layer query execution failed",
			zap.String("query_hash", vq.Query().ShortHash()),
			zap.Int("limit", *page.Limit),
			zap.Int("offset", page.Offset),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrExecutionFailure, err)
	}

	return result, nil
}

func (e *safeExecutor) Count(ctx context.Context, vq *ValidatedQuery, bounds *models.BoundingBox, conn datasource.LayerConn) (int64, error) {
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %w", apperrors.ErrInvalidPage, err)
		}
	}

	where, args, err := e.boundsFilter(ctx, vq, bounds, conn)
	if err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf("SELECT count(*) FROM (%s) AS _layer%s", vq.SQL(), where)

	var total int64
	if err := conn.QueryRow(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrExecutionFailure, err)
	}
	return total, nil
}

// boundsFilter builds the overlap predicate for bounds. The envelope is
// built in WGS84 and moved into the layer's native SRID so && compares like
// with like.
func (e *safeExecutor) boundsFilter(ctx context.Context, vq *ValidatedQuery, bounds *models.BoundingBox, conn datasource.LayerConn) (string, []any, error) {
	if bounds == nil {
		return "", nil, nil
	}

	srid, err := NativeSRID(ctx, vq, conn)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", apperrors.ErrExecutionFailure, err)
	}

	args := []any{bounds.West, bounds.South, bounds.East, bounds.North}
	envelope := "ST_MakeEnvelope($1, $2, $3, $4, 4326)"
	switch {
	case srid == nil || *srid == WGS84:
	case *srid == 0:
		envelope = "ST_MakeEnvelope($1, $2, $3, $4)"
	default:
		envelope = "ST_Transform(" + envelope + ", $5::int)"
		args = append(args, *srid)
	}

	return " WHERE _layer.geom && " + envelope, args, nil
}
