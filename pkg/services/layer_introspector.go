package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
)

// Required result columns of every layer query.
const (
	GeomColumn = "geom"
	IDColumn   = "id"
)

// viewDropTimeout bounds the cleanup drop, which runs even after the caller's
// context is cancelled.
const viewDropTimeout = 5 * time.Second

// IntrospectionResult is the outcome of introspecting a layer query.
// Query and AttributeNames are set only when Validation.IsValid.
type IntrospectionResult struct {
	Validation     *models.ValidationResult
	Query          *ValidatedQuery
	Columns        []datasource.ColumnInfo
	AttributeNames []string
}

// SchemaIntrospector discovers the result schema of a layer query.
type SchemaIntrospector interface {
	// Introspect validates query, then wraps it in a temporary view to read
	// its columns. A policy rejection returns a result with IsValid=false and
	// a nil error. A database failure or a missing geom/id column returns an
	// error wrapping apperrors.ErrIntrospectionFailure; for missing columns
	// the result is returned too, carrying the named violations.
	Introspect(ctx context.Context, query models.Query, level models.ValidationLevel, conn datasource.LayerConn) (*IntrospectionResult, error)
}

type schemaIntrospector struct {
	validator SecurityValidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewSchemaIntrospector creates an introspector that re-validates with validator.
func NewSchemaIntrospector(validator SecurityValidator, logger *zap.Logger) SchemaIntrospector {
	return &schemaIntrospector{
		validator: validator,
		logger:    logger.Named("layer-introspector"),
		now:       time.Now,
	}
}

var _ SchemaIntrospector = (*schemaIntrospector)(nil)

func (s *schemaIntrospector) Introspect(ctx context.Context, query models.Query, level models.ValidationLevel, conn datasource.LayerConn) (*IntrospectionResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: no connection", apperrors.ErrConnectionUnavailable)
	}

	validation, vq := s.validator.Validate(ctx, query, level, conn)
	result := &IntrospectionResult{Validation: validation}
	if vq == nil {
		return result, nil
	}

	viewName := fmt.Sprintf("layer_introspect_%d", s.now().UnixNano())
	// A cancelled create may still have run on the server.
	defer s.dropView(ctx, conn, viewName, query)
	if err := conn.CreateTempView(ctx, viewName, vq.SQL()); err != nil {
		return result, fmt.Errorf("%w: %w", apperrors.ErrIntrospectionFailure, err)
	}

	columns, err := conn.ViewColumns(ctx, viewName)
	if err != nil {
		return result, fmt.Errorf("%w: %w", apperrors.ErrIntrospectionFailure, err)
	}

	hasGeom, hasID := false, false
	attributes := make([]string, 0, len(columns))
	for _, col := range columns {
		switch col.Name {
		case GeomColumn:
			hasGeom = true
		case IDColumn:
			hasID = true
		default:
			attributes = append(attributes, col.Name)
		}
	}

	if !hasGeom {
		validation.AddError("missing geom column")
	}
	if !hasID {
		validation.AddError("missing id column")
	}
	if !validation.IsValid {
		s.logger.Info("Layer query missing required columns",
			zap.String("query_hash", query.ShortHash()),
			zap.Bool("has_geom", hasGeom),
			zap.Bool("has_id", hasID),
		)
		return result, fmt.Errorf("%w: %w: %v", apperrors.ErrIntrospectionFailure, apperrors.ErrMissingRequiredColumn, validation.Errors)
	}

	result.Query = vq
	result.Columns = columns
	result.AttributeNames = attributes
	return result, nil
}

// dropView removes the introspection view. It detaches from ctx cancellation
// so a cancelled request still cleans up its session.
func (s *schemaIntrospector) dropView(ctx context.Context, conn datasource.LayerConn, viewName string, query models.Query) {
	dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), viewDropTimeout)
	defer cancel()

	if err := conn.DropView(dropCtx, viewName); err != nil {
		s.logger.Error("Failed to drop introspection view",
			zap.String("view", viewName),
			zap.String("query_hash", query.ShortHash()),
			zap.Error(err),
		)
	}
}
