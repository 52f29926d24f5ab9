package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-layers/pkg/metrics"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
)

// LayerConnProvider lends a single database session for the duration of fn.
// The provider owns acquisition, release and session settings.
type LayerConnProvider interface {
	WithLayerConn(ctx context.Context, fn func(ctx context.Context, conn datasource.LayerConn) error) error
}

// LayerDescription is a validated layer query's schema and spatial summary.
// Only Validation is set when the query was rejected.
type LayerDescription struct {
	Validation     *models.ValidationResult `json:"validation"`
	Columns        []datasource.ColumnInfo  `json:"columns,omitempty"`
	AttributeNames []string                 `json:"attribute_names"`
	Metadata       *models.SpatialMetadata  `json:"metadata,omitempty"`
}

// FeaturePage is one page of a layer's features.
type FeaturePage struct {
	Validation *models.ValidationResult `json:"validation"`
	Columns    []datasource.ColumnInfo  `json:"columns"`
	Rows       []map[string]any         `json:"rows"`
	Total      int64                    `json:"total"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

// LayerQueryService runs the layer query pipeline. Every call borrows exactly
// one connection and runs all of its stages on it.
type LayerQueryService interface {
	// Validate checks query text at level. An empty level means the
	// configured default.
	Validate(ctx context.Context, text string, level models.ValidationLevel) (*models.ValidationResult, error)

	// Describe validates and introspects the query and computes its spatial
	// metadata.
	Describe(ctx context.Context, text string, level models.ValidationLevel) (*LayerDescription, error)

	// Features returns one page of the query's rows. A rejected query returns
	// a page carrying only Validation and an error wrapping
	// apperrors.ErrQueryNotValid.
	Features(ctx context.Context, text string, level models.ValidationLevel, page models.PageRequest) (*FeaturePage, error)
}

// LayerQueryConfig holds the service-level settings.
type LayerQueryConfig struct {
	DefaultLevel models.ValidationLevel
	MaxPageSize  int
}

type layerQueryService struct {
	cfg          LayerQueryConfig
	conns        LayerConnProvider
	validator    SecurityValidator
	introspector SchemaIntrospector
	metadata     SpatialMetadataComputer
	executor     SafeExecutor
	metrics      *metrics.LayerMetrics
	logger       *zap.Logger
}

// NewLayerQueryService wires the pipeline components.
func NewLayerQueryService(
	cfg LayerQueryConfig,
	conns LayerConnProvider,
	validator SecurityValidator,
	introspector SchemaIntrospector,
	metadata SpatialMetadataComputer,
	executor SafeExecutor,
	m *metrics.LayerMetrics,
	logger *zap.Logger,
) LayerQueryService {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = models.ValidationLevelStrict
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = DefaultMaxPageSize
	}
	return &layerQueryService{
		cfg:          cfg,
		conns:        conns,
		validator:    validator,
		introspector: introspector,
		metadata:     metadata,
		executor:     executor,
		metrics:      m,
		logger:       logger.Named("layer-query"),
	}
}

var _ LayerQueryService = (*layerQueryService)(nil)

func (s *layerQueryService) level(level models.ValidationLevel) models.ValidationLevel {
	if level == "" {
		return s.cfg.DefaultLevel
	}
	return level
}

func (s *layerQueryService) Validate(ctx context.Context, text string, level models.ValidationLevel) (*models.ValidationResult, error) {
	defer s.metrics.ObserveDuration("validate", time.Now())

	query := models.NewQuery(text)
	var result *models.ValidationResult
	err := s.conns.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		result, _ = s.validator.Validate(ctx, query, s.level(level), conn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *layerQueryService) Describe(ctx context.Context, text string, level models.ValidationLevel) (*LayerDescription, error) {
	defer s.metrics.ObserveDuration("describe", time.Now())

	query := models.NewQuery(text)
	var desc *LayerDescription
	err := s.conns.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		intro, err := s.introspector.Introspect(ctx, query, s.level(level), conn)
		if intro != nil {
			desc = &LayerDescription{Validation: intro.Validation, AttributeNames: []string{}}
		}
		if err != nil {
			return err
		}
		if intro.Query == nil {
			return nil
		}

		md := s.metadata.Compute(ctx, intro.Query, conn)
		md.AttributeNames = intro.AttributeNames

		desc.Columns = intro.Columns
		desc.AttributeNames = intro.AttributeNames
		desc.Metadata = md
		return nil
	})
	if err != nil {
		s.logFailure("describe", query, err)
		return desc, err
	}

	return desc, nil
}

func (s *layerQueryService) Features(ctx context.Context, text string, level models.ValidationLevel, page models.PageRequest) (*FeaturePage, error) {
	defer s.metrics.ObserveDuration("features", time.Now())

	page, err := NormalizePage(page, s.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}

	query := models.NewQuery(text)
	var out *FeaturePage
	err = s.conns.WithLayerConn(ctx, func(ctx context.Context, conn datasource.LayerConn) error {
		intro, err := s.introspector.Introspect(ctx, query, s.level(level), conn)
		if intro != nil {
			out = &FeaturePage{Validation: intro.Validation, Rows: []map[string]any{}, Limit: *page.Limit, Offset: page.Offset}
		}
		if err != nil {
			return err
		}
		if intro.Query == nil {
			return fmt.Errorf("%w: %d violation(s)", apperrors.ErrQueryNotValid, len(intro.Validation.Errors))
		}

		total, err := s.executor.Count(ctx, intro.Query, page.Bounds, conn)
		if err != nil {
			return err
		}

		rows, err := s.executor.Execute(ctx, intro.Query, page, conn)
		if err != nil {
			return err
		}

		out.Columns = rows.Columns
		out.Rows = rows.Rows
		out.Total = total
		return nil
	})
	if err != nil {
		s.logFailure("features", query, err)
		return out, err
	}

	return out, nil
}

// logFailure logs engine faults. Policy rejections are expected and were
// already logged by the validator.
func (s *layerQueryService) logFailure(operation string, query models.Query, err error) {
	if errors.Is(err, apperrors.ErrQueryNotValid) {
		return
	}
	s.logger.Error("Layer query operation failed",
		zap.String("operation", operation),
		zap.String("query_hash", query.ShortHash()),
		zap.Error(err),
	)
}
