package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/metrics"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
)

// WGS84 is the SRID that bounds are always reported in.
const WGS84 = 4326

// SpatialMetadataComputer summarizes the result set of a validated query.
type SpatialMetadataComputer interface {
	// Compute never fails: any database error yields
	// models.DegradedSpatialMetadata and a warning log.
	Compute(ctx context.Context, vq *ValidatedQuery, conn datasource.LayerConn) *models.SpatialMetadata
}

type spatialMetadataComputer struct {
	metrics *metrics.LayerMetrics
	logger  *zap.Logger
}

// NewSpatialMetadataComputer creates a metadata computer.
func NewSpatialMetadataComputer(m *metrics.LayerMetrics, logger *zap.Logger) SpatialMetadataComputer {
	return &spatialMetadataComputer{
		metrics: m,
		logger:  logger.Named("layer-metadata"),
	}
}

var _ SpatialMetadataComputer = (*spatialMetadataComputer)(nil)

func (c *spatialMetadataComputer) Compute(ctx context.Context, vq *ValidatedQuery, conn datasource.LayerConn) *models.SpatialMetadata {
	start := time.Now()
	md, err := c.compute(ctx, vq, conn)
	if err != nil {
		c.metrics.ObserveDegradedMetadata()
		c.logger.Warn("Spatial metadata degraded",
			zap.String("query_hash", vq.Query().ShortHash()),
			zap.Error(err),
		)
		return models.DegradedSpatialMetadata()
	}

	c.logger.Debug("Computed spatial metadata",
		zap.String("query_hash", vq.Query().ShortHash()),
		zap.Int64("feature_count", *md.FeatureCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return md
}

func (c *spatialMetadataComputer) compute(ctx context.Context, vq *ValidatedQuery, conn datasource.LayerConn) (*models.SpatialMetadata, error) {
	if conn == nil {
		return nil, errors.New("no connection")
	}

	md := &models.SpatialMetadata{AttributeNames: []string{}}

	count, err := featureCount(ctx, vq, conn)
	if err != nil {
		return nil, err
	}
	md.FeatureCount = &count
	if count == 0 {
		return md, nil
	}

	if md.GeometryType, err = dominantGeometryType(ctx, vq, conn); err != nil {
		return nil, err
	}

	if md.SRID, err = NativeSRID(ctx, vq, conn); err != nil {
		return nil, err
	}

	srid := WGS84
	if md.SRID != nil {
		srid = *md.SRID
	}
	if md.Bounds, err = extent(ctx, vq, srid, conn); err != nil {
		return nil, err
	}

	return md, nil
}

func featureCount(ctx context.Context, vq *ValidatedQuery, conn datasource.LayerConn) (int64, error) {
	stmt := fmt.Sprintf(`SELECT count(*) FROM (%s) AS _layer WHERE _layer.geom IS NOT NULL`, vq.SQL())

	var count int64
	if err := conn.QueryRow(ctx, stmt).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return count, nil
}

// dominantGeometryType returns the most frequent geometry type. Ties go to
// the alphabetically first type so repeated calls agree.
func dominantGeometryType(ctx context.Context, vq *ValidatedQuery, conn datasource.LayerConn) (*string, error) {
	stmt := fmt.Sprintf(`
SELECT GeometryType(_layer.geom) AS geom_type, count(*) AS n
FROM (%s) AS _layer
WHERE _layer.geom IS NOT NULL
GROUP BY 1
ORDER BY n DESC, geom_type
LIMIT 1`, vq.SQL())

	var geomType string
	var n int64
	err := conn.QueryRow(ctx, stmt).Scan(&geomType, &n)
	if errors.Is(err, datasource.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to determine geometry type: %w", err)
	}
	return &geomType, nil
}

// NativeSRID returns the most common spatial reference among the query's
// non-null geometries, or nil when there is none. Ties go to the lowest SRID
// so mixed-SRID layers report the same value on every call.
func NativeSRID(ctx context.Context, vq *ValidatedQuery, conn datasource.LayerConn) (*int, error) {
	stmt := fmt.Sprintf(`
SELECT ST_SRID(_layer.geom) AS srid
FROM (%s) AS _layer
WHERE _layer.geom IS NOT NULL
GROUP BY 1
ORDER BY count(*) DESC, srid
LIMIT 1`, vq.SQL())

	var srid int
	err := conn.QueryRow(ctx, stmt).Scan(&srid)
	if errors.Is(err, datasource.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to determine SRID: %w", err)
	}
	return &srid, nil
}

// extent computes the WGS84 bounding box of every non-null geometry.
// Extents in another SRID are reprojected; SRID 0 has no known projection
// and is reported as-is.
func extent(ctx context.Context, vq *ValidatedQuery, srid int, conn datasource.LayerConn) (*models.BoundingBox, error) {
	box := `ST_Extent(_layer.geom)::geometry`
	var args []any
	if srid != WGS84 && srid != 0 {
		box = `ST_Transform(ST_SetSRID(ST_Extent(_layer.geom)::geometry, $1::int), 4326)`
		args = append(args, srid)
	}

	stmt := fmt.Sprintf(`
SELECT ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e)
FROM (SELECT %s AS e FROM (%s) AS _layer WHERE _layer.geom IS NOT NULL) AS _extent`, box, vq.SQL())

	var west, south, east, north *float64
	if err := conn.QueryRow(ctx, stmt, args...).Scan(&west, &south, &east, &north); err != nil {
		return nil, fmt.Errorf("failed to compute extent: %w", err)
	}
	if west == nil || south == nil || east == nil || north == nil {
		return nil, nil
	}

	return &models.BoundingBox{West: *west, South: *south, East: *east, North: *north}, nil
}
