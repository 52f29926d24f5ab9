// Package testhelpers provides a shared PostGIS database for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ekaya-inc/ekaya-layers/pkg/database"
)

// PostGISImage is the PostgreSQL image with the PostGIS extension installed.
const PostGISImage = "postgis/postgis:16-3.4"

// PostGISDB holds a shared PostGIS container seeded with layer fixtures.
type PostGISDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedPostGIS     *PostGISDB
	sharedPostGISOnce sync.Once
	sharedPostGISErr  error
)

// GetPostGISDB returns a shared PostGIS container for integration tests.
// The container is created and seeded once and reused across the run.
//
// Fixtures:
//   - cities: 100 points in EPSG:4326 on a 2-degree grid inside [-10, 10]
//   - parcels_3857: 5 polygons stored in EPSG:3857
//   - mixed_shapes: 3 polygons, 2 points and 1 NULL geometry in EPSG:4326
func GetPostGISDB(t *testing.T) *PostGISDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedPostGISOnce.Do(func() {
		sharedPostGIS, sharedPostGISErr = setupPostGISDB()
	})

	if sharedPostGISErr != nil {
		t.Fatalf("Failed to setup PostGIS database: %v", sharedPostGISErr)
	}

	return sharedPostGIS
}

func setupPostGISDB() (*PostGISDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostGISImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "gis_test",
			"POSTGRES_USER":     "layers",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The entrypoint restarts postgres once after running init scripts.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostGIS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://layers:test_password@%s:%s/gis_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostGIS: %w", err)
	}

	if _, err := db.Exec(ctx, fixtureSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed fixtures: %w", err)
	}

	return &PostGISDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

const fixtureSQL = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE cities (
    id         serial PRIMARY KEY,
    name       text NOT NULL,
    population integer,
    geom       geometry(Point, 4326)
);
INSERT INTO cities (name, population, geom)
SELECT 'city_' || g, g * 1000,
       ST_SetSRID(ST_MakePoint(-9.5 + (g % 10) * 2.0, -9.5 + (g / 10) * 2.0), 4326)
FROM generate_series(0, 99) AS g;
CREATE INDEX cities_geom_idx ON cities USING gist (geom);

CREATE TABLE parcels_3857 (
    id   integer PRIMARY KEY,
    zone text,
    geom geometry(Polygon, 3857)
);
INSERT INTO parcels_3857 (id, zone, geom)
SELECT g, 'zone_' || (g % 3),
       ST_Transform(ST_MakeEnvelope(g, g, g + 0.5, g + 0.5, 4326), 3857)
FROM generate_series(1, 5) AS g;

CREATE TABLE mixed_shapes (
    id   integer PRIMARY KEY,
    geom geometry(Geometry, 4326)
);
INSERT INTO mixed_shapes (id, geom) VALUES
    (1, ST_MakeEnvelope(0, 0, 1, 1, 4326)),
    (2, ST_MakeEnvelope(2, 2, 3, 3, 4326)),
    (3, ST_MakeEnvelope(4, 4, 5, 5, 4326)),
    (4, ST_SetSRID(ST_MakePoint(6, 6), 4326)),
    (5, ST_SetSRID(ST_MakePoint(7, 7), 4326)),
    (6, NULL);
`
