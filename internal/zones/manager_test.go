package zones

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cachepkg "github.com/tripwatch/geosentry/internal/cache"
	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/spatialindex"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	srv := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)

	pool, err := spatialindex.NewPool(context.Background(), config.SpatialIndexConfig{
		Host: srv.Host(), Port: mustPort(t, srv.Port()),
		DialTimeout: 500 * time.Millisecond, QueryTimeout: 500 * time.Millisecond, HealthProbe: time.Minute,
	}, logger, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	gov := governor.New(config.GovernorConfig{WindowSizeMs: 1000, MaxRequestsPerSecond: 1000, RetryAttempts: 1, RetryDelayMs: 5, QueueOverflowAt: 100}, nil, logger, nil)
	t.Cleanup(gov.Shutdown)

	c, err := cachepkg.New(config.CacheConfig{Enabled: true, MaxEntries: 100, ZoneTTL: time.Minute}, nil, logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return New(pool, gov, c, config.ZoneConfig{CacheTTL: time.Minute}, logger, nil, nil)
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

func square(minLat, minLon, maxLat, maxLon float64) []models.Coordinate {
	return []models.Coordinate{
		{Latitude: minLat, Longitude: minLon},
		{Latitude: minLat, Longitude: maxLon},
		{Latitude: maxLat, Longitude: maxLon},
		{Latitude: maxLat, Longitude: minLon},
	}
}

func TestCreateZoneRoundTrip(t *testing.T) {
	m := newTestManager(t)
	z, err := m.CreateZone(context.Background(), ZoneInput{
		Name: "Red Fort Safe Zone", Type: models.ZoneSafe, CreatedBy: "admin",
		Coordinates: square(28.6139, 77.2090, 28.6149, 77.2100),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, z.RiskLevel)

	fetched, err := m.GetZone(context.Background(), z.ID)
	require.NoError(t, err)
	assert.Equal(t, z.Coordinates[0], fetched.Coordinates[0])
}

func TestCreateZoneRejectsSelfIntersection(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateZone(context.Background(), ZoneInput{
		Name: "Bowtie", Type: models.ZoneCaution, CreatedBy: "admin",
		Coordinates: []models.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 1}, {Latitude: 1, Longitude: 0}, {Latitude: 1, Longitude: 1}},
	})
	require.Error(t, err)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.KindZoneValidation, engErr.Kind)
}

func TestCreateZoneRejectsOverlap(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateZone(context.Background(), ZoneInput{
		Name: "Zone A", Type: models.ZoneSafe, CreatedBy: "admin",
		Coordinates: square(0, 0, 1, 1),
	})
	require.NoError(t, err)

	_, err = m.CreateZone(context.Background(), ZoneInput{
		Name: "Zone B", Type: models.ZoneSafe, CreatedBy: "admin",
		Coordinates: square(0.5, 0.5, 1.5, 1.5),
	})
	require.Error(t, err)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.KindZoneOverlap, engErr.Kind)
}

func TestDeleteZoneIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	z, err := m.CreateZone(context.Background(), ZoneInput{
		Name: "Ephemeral", Type: models.ZoneSafe, CreatedBy: "admin",
		Coordinates: square(10, 10, 11, 11),
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteZone(context.Background(), z.ID))
	require.NoError(t, m.DeleteZone(context.Background(), z.ID))
}

func TestZonesContainingPointFindsMatch(t *testing.T) {
	m := newTestManager(t)
	z, err := m.CreateZone(context.Background(), ZoneInput{
		Name: "Containing Zone", Type: models.ZoneSafe, CreatedBy: "admin",
		Coordinates: square(28.6139, 77.2090, 28.6149, 77.2100),
	})
	require.NoError(t, err)

	matches := m.ZonesContainingPoint(context.Background(), models.Coordinate{Latitude: 28.6144, Longitude: 77.2095})
	require.Len(t, matches, 1)
	assert.Equal(t, z.ID, matches[0].ID)
}
