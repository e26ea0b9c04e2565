package location

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
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/spatialindex"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	srv := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)

	port := 0
	for _, r := range srv.Port() {
		port = port*10 + int(r-'0')
	}

	pool, err := spatialindex.NewPool(context.Background(), config.SpatialIndexConfig{
		Host: srv.Host(), Port: port, DialTimeout: 500 * time.Millisecond, QueryTimeout: 500 * time.Millisecond, HealthProbe: time.Minute,
	}, logger, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	gov := governor.New(config.GovernorConfig{WindowSizeMs: 1000, MaxRequestsPerSecond: 1000, RetryAttempts: 1, RetryDelayMs: 5, QueueOverflowAt: 100}, nil, logger, nil)
	t.Cleanup(gov.Shutdown)

	c, err := cachepkg.New(config.CacheConfig{Enabled: true, MaxEntries: 1000, LocationTTL: time.Minute}, nil, logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	idx := New(pool, gov, c, config.LocationConfig{BatchSize: 1000, FlushInterval: 50 * time.Millisecond, LiveTTL: time.Hour}, logger, nil, nil)
	t.Cleanup(idx.Shutdown)
	return idx
}

func TestUpdateLocationRejectsInvalid(t *testing.T) {
	idx := newTestIndexer(t)
	err := idx.UpdateLocation(context.Background(), &models.LocationUpdate{UserID: ""})
	require.Error(t, err)
}

func TestUpdateLocationCachesImmediately(t *testing.T) {
	idx := newTestIndexer(t)
	loc := &models.LocationUpdate{UserID: "u1", Coordinate: models.Coordinate{Latitude: 1, Longitude: 2}, Timestamp: time.Now()}
	require.NoError(t, idx.UpdateLocation(context.Background(), loc))

	cached, err := idx.GetCurrentLocation(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, loc.Coordinate, cached.Coordinate)
}

func TestUpdateLocationStampsMissingTimestamp(t *testing.T) {
	idx := newTestIndexer(t)
	loc := &models.LocationUpdate{UserID: "u2", Coordinate: models.Coordinate{Latitude: 1, Longitude: 2}}
	require.NoError(t, idx.UpdateLocation(context.Background(), loc))
	assert.False(t, loc.Timestamp.IsZero())
}
