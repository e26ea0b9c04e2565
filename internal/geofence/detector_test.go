package geofence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cachepkg "github.com/tripwatch/geosentry/internal/cache"
	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/location"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/spatialindex"
)

type stubZoneSource struct {
	zones []*models.Zone
}

func (s *stubZoneSource) ActiveZones() []*models.Zone { return s.zones }

type eventRecorder struct {
	mu     sync.Mutex
	events []*models.GeofenceEvent
}

func (r *eventRecorder) handle(ctx context.Context, e *models.GeofenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []*models.GeofenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.GeofenceEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newTestIndexerForDetector(t *testing.T) *location.Indexer {
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

	idx := location.New(pool, gov, c, config.LocationConfig{BatchSize: 1000, FlushInterval: time.Hour, LiveTTL: time.Hour}, logger, nil, nil)
	t.Cleanup(idx.Shutdown)
	return idx
}

func square(minLat, minLon, maxLat, maxLon float64) []models.Coordinate {
	return []models.Coordinate{
		{Latitude: minLat, Longitude: minLon},
		{Latitude: minLat, Longitude: maxLon},
		{Latitude: maxLat, Longitude: maxLon},
		{Latitude: maxLat, Longitude: minLon},
	}
}

func TestDetectorEmitsEnterThenInsideThenExit(t *testing.T) {
	idx := newTestIndexerForDetector(t)
	zone := &models.Zone{ID: "z1", Name: "Zone", RiskLevel: 9, Coordinates: square(0, 0, 1, 1)}
	source := &stubZoneSource{zones: []*models.Zone{zone}}
	rec := &eventRecorder{}

	d := New(source, idx, config.DetectorConfig{CheckInterval: time.Hour, BatchSize: 10}, rec.handle, zaptest.NewLogger(t), nil, nil)
	defer d.Shutdown()

	require.NoError(t, idx.UpdateLocation(context.Background(), &models.LocationUpdate{UserID: "u1", Coordinate: models.Coordinate{Latitude: 0.5, Longitude: 0.5}, Timestamp: time.Now()}))

	d.sweep(context.Background())
	d.sweep(context.Background())

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventEnter, events[0].EventType)
	assert.Equal(t, models.EventInside, events[1].EventType)
	assert.Equal(t, models.AlertCritical, events[0].Metadata.AlertLevel)
	assert.Equal(t, models.Coordinate{Latitude: 0.5, Longitude: 0.5}, events[0].Coordinate)
	assert.Equal(t, models.Coordinate{Latitude: 0.5, Longitude: 0.5}, events[1].Coordinate)

	require.NoError(t, idx.RemoveUserLocation(context.Background(), "u1"))
	d.sweep(context.Background())

	events = rec.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, models.EventExit, events[2].EventType)
	assert.Equal(t, models.Coordinate{Latitude: 0.5, Longitude: 0.5}, events[2].Coordinate)
}
