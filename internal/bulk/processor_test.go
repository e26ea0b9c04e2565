package bulk

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

type stubZoneChecker struct {
	zone *models.Zone
}

func (s *stubZoneChecker) ZonesContainingPoint(ctx context.Context, point models.Coordinate) []*models.Zone {
	if s.zone == nil {
		return nil
	}
	return []*models.Zone{s.zone}
}

func newTestProcessor(t *testing.T, checker ZoneChecker, onEvent EventHandler, cfg config.BulkConfig) *Processor {
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

	idx := location.New(pool, gov, c, config.LocationConfig{BatchSize: 1000, FlushInterval: 20 * time.Millisecond, LiveTTL: time.Hour}, logger, nil, nil)
	t.Cleanup(idx.Shutdown)

	p := New(idx, checker, cfg, onEvent, logger, nil, nil)
	t.Cleanup(p.Shutdown)
	return p
}

func TestProcessorDrainsOnSizeTrigger(t *testing.T) {
	cfg := config.BulkConfig{SizeTrigger: 3, TimeTrigger: time.Hour, Concurrency: 2, MaxRetries: 1, QueueOverflowAt: 1000}
	p := newTestProcessor(t, nil, nil, cfg)

	for i := 0; i < 3; i++ {
		p.Enqueue(&models.LocationUpdate{UserID: "u", Coordinate: models.Coordinate{Latitude: 1, Longitude: 1}, Timestamp: time.Now()})
	}

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.TotalProcessed >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessorDrainsOnTimeTrigger(t *testing.T) {
	cfg := config.BulkConfig{SizeTrigger: 1000, TimeTrigger: 30 * time.Millisecond, Concurrency: 2, MaxRetries: 1, QueueOverflowAt: 1000}
	p := newTestProcessor(t, nil, nil, cfg)

	p.Enqueue(&models.LocationUpdate{UserID: "u", Coordinate: models.Coordinate{Latitude: 1, Longitude: 1}, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessorEmitsEventForContainingZone(t *testing.T) {
	zone := &models.Zone{ID: "z1", Name: "Zone", RiskLevel: 8}
	checker := &stubZoneChecker{zone: zone}

	var mu sync.Mutex
	var received []*models.GeofenceEvent
	onEvent := func(ctx context.Context, e *models.GeofenceEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}

	cfg := config.BulkConfig{SizeTrigger: 1, TimeTrigger: time.Hour, Concurrency: 1, MaxRetries: 1, QueueOverflowAt: 1000}
	p := newTestProcessor(t, checker, onEvent, cfg)

	p.Enqueue(&models.LocationUpdate{UserID: "u1", Coordinate: models.Coordinate{Latitude: 1, Longitude: 1}, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.AlertHigh, received[0].Metadata.AlertLevel)
	assert.Equal(t, models.EventInside, received[0].EventType)
}

func TestProcessorDropsFailedItemWhenNoRetriesLeft(t *testing.T) {
	cfg := config.BulkConfig{SizeTrigger: 1, TimeTrigger: time.Hour, Concurrency: 1, MaxRetries: 0, QueueOverflowAt: 1000}
	p := newTestProcessor(t, nil, nil, cfg)

	// An empty UserID fails validation inside UpdateLocation every attempt;
	// with MaxRetries=0 it should be dropped after the first failure rather
	// than looping forever.
	p.Enqueue(&models.LocationUpdate{UserID: "", Coordinate: models.Coordinate{Latitude: 1, Longitude: 1}, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return p.Stats().ErrorCount >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
