package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/geo"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/zones"
)

func testConfig(t *testing.T, host string, port int) *config.Config {
	t.Helper()
	return &config.Config{
		Profile: "test",
		SpatialIndex: config.SpatialIndexConfig{
			Host: host, Port: port,
			DialTimeout: 500 * time.Millisecond, QueryTimeout: 500 * time.Millisecond, HealthProbe: time.Minute,
			MaxReconnectAttempts: 1,
		},
		Governor: config.GovernorConfig{WindowSizeMs: 1000, MaxRequestsPerSecond: 1000, RetryAttempts: 1, RetryDelayMs: 5, QueueOverflowAt: 100},
		Cache:    config.CacheConfig{Enabled: true, MaxEntries: 1000, LocationTTL: time.Minute, ZoneTTL: time.Minute, NearbyTTL: time.Minute, EventTTL: time.Minute},
		Zone:     config.ZoneConfig{CacheTTL: time.Minute},
		Location: config.LocationConfig{BatchSize: 1, FlushInterval: 10 * time.Millisecond, LiveTTL: time.Hour},
		Bulk:     config.BulkConfig{QueueOverflowAt: 1000, SizeTrigger: 1, TimeTrigger: 10 * time.Millisecond, Concurrency: 2, MaxRetries: 1},
		Detector: config.DetectorConfig{CheckInterval: 10 * time.Millisecond, BatchSize: 10},
		Webhook:  config.WebhookConfig{DrainInterval: 10 * time.Millisecond, BatchSize: 10, TimeoutMs: 1000, PreflightTimeout: time.Second},
		Store:    config.StoreConfig{Enabled: false},
		HTTP:     config.HTTPConfig{ListenAddr: ":0", RateLimitPerMinute: 6000, GracefulTimeout: time.Second},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	srv := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)

	cfg := testConfig(t, srv.Host(), mustPort(t, srv.Port()))

	eng, err := NewBuilder(cfg, logger, nil, nil).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)
	return eng
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

func TestBuilderProducesReadyEngine(t *testing.T) {
	eng := newTestEngine(t)
	health := eng.GetHealthStatus()
	require.Equal(t, HealthHealthy, health.Status)
}

func TestUpdateLocationThenGetUserLocation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	loc := &models.LocationUpdate{UserID: "u1", Coordinate: models.Coordinate{Latitude: 40.0, Longitude: -73.0}}
	require.NoError(t, eng.UpdateLocation(ctx, loc))

	got, err := eng.GetUserLocation(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
}

func TestCreateZoneThenDeleteZone(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	z, err := eng.CreateZone(ctx, zones.ZoneInput{
		Name:      "Harbor Front",
		Type:      models.ZoneCaution,
		CreatedBy: "tester",
		Coordinates: []models.Coordinate{
			{Latitude: 0, Longitude: 0},
			{Latitude: 0, Longitude: 0.01},
			{Latitude: 0.01, Longitude: 0.01},
			{Latitude: 0.01, Longitude: 0},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, z.ID)

	require.NoError(t, eng.DeleteZone(ctx, z.ID))
}

func TestCalculateDistanceIsPureAndSymmetric(t *testing.T) {
	eng := newTestEngine(t)
	a := models.Coordinate{Latitude: 40.7128, Longitude: -74.0060}
	b := models.Coordinate{Latitude: 34.0522, Longitude: -118.2437}

	d1, _, err := eng.CalculateDistance(a, b, "", "")
	require.NoError(t, err)
	d2, _, err := eng.CalculateDistance(b, a, "", "")
	require.NoError(t, err)
	require.InDelta(t, d1, d2, 1.0)
	require.Greater(t, d1, 0.0)
}

func TestCalculateDistanceHaversineMatchesScenario(t *testing.T) {
	eng := newTestEngine(t)
	a := models.Coordinate{Latitude: 28.6139, Longitude: 77.2090}
	b := models.Coordinate{Latitude: 28.6149, Longitude: 77.2100}

	meters, alg, err := eng.CalculateDistance(a, b, geo.UnitMeters, geo.AlgorithmHaversine)
	require.NoError(t, err)
	require.Equal(t, geo.AlgorithmHaversine, alg)
	require.InDelta(t, 148.0, meters, 1.0)
}

func TestCalculateDistanceConvertsUnits(t *testing.T) {
	eng := newTestEngine(t)
	a := models.Coordinate{Latitude: 0, Longitude: 0}
	b := models.Coordinate{Latitude: 0, Longitude: 1}

	meters, _, err := eng.CalculateDistance(a, b, geo.UnitMeters, geo.AlgorithmVincenty)
	require.NoError(t, err)
	km, _, err := eng.CalculateDistance(a, b, geo.UnitKilometers, geo.AlgorithmVincenty)
	require.NoError(t, err)
	require.InDelta(t, meters/1000, km, 1e-6)

	_, _, err = eng.CalculateDistance(a, b, geo.Unit("furlongs"), "")
	require.Error(t, err)
}

func TestOperationsRejectBeforeReady(t *testing.T) {
	eng := &Engine{}
	_, err := eng.GetUserLocation(context.Background(), "u1")
	require.Error(t, err)
}
