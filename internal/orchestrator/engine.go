package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/bulk"
	"github.com/tripwatch/geosentry/internal/cache"
	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/geo"
	"github.com/tripwatch/geosentry/internal/geofence"
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/location"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/observability"
	"github.com/tripwatch/geosentry/internal/spatialindex"
	"github.com/tripwatch/geosentry/internal/store"
	"github.com/tripwatch/geosentry/internal/webhook"
	"github.com/tripwatch/geosentry/internal/zones"
)

// HealthStatus is the aggregate health tier a caller sees from
// getHealthStatus, derived from bulk failure rate and queue depth per §5
// "Persistent subsystem failures downgrade the health status".
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the snapshot returned by GetHealthStatus.
type Health struct {
	Status          HealthStatus `json:"status"`
	GovernorDepth   int          `json:"governorDepth"`
	BulkQueueDepth  int          `json:"bulkQueueDepth"`
	BulkFailureRate float64      `json:"bulkFailureRate"`
	PrimaryUp       bool         `json:"primaryUp"`
	ReplicasUp      int          `json:"replicasUp"`
	ReplicasTotal   int          `json:"replicasTotal"`
}

// Engine is C9: the wired, running system. Every field is built once by
// Builder.Build and never replaced; ready guards the location and zone
// operations until construction finishes, per §4.9 "not-initialized
// guards". The distance helpers, GetHealthStatus and the accessors are not
// guarded.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	pool       *spatialindex.Pool
	governor   *governor.Governor
	cache      *cache.Cache
	zones      *zones.Manager
	indexer    *location.Indexer
	processor  *bulk.Processor
	detector   *geofence.Detector
	dispatcher *webhook.Dispatcher
	store      store.Store

	mu    sync.RWMutex
	ready bool
}

func (e *Engine) checkReady() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return engine.New(engine.KindNotInitialized, "orchestrator: engine is not fully wired yet")
	}
	return nil
}

// handleDerivedEvent is the single fan-in point for events synthesized by
// C6 (inside-on-ingest) and C7 (enter/exit/inside on sweep): forward to the
// webhook dispatcher and, if a durable sink is configured, persist a copy.
// Shared so both producers converge on one delivery path, per §4.9
// "subscribes to component observations".
func (e *Engine) handleDerivedEvent(ctx context.Context, ev *models.GeofenceEvent) {
	e.dispatcher.Enqueue(ctx, ev)
	if err := e.store.SaveEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to persist geofence event", zap.String("eventId", ev.ID), zap.Error(err))
	}
}

// UpdateLocation implements the synchronous updateLocation operation:
// hand the update to C5 (cached at once, written to the index on C5's
// next flush), then let the zone manager's containment check run as
// part of the periodic sweep (C7) rather than inline, since per-request
// zone intersection here would duplicate C7's membership bookkeeping.
func (e *Engine) UpdateLocation(ctx context.Context, loc *models.LocationUpdate) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	loc.Source = "http"
	if err := e.indexer.UpdateLocation(ctx, loc); err != nil {
		return err
	}
	if err := e.store.SaveLocation(ctx, loc); err != nil {
		e.logger.Warn("failed to persist location", zap.String("userId", loc.UserID), zap.Error(err))
	}
	return nil
}

// QueueLocationUpdate implements queueLocationUpdate: hand off to C6 for
// batched, bounded-concurrency processing instead of the synchronous path.
func (e *Engine) QueueLocationUpdate(ctx context.Context, loc *models.LocationUpdate) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now()
	}
	if err := loc.Validate(); err != nil {
		return engine.Wrap(engine.KindValidation, "invalid location update", err)
	}
	loc.Source = "bulk"
	e.processor.Enqueue(loc)
	return nil
}

// ProcessBulkLocations implements processBulkLocations: validate every
// update up front (so a batch fails fast on the first bad record) and only
// then enqueue, matching the "validate-then-buffer" discipline C5/C6 share.
func (e *Engine) ProcessBulkLocations(ctx context.Context, updates []*models.LocationUpdate) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	for _, u := range updates {
		if u.Timestamp.IsZero() {
			u.Timestamp = time.Now()
		}
		if err := u.Validate(); err != nil {
			return engine.Wrap(engine.KindValidation, "invalid location update in batch", err)
		}
	}
	for _, u := range updates {
		u.Source = "bulk"
		e.processor.Enqueue(u)
	}
	return nil
}

// GetUserLocation implements getUserLocation.
func (e *Engine) GetUserLocation(ctx context.Context, userID string) (*models.LocationUpdate, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.indexer.GetCurrentLocation(ctx, userID)
}

// FindNearbyUsers implements findNearbyUsers.
func (e *Engine) FindNearbyUsers(ctx context.Context, center models.Coordinate, radiusMeters float64, limit int, sortByDistance bool) ([]location.NearbyResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.indexer.FindNearby(ctx, center, radiusMeters, limit, sortByDistance)
}

// FindUsersInZone implements findUsersInZone: accepts either a bounding box
// or an explicit polygon ring, per C5's FindWithin contract.
func (e *Engine) FindUsersInZone(ctx context.Context, box *models.BoundingBox, polygon []models.Coordinate, limit int) ([]location.NearbyResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.indexer.FindWithin(ctx, box, polygon, limit)
}

// CreateZone implements createZone and persists the result to the durable
// sink on success, since C4 itself has no store dependency.
func (e *Engine) CreateZone(ctx context.Context, in zones.ZoneInput) (*models.Zone, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	z, err := e.zones.CreateZone(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveZone(ctx, z); err != nil {
		e.logger.Warn("failed to persist zone", zap.String("zoneId", z.ID), zap.Error(err))
	}
	return z, nil
}

// DeleteZone implements deleteZone.
func (e *Engine) DeleteZone(ctx context.Context, id string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	return e.zones.DeleteZone(ctx, id)
}

// CalculateDistance implements calculateDistance — pure geospatial math, no
// readiness guard needed since it touches no component state. alg pins the
// algorithm (haversine/vincenty); an empty alg uses AutoDistance's
// rough-distance selection. unit converts the result from meters; an empty
// unit defaults to meters (§6 "Supported length units").
func (e *Engine) CalculateDistance(a, b models.Coordinate, unit geo.Unit, alg geo.Algorithm) (value float64, usedAlg geo.Algorithm, err error) {
	var meters float64
	if alg == "" {
		meters, usedAlg = geo.AutoDistance(a, b)
	} else {
		meters, usedAlg = geo.DistanceWithAlgorithm(a, b, alg), alg
	}
	if unit == "" {
		unit = geo.UnitMeters
	}
	value, err = geo.ConvertFromMeters(meters, unit)
	if err != nil {
		return 0, usedAlg, engine.Wrap(engine.KindValidation, "invalid distance unit", err)
	}
	return value, usedAlg, nil
}

// CalculateDistanceMatrix implements calculateDistance/Matrix.
func (e *Engine) CalculateDistanceMatrix(points []models.Coordinate) [][]float64 {
	return geo.DistanceMatrix(points)
}

// FindNearestPoint implements calculateDistance/Nearest.
func (e *Engine) FindNearestPoint(origin models.Coordinate, candidates []models.Coordinate) (index int, meters float64) {
	return geo.NearestPoint(origin, candidates)
}

// GetHealthStatus implements getHealthStatus: healthy/degraded/unhealthy
// from bulk failure rate (>20%/>50%) or queue depth (>100/>1000), per §5
// "Policy".
func (e *Engine) GetHealthStatus() Health {
	bulkStats := e.processor.Stats()
	govDepth := e.governor.Depth()
	bulkDepth := e.processor.QueueDepth()
	primaryUp, replicasUp, replicasTotal := e.pool.Snapshot()

	var failureRate float64
	if total := bulkStats.SuccessCount + bulkStats.ErrorCount; total > 0 {
		failureRate = float64(bulkStats.ErrorCount) / float64(total)
	}

	status := HealthHealthy
	switch {
	case failureRate > 0.5 || bulkDepth > 1000 || govDepth > 1000 || !primaryUp:
		status = HealthUnhealthy
	case failureRate > 0.2 || bulkDepth > 100 || govDepth > 100:
		status = HealthDegraded
	}

	return Health{
		Status:          status,
		GovernorDepth:   govDepth,
		BulkQueueDepth:  bulkDepth,
		BulkFailureRate: failureRate,
		PrimaryUp:       primaryUp,
		ReplicasUp:      replicasUp,
		ReplicasTotal:   replicasTotal,
	}
}

// Zones exposes C4 read operations (Search/GetZone) that have no dedicated
// unified-surface verb of their own but back the REST shim's GET routes.
func (e *Engine) Zones() *zones.Manager { return e.zones }

// Webhooks exposes C8's management operations (register/update/remove/test)
// for the REST shim, which has no separate unified-surface entry for them
// in §4.9's summary table but needs them per the webhook wire format (§6).
func (e *Engine) Webhooks() *webhook.Dispatcher { return e.dispatcher }

// BulkStats and CacheStats back the GET /stats/{processing|cache} routes.
func (e *Engine) BulkStats() bulk.StatsSnapshot { return e.processor.Stats() }
func (e *Engine) CacheStats() cache.Stats       { return e.cache.Stats() }

// Shutdown tears every component down in this order: C6 stops and drains,
// C7 stops its sweep, C8 drains once, C5 flushes its buffer (its writes
// still pass through C2, so it stops before C2), C2 stops its loop and
// clears its queue, then C1 closes connections and the store and cache
// close. C4 owns no goroutine or connection of its own.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()

	e.processor.Shutdown()
	e.detector.Shutdown()
	e.dispatcher.Shutdown()
	e.indexer.Shutdown()
	e.governor.Shutdown()
	if err := e.pool.Close(); err != nil {
		e.logger.Warn("spatial-index pool close failed", zap.Error(err))
	}
	e.store.Close()
	e.cache.Close()
}
