// Package location implements C5: validates location updates, batches them
// into pipelined writes against the spatial index, and serves point/nearby/
// within queries. Grounded on the two-phase validate-then-store shape of
// the tracking service's internal/services/tracking.go
// ProcessBatchLocations (parallel validation, then a single store call),
// generalized from a dog-walk session buffer to a size-or-time-triggered
// flush against an external spatial-index server.
package location

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/cache"
	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/observability"
	"github.com/tripwatch/geosentry/internal/spatialindex"
)

// Indexer is C5.
type Indexer struct {
	pool  *spatialindex.Pool
	gov   *governor.Governor
	cache *cache.Cache
	cfg   config.LocationConfig

	mu      sync.Mutex
	buffer  []*models.LocationUpdate
	flushAt time.Time
	timer   *time.Timer

	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the indexer and starts its flush timer.
func New(pool *spatialindex.Pool, gov *governor.Governor, c *cache.Cache, cfg config.LocationConfig, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) *Indexer {
	ctx, cancel := context.WithCancel(context.Background())
	idx := &Indexer{
		pool: pool, gov: gov, cache: c, cfg: cfg,
		logger: logger, metrics: metrics, sink: sink,
		ctx: ctx, cancel: cancel,
	}
	idx.wg.Add(1)
	go idx.flushLoop()
	return idx
}

func (idx *Indexer) flushLoop() {
	defer idx.wg.Done()
	ticker := time.NewTicker(idx.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-idx.ctx.Done():
			idx.flush(context.Background())
			return
		case <-ticker.C:
			idx.flush(idx.ctx)
		}
	}
}

// UpdateLocation validates loc, stamps Timestamp if absent, caches it, and
// pushes it to the batch buffer, flushing immediately if batchSize is
// reached (§4.5 "Write path").
func (idx *Indexer) UpdateLocation(ctx context.Context, loc *models.LocationUpdate) error {
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now()
	}
	if err := loc.Validate(); err != nil {
		return engine.Wrap(engine.KindValidation, "invalid location update", err)
	}

	_ = idx.cache.Set(loc.CacheKey(), loc)

	idx.mu.Lock()
	idx.buffer = append(idx.buffer, loc)
	shouldFlush := len(idx.buffer) >= idx.cfg.BatchSize
	idx.mu.Unlock()

	if shouldFlush {
		idx.flush(ctx)
	}
	return nil
}

// flush writes the current buffer back-to-back, one write per entry (the
// protocol here has no native MSET-with-fields). Each entry is its own
// governor-admitted request, so each one passes the rate limiter.
func (idx *Indexer) flush(ctx context.Context) {
	idx.mu.Lock()
	if len(idx.buffer) == 0 {
		idx.mu.Unlock()
		return
	}
	batch := idx.buffer
	idx.buffer = nil
	idx.mu.Unlock()

	for _, loc := range batch {
		if err := idx.writeOne(ctx, loc); err != nil {
			idx.logger.Warn("location flush failed", zap.String("userId", loc.UserID), zap.Error(err))
			continue
		}
		if idx.metrics != nil {
			idx.metrics.LocationsIndexed.Inc()
		}
	}
}

func (idx *Indexer) writeOne(ctx context.Context, loc *models.LocationUpdate) error {
	fields := locationFields(loc)
	_, err := governor.Execute(ctx, idx.gov, 0, func(ctx context.Context) (any, error) {
		return idx.pool.ExecuteWrite(ctx, spatialindex.SetPoint(spatialindex.CollectionTourists, loc.UserID, fields, idx.cfg.LiveTTL, loc.Coordinate))
	})
	if err != nil {
		return err
	}
	if idx.cfg.EnableHistory {
		historyID := loc.UserID + ":" + loc.Timestamp.Format(time.RFC3339Nano)
		_, _ = governor.Execute(ctx, idx.gov, 0, func(ctx context.Context) (any, error) {
			return idx.pool.ExecuteWrite(ctx, spatialindex.SetPoint(spatialindex.CollectionTourists+"_history", historyID, fields, idx.cfg.HistoryTTL, loc.Coordinate))
		})
	}
	_ = idx.cache.Set(loc.CacheKey(), loc)
	return nil
}

func locationFields(loc *models.LocationUpdate) map[string]string {
	fields := map[string]string{"timestamp": loc.Timestamp.Format(time.RFC3339Nano)}
	if loc.DeviceID != "" {
		fields["deviceId"] = loc.DeviceID
	}
	if loc.NetworkType != "" {
		fields["networkType"] = loc.NetworkType
	}
	if loc.Source != "" {
		fields["source"] = loc.Source
	}
	return fields
}

// GetCurrentLocation consults the cache first, then the index, reconstructs
// the LocationUpdate, and back-fills the cache (§4.5 "Read path").
func (idx *Indexer) GetCurrentLocation(ctx context.Context, userID string) (*models.LocationUpdate, error) {
	var cached models.LocationUpdate
	if idx.cache.Get(cache.LocationKey(userID), &cached) {
		return &cached, nil
	}

	result, err := governor.Execute(ctx, idx.gov, 0, func(ctx context.Context) (any, error) {
		return idx.pool.ExecuteRead(ctx, spatialindex.Get(spatialindex.CollectionTourists, userID))
	})
	if err != nil {
		return nil, engine.Wrap(engine.KindNoHealthyConnection, "get current location", err)
	}
	loc, err := decodeLocation(userID, result)
	if err != nil {
		return nil, err
	}
	_ = idx.cache.Set(loc.CacheKey(), loc)
	return loc, nil
}

// RemoveUserLocation erases a user's point from the index (§4.5
// "Removal").
func (idx *Indexer) RemoveUserLocation(ctx context.Context, userID string) error {
	_, err := governor.Execute(ctx, idx.gov, 0, func(ctx context.Context) (any, error) {
		return idx.pool.ExecuteWrite(ctx, spatialindex.Del(spatialindex.CollectionTourists, userID))
	})
	idx.cache.Delete(cache.LocationKey(userID))
	if err != nil {
		return engine.Wrap(engine.KindPrimaryUnavailable, "remove user location", err)
	}
	return nil
}

// NearbyResult is one match from FindNearby/FindWithin.
type NearbyResult struct {
	UserID     string
	Coordinate models.Coordinate
	DistanceM  *float64
}

// FindNearby translates to a NEARBY index query, optionally sorting results
// client-side by distance (§4.5 "Queries").
func (idx *Indexer) FindNearby(ctx context.Context, center models.Coordinate, radiusMeters float64, limit int, sortByDistance bool) ([]NearbyResult, error) {
	var cached []NearbyResult
	key := cache.NearbyKey(center, radiusMeters)
	if idx.cache.Get(key, &cached) {
		return cached, nil
	}

	raw, err := governor.Execute(ctx, idx.gov, 0, func(ctx context.Context) (any, error) {
		return idx.pool.ExecuteRead(ctx, spatialindex.Nearby(spatialindex.CollectionTourists, limit, center, radiusMeters))
	})
	if err != nil {
		return nil, engine.Wrap(engine.KindNoHealthyConnection, "find nearby", err)
	}
	results, err := decodeNearbyResults(raw, center)
	if err != nil {
		return nil, err
	}
	if sortByDistance {
		sort.Slice(results, func(i, j int) bool {
			if results[i].DistanceM == nil || results[j].DistanceM == nil {
				return false
			}
			return *results[i].DistanceM < *results[j].DistanceM
		})
	}
	_ = idx.cache.Set(key, results)
	return results, nil
}

// FindWithin translates to a WITHIN bounds-or-polygon index query.
func (idx *Indexer) FindWithin(ctx context.Context, box *models.BoundingBox, polygon []models.Coordinate, limit int) ([]NearbyResult, error) {
	var cmd spatialindex.Command
	switch {
	case box != nil:
		cmd = spatialindex.WithinBounds(spatialindex.CollectionTourists, limit, *box)
	case polygon != nil:
		cmd = spatialindex.WithinPolygon(spatialindex.CollectionTourists, limit, polygon)
	default:
		return nil, engine.New(engine.KindValidation, "findWithin requires a bounding box or polygon")
	}
	raw, err := governor.Execute(ctx, idx.gov, 0, func(ctx context.Context) (any, error) {
		return idx.pool.ExecuteRead(ctx, cmd)
	})
	if err != nil {
		return nil, engine.Wrap(engine.KindNoHealthyConnection, "find within", err)
	}
	return decodeNearbyResults(raw, models.Coordinate{})
}

// Shutdown flushes any remaining buffered updates and stops the timer loop.
func (idx *Indexer) Shutdown() {
	idx.cancel()
	idx.wg.Wait()
}
