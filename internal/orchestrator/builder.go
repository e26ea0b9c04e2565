// Package orchestrator wires C1 through C8 into one running engine (C9).
// It lives apart from internal/engine (which owns only the shared error
// taxonomy) because every component package already imports internal/engine
// for error construction — folding the builder in there too would make
// internal/engine import zones/location/bulk/geofence/webhook/spatialindex,
// which import it back.
//
// Grounded on the tracking service's main()/NewTrackingService construction
// order in cmd/server/main.go and internal/services/tracking.go: build the
// storage/transport dependencies first, then the service that wires them
// together, in a single function rather than a DI container.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/bulk"
	"github.com/tripwatch/geosentry/internal/cache"
	"github.com/tripwatch/geosentry/internal/config"
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

// Builder constructs an Engine component by component, in dependency order.
// Each With* step is optional only in the sense that it has a sensible
// default (NoopStore for storage); the spatial-index pool is mandatory.
type Builder struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	store store.Store
}

// NewBuilder seeds a Builder from a loaded Config. metrics/logger/sink are
// shared by every component constructor, following the setupMetrics()-
// then-pass-everywhere shape used across this codebase.
func NewBuilder(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) *Builder {
	return &Builder{cfg: cfg, logger: logger, metrics: metrics, sink: sink}
}

// WithStore overrides the durable sink; omit this call to run with
// store.NoopStore (the default when config.StoreConfig.Enabled is false).
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// Build constructs every component in C1→C8 order and wires C6/C7's derived
// events into C8 and (if enabled) the durable sink, then returns a running
// Engine. On any construction error, every already-built component with a
// Shutdown/Close method is torn down before returning.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	cfg := b.cfg
	logger := b.logger
	metrics := b.metrics
	sink := b.sink

	var torndown []func()
	fail := func(stage string, err error) (*Engine, error) {
		for i := len(torndown) - 1; i >= 0; i-- {
			torndown[i]()
		}
		return nil, fmt.Errorf("orchestrator: build %s: %w", stage, err)
	}

	pool, err := spatialindex.NewPool(ctx, cfg.SpatialIndex, logger, metrics, sink)
	if err != nil {
		return fail("spatial-index pool", err)
	}
	torndown = append(torndown, func() { _ = pool.Close() })

	gov := governor.New(cfg.Governor, metrics, logger, sink)
	torndown = append(torndown, gov.Shutdown)

	c, err := cache.New(cfg.Cache, metrics, logger)
	if err != nil {
		return fail("cache", err)
	}

	zoneMgr := zones.New(pool, gov, c, cfg.Zone, logger, metrics, sink)

	indexer := location.New(pool, gov, c, cfg.Location, logger, metrics, sink)
	torndown = append(torndown, indexer.Shutdown)

	durable := b.store
	if durable == nil {
		durable = store.NoopStore{}
	}

	dispatcher := webhook.New(zoneMgr.GetZone, cfg.Webhook, logger, metrics, sink)
	torndown = append(torndown, dispatcher.Shutdown)

	eng := &Engine{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		sink:       sink,
		pool:       pool,
		governor:   gov,
		cache:      c,
		zones:      zoneMgr,
		indexer:    indexer,
		store:      durable,
		dispatcher: dispatcher,
	}

	onEvent := func(ctx context.Context, ev *models.GeofenceEvent) {
		eng.handleDerivedEvent(ctx, ev)
	}

	processor := bulk.New(indexer, zoneMgr, cfg.Bulk, onEvent, logger, metrics, sink)
	torndown = append(torndown, processor.Shutdown)
	eng.processor = processor

	detector := geofence.New(zoneMgr, indexer, cfg.Detector, onEvent, logger, metrics, sink)
	torndown = append(torndown, detector.Shutdown)
	eng.detector = detector

	eng.ready = true
	return eng, nil
}
