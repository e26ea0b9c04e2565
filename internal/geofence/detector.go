// Package geofence implements C7: a periodic sweep over active zones that
// queries which users currently fall within each zone's polygon, diffs that
// membership against the previous tick, and emits enter/exit/inside events
// to the handler C8 registers. The per-zone per-user membership set
// resolves the distillation's open question about transition semantics:
// a user present on consecutive ticks gets "inside", not a repeated
// "enter". Grounded on the tracking service's health-check goroutine shape
// (a ticker-driven loop owned by the service, internal/services/tracking.go
// monitorSessionHealth) generalized from per-session timeout checks to
// per-zone membership checks.
package geofence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/location"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/observability"
)

// ZoneSource is the subset of zones.Manager the detector needs.
type ZoneSource interface {
	ActiveZones() []*models.Zone
}

// EventHandler receives each enter/exit/inside transition.
type EventHandler func(ctx context.Context, event *models.GeofenceEvent)

// Detector is C7.
type Detector struct {
	zones   ZoneSource
	indexer *location.Indexer
	cfg     config.DetectorConfig
	onEvent EventHandler

	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	mu         sync.Mutex
	membership map[string]map[string]models.Coordinate // zoneID -> userID -> last known coordinate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the detector and starts its sweep loop.
func New(zones ZoneSource, indexer *location.Indexer, cfg config.DetectorConfig, onEvent EventHandler, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) *Detector {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Detector{
		zones: zones, indexer: indexer, cfg: cfg, onEvent: onEvent,
		logger: logger, metrics: metrics, sink: sink,
		membership: make(map[string]map[string]models.Coordinate),
		ctx:        ctx, cancel: cancel,
	}
	d.wg.Add(1)
	go d.sweepLoop()
	return d
}

func (d *Detector) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweep(d.ctx)
		}
	}
}

// sweep pulls active zones in batchSize chunks and, for each zone, diffs
// current membership against the last tick (§4.7 "Sweep").
func (d *Detector) sweep(ctx context.Context) {
	active := d.zones.ActiveZones()
	for start := 0; start < len(active); start += d.cfg.BatchSize {
		end := start + d.cfg.BatchSize
		if end > len(active) {
			end = len(active)
		}
		for _, z := range active[start:end] {
			d.sweepZone(ctx, z)
		}
	}
}

func (d *Detector) sweepZone(ctx context.Context, z *models.Zone) {
	results, err := d.indexer.FindWithin(ctx, nil, z.Coordinates, 0)
	if err != nil {
		d.logger.Warn("geofence sweep query failed", zap.String("zoneId", z.ID), zap.Error(err))
		return
	}

	current := make(map[string]models.Coordinate, len(results))
	for _, r := range results {
		current[r.UserID] = r.Coordinate
	}

	d.mu.Lock()
	previous := d.membership[z.ID]
	d.membership[z.ID] = current
	d.mu.Unlock()

	now := time.Now()
	for userID, coord := range current {
		_, wasPresent := previous[userID]
		var eventType models.GeofenceEventType
		if wasPresent {
			eventType = models.EventInside
		} else {
			eventType = models.EventEnter
		}
		d.emit(ctx, z, userID, eventType, coord, now)
	}
	for userID, coord := range previous {
		if _, stillPresent := current[userID]; !stillPresent {
			d.emit(ctx, z, userID, models.EventExit, coord, now)
		}
	}
}

func (d *Detector) emit(ctx context.Context, z *models.Zone, userID string, eventType models.GeofenceEventType, coord models.Coordinate, at time.Time) {
	event := &models.GeofenceEvent{
		ID:         models.NewGeofenceEventID(),
		UserID:     userID,
		ZoneID:     z.ID,
		ZoneName:   z.Name,
		ZoneType:   z.Type,
		EventType:  eventType,
		Coordinate: coord,
		Timestamp:  at,
		Metadata:   models.EventMetadata{AlertLevel: models.AlertLevelForRisk(z.RiskLevel), EventSource: "detector"},
	}
	if d.metrics != nil {
		d.metrics.GeofenceEventsEmitted.WithLabelValues(string(eventType)).Inc()
	}
	if eventType != models.EventInside {
		observability.Publish(d.sink, observability.Observation{Component: "geofence", Kind: string(eventType), Message: "zone membership transition", Fields: map[string]any{"zoneId": z.ID, "userId": userID}})
	}
	if d.onEvent != nil {
		d.onEvent(ctx, event)
	}
}

// ProcessGeofenceEvent is the on-demand path (§4.7 "processGeofenceEvent"):
// callers with an already-known coordinate (e.g. C6's per-item check) can
// synthesize and forward an event without waiting for the next sweep tick.
func (d *Detector) ProcessGeofenceEvent(ctx context.Context, z *models.Zone, userID string, eventType models.GeofenceEventType, coord models.Coordinate) {
	event := &models.GeofenceEvent{
		ID:         models.NewGeofenceEventID(),
		UserID:     userID,
		ZoneID:     z.ID,
		ZoneName:   z.Name,
		ZoneType:   z.Type,
		EventType:  eventType,
		Coordinate: coord,
		Timestamp:  time.Now(),
		Metadata:   models.EventMetadata{AlertLevel: models.AlertLevelForRisk(z.RiskLevel), EventSource: "onDemand"},
	}
	if d.metrics != nil {
		d.metrics.GeofenceEventsEmitted.WithLabelValues(string(eventType)).Inc()
	}
	if d.onEvent != nil {
		d.onEvent(ctx, event)
	}
}

// Shutdown stops the sweep loop.
func (d *Detector) Shutdown() {
	d.cancel()
	d.wg.Wait()
}
