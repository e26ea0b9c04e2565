// Package bulk implements C6: a queue of incoming location updates drained
// by a bounded worker pool, each item indexed via C5, checked for zone
// membership via C4, and handed to an event callback (wired by the
// orchestrator to C8 delivery and the durable store) — failed items are requeued to the head of the
// queue up to a retry ceiling. Grounded on the tracking service's
// ProcessBatchLocations (internal/services/tracking.go): goroutine-per-item
// fan-out guarded by a WaitGroup and mutex-protected accumulator, run here
// by a standing drain loop on every size or time trigger instead of as a
// one-shot batch call.
package bulk

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/location"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/observability"
	"github.com/tripwatch/geosentry/internal/zones"
)

// ZoneChecker is the subset of zones.Manager the processor needs; declared
// as an interface so tests can substitute a stub rather than standing up a
// full Manager.
type ZoneChecker interface {
	ZonesContainingPoint(ctx context.Context, point models.Coordinate) []*models.Zone
}

var _ ZoneChecker = (*zones.Manager)(nil)

// EventHandler receives a geofence event produced while processing a bulk
// item. The orchestrator wires this to its handleDerivedEvent fan-in, which
// enqueues the event for C8 and saves it to the durable store.
type EventHandler func(ctx context.Context, event *models.GeofenceEvent)

type queueItem struct {
	loc     *models.LocationUpdate
	retries int
}

// Processor is C6.
type Processor struct {
	indexer *location.Indexer
	zoneMgr ZoneChecker
	cfg     config.BulkConfig
	onEvent EventHandler

	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	mu     sync.Mutex
	queue  []queueItem
	notify chan struct{}
	sem    chan struct{}

	stats *rollingStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the processor and starts its drain loop.
func New(indexer *location.Indexer, zoneMgr ZoneChecker, cfg config.BulkConfig, onEvent EventHandler, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		indexer: indexer,
		zoneMgr: zoneMgr,
		cfg:     cfg,
		onEvent: onEvent,
		logger:  logger,
		metrics: metrics,
		sink:    sink,
		notify:  make(chan struct{}, 1),
		sem:     make(chan struct{}, maxInt(cfg.Concurrency, 1)),
		stats:   newRollingStats(),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(1)
	go p.driveLoop()
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Enqueue adds a location update to the tail of the queue, signalling the
// drain loop if the batch size trigger is reached (§4.6 "Enqueue").
func (p *Processor) Enqueue(loc *models.LocationUpdate) {
	p.mu.Lock()
	p.queue = append(p.queue, queueItem{loc: loc})
	depth := len(p.queue)
	overflow := depth >= p.cfg.QueueOverflowAt
	sizeReady := depth >= p.cfg.SizeTrigger
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.BulkQueueSize.Set(float64(depth))
	}
	if overflow {
		p.logger.Warn("bulk queue depth exceeds overflow threshold", zap.Int("depth", depth))
		observability.Publish(p.sink, observability.Observation{Component: "bulk", Kind: "queueOverflow", Message: "bulk queue depth exceeds threshold", Fields: map[string]any{"depth": depth}})
	}
	if sizeReady {
		p.signal()
	}
}

func (p *Processor) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// driveLoop wakes on the size-trigger signal or the time-trigger ticker,
// whichever comes first, and drains up to SizeTrigger items per tick
// (§4.6 "Batching").
func (p *Processor) driveLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.TimeTrigger)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.drainAll(context.Background())
			return
		case <-ticker.C:
			p.drainBatch(p.ctx)
		case <-p.notify:
			p.drainBatch(p.ctx)
		}
	}
}

func (p *Processor) drainAll(ctx context.Context) {
	for {
		p.mu.Lock()
		empty := len(p.queue) == 0
		p.mu.Unlock()
		if empty {
			return
		}
		p.drainBatch(ctx)
	}
}

func (p *Processor) drainBatch(ctx context.Context) {
	p.mu.Lock()
	n := p.cfg.SizeTrigger
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := p.queue[:n]
	p.queue = p.queue[n:]
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if p.metrics != nil {
		p.metrics.BulkQueueSize.Set(float64(len(p.queue)))
	}

	var wg sync.WaitGroup
	for _, item := range batch {
		item := item
		p.sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()
			p.processOne(ctx, item)
		}()
	}
	wg.Wait()
}

// processOne writes the location via C5, checks zone membership via C4,
// forwards any membership to the event handler, and requeues to the head
// of the queue on failure up to MaxRetries (§4.6 "Per-item processing").
func (p *Processor) processOne(ctx context.Context, item queueItem) {
	start := time.Now()
	err := p.indexer.UpdateLocation(ctx, item.loc)
	if err != nil {
		p.handleFailure(item, err)
		return
	}

	if p.zoneMgr != nil && p.onEvent != nil {
		for _, z := range p.zoneMgr.ZonesContainingPoint(ctx, item.loc.Coordinate) {
			event := &models.GeofenceEvent{
				ID:         models.NewGeofenceEventID(),
				UserID:     item.loc.UserID,
				ZoneID:     z.ID,
				ZoneName:   z.Name,
				ZoneType:   z.Type,
				EventType:  models.EventInside,
				Coordinate: item.loc.Coordinate,
				Timestamp:  item.loc.Timestamp,
				Metadata:   models.EventMetadata{AlertLevel: models.AlertLevelForRisk(z.RiskLevel), EventSource: "bulk"},
			}
			p.onEvent(ctx, event)
		}
	}

	p.stats.recordSuccess(time.Since(start))
	if p.metrics != nil {
		p.metrics.BulkProcessed.Inc()
		p.metrics.BulkProcessingTimeMs.Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (p *Processor) handleFailure(item queueItem, err error) {
	p.stats.recordError()
	if p.metrics != nil {
		p.metrics.BulkErrors.Inc()
	}
	if item.retries >= p.cfg.MaxRetries {
		p.logger.Warn("bulk item exhausted retries, dropping", zap.String("userId", item.loc.UserID), zap.Error(err))
		return
	}
	item.retries++
	p.logger.Warn("bulk item failed, requeuing to head", zap.String("userId", item.loc.UserID), zap.Int("retries", item.retries), zap.Error(err))
	p.mu.Lock()
	p.queue = append([]queueItem{item}, p.queue...)
	p.mu.Unlock()
	p.signal()
}

// Stats reports the rolling processing statistics (§4.6 "getProcessingStatistics").
func (p *Processor) Stats() StatsSnapshot {
	return p.stats.snapshot()
}

// QueueDepth reports the current queue length, for health aggregation.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown stops accepting ticks, drains the remaining queue synchronously,
// and waits for the drive loop to exit (§5 "Shutdown order").
func (p *Processor) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
