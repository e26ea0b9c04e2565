// Package webhook implements C8: subscription management with a HEAD
// pre-flight check, and a timer-drained in-memory delivery queue that
// matches events to subscribers, signs payloads with HMAC-SHA256, and POSTs
// them with linear-backoff retry. Grounded on the tracking service's
// MQTTClient publish/retry shape (internal/services/tracking.go) — the
// same "retry policy wraps an outbound transport" idea, here an
// http.Client POST instead of an MQTT publish, plus a per-webhook
// sony/gobreaker breaker the original outbound transport never had.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/observability"
)

const userAgent = "GeoSentry-Webhook/1.0"

// ZoneLookup resolves a zoneId to its full Zone, needed to populate the
// WebhookPayload's zone field.
type ZoneLookup func(ctx context.Context, zoneID string) (*models.Zone, error)

type deliveryItem struct {
	event   *models.GeofenceEvent
	retries int
}

type subscriber struct {
	cfg     models.WebhookConfig
	breaker *gobreaker.CircuitBreaker
}

// Stats is the result of getWebhookStatistics (§4.8 "Observability").
type Stats struct {
	TotalDelivered        int64
	TotalFailed           int64
	QueueSize             int
	AverageDeliveryTimeMs float64
}

// Dispatcher is C8.
type Dispatcher struct {
	client     *http.Client
	zoneLookup ZoneLookup
	cfg        config.WebhookConfig

	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	qmu   sync.Mutex
	queue []deliveryItem

	statMu         sync.Mutex
	delivered      int64
	failed         int64
	totalLatencyMs float64
	latencySamples int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the dispatcher and starts its delivery-drain loop.
func New(zoneLookup ZoneLookup, cfg config.WebhookConfig, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		zoneLookup:  zoneLookup,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		sink:        sink,
		subscribers: make(map[string]*subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
	d.wg.Add(1)
	go d.drainLoop()
	return d
}

// RegisterWebhook validates the target URL with a HEAD pre-flight, then
// stores the subscription (§4.8 "Subscription management").
func (d *Dispatcher) RegisterWebhook(ctx context.Context, in models.WebhookConfig) (*models.WebhookConfig, error) {
	if err := d.preflight(ctx, in.URL); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now()
	in.CreatedAt, in.UpdatedAt = now, now

	d.mu.Lock()
	d.subscribers[in.ID] = &subscriber{cfg: in, breaker: newBreaker(in.ID, d.logger, d.sink)}
	d.mu.Unlock()
	return &in, nil
}

// UpdateWebhook re-runs URL validation when the URL changed and replaces
// the stored subscription.
func (d *Dispatcher) UpdateWebhook(ctx context.Context, id string, in models.WebhookConfig) (*models.WebhookConfig, error) {
	d.mu.RLock()
	existing, ok := d.subscribers[id]
	d.mu.RUnlock()
	if !ok {
		return nil, engine.New(engine.KindValidation, "webhook not found").WithDetails(map[string]any{"webhookId": id})
	}
	if in.URL != existing.cfg.URL {
		if err := d.preflight(ctx, in.URL); err != nil {
			return nil, err
		}
	}
	in.ID = id
	in.CreatedAt = existing.cfg.CreatedAt
	in.UpdatedAt = time.Now()

	d.mu.Lock()
	d.subscribers[id] = &subscriber{cfg: in, breaker: existing.breaker}
	d.mu.Unlock()
	return &in, nil
}

// RemoveWebhook deletes a subscription; repeat calls are a no-op.
func (d *Dispatcher) RemoveWebhook(id string) {
	d.mu.Lock()
	delete(d.subscribers, id)
	d.mu.Unlock()
}

func (d *Dispatcher) preflight(ctx context.Context, url string) error {
	preCtx, cancel := context.WithTimeout(ctx, d.cfg.PreflightTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(preCtx, http.MethodHead, url, nil)
	if err != nil {
		return engine.Wrap(engine.KindValidation, "invalid webhook URL", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return engine.Wrap(engine.KindValidation, "webhook URL unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return engine.New(engine.KindValidation, fmt.Sprintf("webhook URL returned status %d", resp.StatusCode))
	}
	return nil
}

func newBreaker(id string, logger *zap.Logger, sink observability.ObservationSink) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-" + id,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			observability.Publish(sink, observability.Observation{Component: "webhook", Kind: "breakerStateChange", Message: to.String(), Fields: map[string]any{"webhookId": id}})
		},
	})
}

// Enqueue adds a geofence event to the delivery queue. Called by C7/C6's
// event handler.
func (d *Dispatcher) Enqueue(ctx context.Context, event *models.GeofenceEvent) {
	d.qmu.Lock()
	d.queue = append(d.queue, deliveryItem{event: event})
	depth := len(d.queue)
	d.qmu.Unlock()
	if d.metrics != nil {
		d.metrics.WebhookQueueSize.Set(float64(depth))
	}
}

func (d *Dispatcher) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			d.drainOnce(context.Background())
			return
		case <-ticker.C:
			d.drainOnce(d.ctx)
		}
	}
}

// drainOnce pulls up to batchSize queued events and delivers each to its
// matching subscribers (§4.8 "Delivery loop").
func (d *Dispatcher) drainOnce(ctx context.Context) {
	d.qmu.Lock()
	n := d.cfg.BatchSize
	if n > len(d.queue) {
		n = len(d.queue)
	}
	batch := d.queue[:n]
	d.queue = d.queue[n:]
	d.qmu.Unlock()

	if d.metrics != nil {
		d.metrics.WebhookQueueSize.Set(float64(len(d.queue)))
	}

	for _, item := range batch {
		d.deliverToMatches(ctx, item)
	}
}

func (d *Dispatcher) deliverToMatches(ctx context.Context, item deliveryItem) {
	d.mu.RLock()
	matches := make([]*subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		if s.cfg.Matches(item.event) {
			matches = append(matches, s)
		}
	}
	d.mu.RUnlock()

	for _, s := range matches {
		d.deliverOne(ctx, s, item)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, s *subscriber, item deliveryItem) {
	payload, err := d.buildPayload(ctx, s.cfg, item.event)
	if err != nil {
		d.logger.Warn("webhook payload assembly failed", zap.String("webhookId", s.cfg.ID), zap.Error(err))
		return
	}

	start := time.Now()
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, d.post(ctx, s.cfg, payload)
	})
	latency := time.Since(start)

	if err != nil {
		d.recordFailure(s, item, latency)
		return
	}
	d.recordSuccess(s, item, latency)
}

func (d *Dispatcher) buildPayload(ctx context.Context, cfg models.WebhookConfig, event *models.GeofenceEvent) (models.WebhookPayload, error) {
	var zone models.Zone
	if d.zoneLookup != nil {
		if z, err := d.zoneLookup(ctx, event.ZoneID); err == nil && z != nil {
			zone = *z
		}
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return models.WebhookPayload{}, err
	}
	payload := models.WebhookPayload{
		Event:     *event,
		Zone:      zone,
		User:      models.WebhookUser{ID: event.UserID},
		Timestamp: time.Now(),
	}
	if cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(cfg.Secret))
		mac.Write(eventJSON)
		payload.Signature = hex.EncodeToString(mac.Sum(nil))
	}
	return payload, nil
}

func (d *Dispatcher) post(ctx context.Context, cfg models.WebhookConfig, payload models.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.Retry.MaxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.TimeoutMs)*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			cancel()
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		for k, v := range cfg.CustomHeaders {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		cancel()
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook POST returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < cfg.Retry.MaxRetries {
			delay := cfg.Retry.RetryDelay * time.Duration(attempt+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) recordSuccess(s *subscriber, item deliveryItem, latency time.Duration) {
	item.event.WebhookDelivered = true
	s.cfg.LastDeliveryAt = time.Now()
	s.cfg.ConsecutiveFailures = 0

	d.statMu.Lock()
	d.delivered++
	d.totalLatencyMs += float64(latency.Milliseconds())
	d.latencySamples++
	d.statMu.Unlock()

	if d.metrics != nil {
		d.metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		d.metrics.WebhookLatencyMs.Observe(float64(latency.Milliseconds()))
	}
	observability.Publish(d.sink, observability.Observation{Component: "webhook", Kind: "deliverySuccess", Message: "webhook delivered", Fields: map[string]any{"webhookId": s.cfg.ID, "eventId": item.event.ID}})
}

func (d *Dispatcher) recordFailure(s *subscriber, item deliveryItem, latency time.Duration) {
	s.cfg.ConsecutiveFailures++

	d.statMu.Lock()
	d.failed++
	d.statMu.Unlock()

	if d.metrics != nil {
		d.metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
	}
	d.logger.Warn("webhook delivery failed", zap.String("webhookId", s.cfg.ID), zap.String("eventId", item.event.ID))
	observability.Publish(d.sink, observability.Observation{Component: "webhook", Kind: "deliveryFailure", Message: "webhook delivery failed", Fields: map[string]any{"webhookId": s.cfg.ID, "eventId": item.event.ID}})
}

// TestWebhook runs the same delivery path against a deterministic synthetic
// event without updating delivery stats (§4.8 "testWebhook").
func (d *Dispatcher) TestWebhook(ctx context.Context, id string) error {
	d.mu.RLock()
	s, ok := d.subscribers[id]
	d.mu.RUnlock()
	if !ok {
		return engine.New(engine.KindValidation, "webhook not found").WithDetails(map[string]any{"webhookId": id})
	}

	event := &models.GeofenceEvent{
		ID: "test-" + uuid.NewString(), UserID: "test-user", ZoneID: "test-zone",
		EventType: models.EventEnter, Timestamp: time.Now(),
		Metadata: models.EventMetadata{AlertLevel: models.AlertLow, EventSource: "testWebhook"},
	}
	payload, err := d.buildPayload(ctx, s.cfg, event)
	if err != nil {
		return err
	}
	return d.post(ctx, s.cfg, payload)
}

// GetWebhookStatistics implements getWebhookStatistics (§4.8 "Observability").
func (d *Dispatcher) GetWebhookStatistics() Stats {
	d.statMu.Lock()
	defer d.statMu.Unlock()
	d.qmu.Lock()
	qsize := len(d.queue)
	d.qmu.Unlock()

	avg := 0.0
	if d.latencySamples > 0 {
		avg = d.totalLatencyMs / float64(d.latencySamples)
	}
	return Stats{TotalDelivered: d.delivered, TotalFailed: d.failed, QueueSize: qsize, AverageDeliveryTimeMs: avg}
}

// Shutdown drains the queue once more and stops the loop (§5 "Shutdown order").
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}
