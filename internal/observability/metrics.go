package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the registry-bound set of instruments every component
// increments or observes. One instance is built in cmd/server/main.go and
// threaded through the Builder, the same single *prometheus.Registry
// passed into every constructor instead of each one opening its own.
type Metrics struct {
	Registry *prometheus.Registry

	SpatialIndexCommands  *prometheus.CounterVec
	SpatialIndexLatency   *prometheus.HistogramVec
	ConnectionHealthScore *prometheus.GaugeVec

	GovernorQueueDepth   prometheus.Gauge
	GovernorQueueOverflow prometheus.Counter
	GovernorRetries      prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ZonesActive prometheus.Gauge

	LocationsIndexed prometheus.Counter

	BulkProcessed        prometheus.Counter
	BulkErrors           prometheus.Counter
	BulkQueueSize        prometheus.Gauge
	BulkProcessingTimeMs prometheus.Histogram

	GeofenceEventsEmitted *prometheus.CounterVec

	WebhookDeliveries *prometheus.CounterVec
	WebhookLatencyMs  prometheus.Histogram
	WebhookQueueSize  prometheus.Gauge
}

// NewMetrics registers every instrument against registry, following the
// teacher's setupMetrics()'s pattern of registering a GoCollector plus
// custom counters against one shared registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registry: registry,

		SpatialIndexCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geosentry_spatialindex_commands_total",
			Help: "Spatial-index commands issued, labeled by command and outcome.",
		}, []string{"command", "outcome"}),
		SpatialIndexLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geosentry_spatialindex_latency_seconds",
			Help:    "Spatial-index command latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		ConnectionHealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geosentry_connection_health_score",
			Help: "Per-connection health score in [0,100].",
		}, []string{"connection_id", "role"}),

		GovernorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geosentry_governor_queue_depth",
			Help: "Current depth of the request governor's priority queue.",
		}),
		GovernorQueueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_governor_queue_overflow_total",
			Help: "Number of times the governor queue exceeded 100 entries.",
		}),
		GovernorRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_governor_retries_total",
			Help: "Governor-level retry attempts.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_cache_hits_total",
			Help: "Cache lookaside hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_cache_misses_total",
			Help: "Cache lookaside misses.",
		}),

		ZonesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geosentry_zones_active",
			Help: "Count of zones with status=active in the in-memory cache.",
		}),

		LocationsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_locations_indexed_total",
			Help: "Location updates flushed to the spatial index.",
		}),

		BulkProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_bulk_processed_total",
			Help: "Location updates processed by the bulk processor.",
		}),
		BulkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosentry_bulk_errors_total",
			Help: "Failed bulk processor attempts, including ones later retried.",
		}),
		BulkQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geosentry_bulk_queue_size",
			Help: "Current bulk processor queue depth.",
		}),
		BulkProcessingTimeMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geosentry_bulk_processing_time_ms",
			Help:    "Per-item bulk processing time in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		GeofenceEventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geosentry_geofence_events_total",
			Help: "Geofence events emitted, labeled by event type.",
		}, []string{"event_type"}),

		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geosentry_webhook_deliveries_total",
			Help: "Webhook delivery attempts, labeled by outcome.",
		}, []string{"outcome"}),
		WebhookLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geosentry_webhook_latency_ms",
			Help:    "Webhook delivery latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		WebhookQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geosentry_webhook_queue_size",
			Help: "Current webhook delivery queue depth.",
		}),
	}

	registry.MustRegister(
		m.SpatialIndexCommands, m.SpatialIndexLatency, m.ConnectionHealthScore,
		m.GovernorQueueDepth, m.GovernorQueueOverflow, m.GovernorRetries,
		m.CacheHits, m.CacheMisses,
		m.ZonesActive,
		m.LocationsIndexed,
		m.BulkProcessed, m.BulkErrors, m.BulkQueueSize, m.BulkProcessingTimeMs,
		m.GeofenceEventsEmitted,
		m.WebhookDeliveries, m.WebhookLatencyMs, m.WebhookQueueSize,
	)
	return m
}
