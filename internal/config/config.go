// Package config loads the engine's layered configuration: built-in
// per-profile defaults (dev, test, prod) overridden by environment
// variables, via viper — generalizing the tracking service's hand-rolled
// getEnvWithDefault/os.LookupEnv scheme (which declared viper as a
// dependency but never used it) into the real thing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SpatialIndexConfig configures the C1 connection pool.
type SpatialIndexConfig struct {
	Host            string
	Port            int
	ReplicaHosts    []string
	ReplicaPorts    []int
	DialTimeout     time.Duration
	QueryTimeout    time.Duration
	HealthProbe     time.Duration
	MaxReconnectAttempts int
}

// GovernorConfig configures C2.
type GovernorConfig struct {
	WindowSizeMs         int
	MaxRequestsPerSecond int
	RetryAttempts        int
	RetryDelayMs         int
	QueueOverflowAt      int
}

// CacheConfig configures C3.
type CacheConfig struct {
	Enabled       bool
	LocationTTL   time.Duration
	ZoneTTL       time.Duration
	NearbyTTL     time.Duration
	EventTTL      time.Duration
	MaxEntries    int
}

// ZoneConfig configures C4.
type ZoneConfig struct {
	CacheTTL time.Duration
}

// LocationConfig configures C5.
type LocationConfig struct {
	BatchSize       int
	FlushInterval   time.Duration
	EnableHistory   bool
	HistoryTTL      time.Duration
	LiveTTL         time.Duration
}

// BulkConfig configures C6.
type BulkConfig struct {
	QueueOverflowAt int
	SizeTrigger     int
	TimeTrigger     time.Duration
	Concurrency     int
	MaxRetries      int
}

// DetectorConfig configures C7.
type DetectorConfig struct {
	CheckInterval time.Duration
	BatchSize     int
}

// WebhookConfig configures C8 (distinct from models.WebhookConfig, which is
// one subscriber record — this is the dispatcher's own tuning).
type WebhookConfig struct {
	DrainInterval   time.Duration
	BatchSize       int
	TimeoutMs       int
	PreflightTimeout time.Duration
}

// StoreConfig configures the durable relational sink.
type StoreConfig struct {
	DSN             string
	Enabled         bool
	RetentionDays   int
}

// HTTPConfig configures the REST shim.
type HTTPConfig struct {
	ListenAddr          string
	RateLimitPerMinute  int
	GracefulTimeout     time.Duration
}

// Config aggregates every subsystem's settings, mirroring the tracking
// service's MQTTConfig/DBConfig/ServiceConfig three-way split but widened
// to one section per engine component.
type Config struct {
	Profile       string
	SpatialIndex  SpatialIndexConfig
	Governor      GovernorConfig
	Cache         CacheConfig
	Zone          ZoneConfig
	Location      LocationConfig
	Bulk          BulkConfig
	Detector      DetectorConfig
	Webhook       WebhookConfig
	Store         StoreConfig
	HTTP          HTTPConfig
}

// applyDefaults seeds v with the per-profile defaults from §5 "Timeouts"
// and the component defaults named throughout §4.
func applyDefaults(v *viper.Viper, profile string) {
	v.SetDefault("spatialindex.host", "localhost")
	v.SetDefault("spatialindex.port", 9851)
	v.SetDefault("spatialindex.replicaHosts", []string{})
	v.SetDefault("spatialindex.replicaPorts", []int{})
	v.SetDefault("spatialindex.dialTimeout", "1s")
	v.SetDefault("spatialindex.healthProbe", "30s")
	v.SetDefault("spatialindex.maxReconnectAttempts", 5)

	v.SetDefault("governor.windowSizeMs", 1000)
	v.SetDefault("governor.maxRequestsPerSecond", 1000)
	v.SetDefault("governor.retryAttempts", 3)
	v.SetDefault("governor.retryDelayMs", 1000)
	v.SetDefault("governor.queueOverflowAt", 100)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.locationTTL", "300s")
	v.SetDefault("cache.zoneTTL", "300s")
	v.SetDefault("cache.nearbyTTL", "300s")
	v.SetDefault("cache.eventTTL", "60s")
	v.SetDefault("cache.maxEntries", 50000)

	v.SetDefault("zone.cacheTTL", "300s")

	v.SetDefault("location.batchSize", 1000)
	v.SetDefault("location.flushInterval", "1s")
	v.SetDefault("location.enableHistory", false)
	v.SetDefault("location.historyTTL", "24h")
	v.SetDefault("location.liveTTL", "1h")

	v.SetDefault("bulk.queueOverflowAt", 1000)
	v.SetDefault("bulk.sizeTrigger", 100)
	v.SetDefault("bulk.timeTrigger", "1s")
	v.SetDefault("bulk.concurrency", 5)
	v.SetDefault("bulk.maxRetries", 3)

	v.SetDefault("detector.checkInterval", "1s")
	v.SetDefault("detector.batchSize", 100)

	v.SetDefault("webhook.drainInterval", "100ms")
	v.SetDefault("webhook.batchSize", 50)
	v.SetDefault("webhook.preflightTimeout", "5s")

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.retentionDays", 30)

	v.SetDefault("http.listenAddr", ":8080")
	v.SetDefault("http.rateLimitPerMinute", 6000)

	switch profile {
	case "dev":
		v.SetDefault("spatialindex.queryTimeout", "5000ms")
		v.SetDefault("webhook.timeoutMs", 10000)
		v.SetDefault("http.gracefulTimeout", "30s")
	case "test":
		v.SetDefault("spatialindex.queryTimeout", "1000ms")
		v.SetDefault("webhook.timeoutMs", 2000)
		v.SetDefault("http.gracefulTimeout", "1s")
	default: // prod
		v.SetDefault("spatialindex.queryTimeout", "3000ms")
		v.SetDefault("webhook.timeoutMs", 5000)
		v.SetDefault("http.gracefulTimeout", "30s")
	}
}

// Load reads profile's defaults, layers GEOSENTRY_-prefixed environment
// variables on top, and returns the validated Config. profile defaults to
// "dev" when empty.
func Load(profile string) (*Config, error) {
	if profile == "" {
		profile = "dev"
	}
	v := viper.New()
	applyDefaults(v, profile)
	v.SetEnvPrefix("GEOSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Profile: profile,
		SpatialIndex: SpatialIndexConfig{
			Host:                 v.GetString("spatialindex.host"),
			Port:                 v.GetInt("spatialindex.port"),
			ReplicaHosts:         v.GetStringSlice("spatialindex.replicaHosts"),
			ReplicaPorts:         v.GetIntSlice("spatialindex.replicaPorts"),
			DialTimeout:          v.GetDuration("spatialindex.dialTimeout"),
			QueryTimeout:         v.GetDuration("spatialindex.queryTimeout"),
			HealthProbe:          v.GetDuration("spatialindex.healthProbe"),
			MaxReconnectAttempts: v.GetInt("spatialindex.maxReconnectAttempts"),
		},
		Governor: GovernorConfig{
			WindowSizeMs:         v.GetInt("governor.windowSizeMs"),
			MaxRequestsPerSecond: v.GetInt("governor.maxRequestsPerSecond"),
			RetryAttempts:        v.GetInt("governor.retryAttempts"),
			RetryDelayMs:         v.GetInt("governor.retryDelayMs"),
			QueueOverflowAt:      v.GetInt("governor.queueOverflowAt"),
		},
		Cache: CacheConfig{
			Enabled:     v.GetBool("cache.enabled"),
			LocationTTL: v.GetDuration("cache.locationTTL"),
			ZoneTTL:     v.GetDuration("cache.zoneTTL"),
			NearbyTTL:   v.GetDuration("cache.nearbyTTL"),
			EventTTL:    v.GetDuration("cache.eventTTL"),
			MaxEntries:  v.GetInt("cache.maxEntries"),
		},
		Zone: ZoneConfig{
			CacheTTL: v.GetDuration("zone.cacheTTL"),
		},
		Location: LocationConfig{
			BatchSize:     v.GetInt("location.batchSize"),
			FlushInterval: v.GetDuration("location.flushInterval"),
			EnableHistory: v.GetBool("location.enableHistory"),
			HistoryTTL:    v.GetDuration("location.historyTTL"),
			LiveTTL:       v.GetDuration("location.liveTTL"),
		},
		Bulk: BulkConfig{
			QueueOverflowAt: v.GetInt("bulk.queueOverflowAt"),
			SizeTrigger:     v.GetInt("bulk.sizeTrigger"),
			TimeTrigger:     v.GetDuration("bulk.timeTrigger"),
			Concurrency:     v.GetInt("bulk.concurrency"),
			MaxRetries:      v.GetInt("bulk.maxRetries"),
		},
		Detector: DetectorConfig{
			CheckInterval: v.GetDuration("detector.checkInterval"),
			BatchSize:     v.GetInt("detector.batchSize"),
		},
		Webhook: WebhookConfig{
			DrainInterval:    v.GetDuration("webhook.drainInterval"),
			BatchSize:        v.GetInt("webhook.batchSize"),
			TimeoutMs:        v.GetInt("webhook.timeoutMs"),
			PreflightTimeout: v.GetDuration("webhook.preflightTimeout"),
		},
		Store: StoreConfig{
			DSN:           v.GetString("store.dsn"),
			Enabled:       v.GetBool("store.enabled"),
			RetentionDays: v.GetInt("store.retentionDays"),
		},
		HTTP: HTTPConfig{
			ListenAddr:         v.GetString("http.listenAddr"),
			RateLimitPerMinute: v.GetInt("http.rateLimitPerMinute"),
			GracefulTimeout:    v.GetDuration("http.gracefulTimeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate aggregates every field-level check into one error, following the
// tracking service's Config.Validate pattern of collecting messages rather
// than failing fast on the first.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.SpatialIndex.Host) == "" {
		errs = append(errs, "spatialindex host is empty")
	}
	if c.SpatialIndex.Port <= 0 || c.SpatialIndex.Port > 65535 {
		errs = append(errs, fmt.Sprintf("spatialindex port %d is out of range", c.SpatialIndex.Port))
	}
	if len(c.SpatialIndex.ReplicaHosts) != len(c.SpatialIndex.ReplicaPorts) {
		errs = append(errs, "spatialindex replica host/port list length mismatch")
	}

	if c.Governor.MaxRequestsPerSecond <= 0 {
		errs = append(errs, "governor maxRequestsPerSecond must be positive")
	}
	if c.Governor.WindowSizeMs <= 0 {
		errs = append(errs, "governor windowSizeMs must be positive")
	}

	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, "cache maxEntries must be positive")
	}

	if c.Location.BatchSize <= 0 {
		errs = append(errs, "location batchSize must be positive")
	}

	if c.Bulk.Concurrency <= 0 {
		errs = append(errs, "bulk concurrency must be positive")
	}
	if c.Bulk.SizeTrigger <= 0 {
		errs = append(errs, "bulk sizeTrigger must be positive")
	}

	if c.Detector.BatchSize <= 0 {
		errs = append(errs, "detector batchSize must be positive")
	}

	if c.Webhook.BatchSize <= 0 {
		errs = append(errs, "webhook batchSize must be positive")
	}

	if c.Store.Enabled && strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, "store is enabled but dsn is empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}
