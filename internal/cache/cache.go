// Package cache implements C3: a short-TTL lookaside cache for locations,
// zones, nearby-query results and geofence lookups. Grounded on the
// Cache struct in the logistics spatial-service example
// (api/go-spatial/services/spatial_service.go: map + expiration map + mutex
// + background cleanup ticker), but swaps the bespoke map for a bounded
// hashicorp/golang-lru/v2 cache so memory stays capped under load.
package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/observability"
)

const (
	PrefixLocation = "location:"
	PrefixZone     = "zone:"
	PrefixNearby   = "nearby:"
	PrefixGeofence = "geofence:"

	cleanupInterval = 30 * time.Second
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(at time.Time) bool { return at.After(e.expiresAt) }

// Stats mirrors §8 invariant 5: hitRate == hits / (hits + misses).
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the lookaside cache shared by the zone manager and location
// indexer. Cache failures never propagate to callers — they degrade to a
// miss (§4.3).
type Cache struct {
	mu      sync.RWMutex
	lru     *lru.Cache[string, entry]
	cfg     config.CacheConfig
	metrics *observability.Metrics
	logger  *zap.Logger

	hits, misses, sets, deletes int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New builds the cache, bounded at cfg.MaxEntries, and starts the
// background expiry sweep.
func New(cfg config.CacheConfig, metrics *observability.Metrics, logger *zap.Logger) (*Cache, error) {
	backing, err := lru.New[string, entry](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		lru:         backing,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c, nil
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range c.lru.Keys() {
		if v, ok := c.lru.Peek(key); ok && v.expired(now) {
			c.lru.Remove(key)
		}
	}
}

// ttlFor resolves the per-class TTL default from key's prefix (§4.3
// "per-class TTL defaults").
func (c *Cache) ttlFor(key string) time.Duration {
	switch {
	case strings.HasPrefix(key, PrefixLocation):
		return c.cfg.LocationTTL
	case strings.HasPrefix(key, PrefixZone):
		return c.cfg.ZoneTTL
	case strings.HasPrefix(key, PrefixNearby):
		return c.cfg.NearbyTTL
	case strings.HasPrefix(key, PrefixGeofence):
		return c.cfg.EventTTL
	default:
		return c.cfg.LocationTTL
	}
}

// Set stores value (JSON-marshaled) under key with the class TTL, unless an
// explicit ttl override is passed.
func (c *Cache) Set(key string, value any, ttlOverride ...time.Duration) error {
	if !c.cfg.Enabled {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil // cache failures degrade silently, per §4.3
	}
	ttl := c.ttlFor(key)
	if len(ttlOverride) > 0 {
		ttl = ttlOverride[0]
	}
	c.mu.Lock()
	c.lru.Add(key, entry{value: data, expiresAt: time.Now().Add(ttl)})
	c.mu.Unlock()
	atomic.AddInt64(&c.sets, 1)
	return nil
}

// Get looks up key and unmarshals into out; it reports a miss (not an
// error) when absent, expired, or the cache is disabled.
func (c *Cache) Get(key string, out any) (hit bool) {
	if !c.cfg.Enabled {
		atomic.AddInt64(&c.misses, 1)
		return false
	}
	c.mu.RLock()
	e, ok := c.lru.Get(key)
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		atomic.AddInt64(&c.misses, 1)
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return false
	}
	if err := json.Unmarshal(e.value, out); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return false
	}
	atomic.AddInt64(&c.hits, 1)
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return true
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
	atomic.AddInt64(&c.deletes, 1)
}

// DeleteByPrefix removes every key with the given prefix, used when a zone
// or user's cached footprint must be evicted in bulk.
func (c *Cache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
			removed++
		}
	}
	atomic.AddInt64(&c.deletes, int64(removed))
	return removed
}

// Stats returns a snapshot of the running counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Sets:    atomic.LoadInt64(&c.sets),
		Deletes: atomic.LoadInt64(&c.deletes),
	}
}

// Close stops the background cleanup sweep.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
