package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tripwatch/geosentry/internal/config"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(config.CacheConfig{
		Enabled: true, MaxEntries: 100,
		LocationTTL: 50 * time.Millisecond, ZoneTTL: time.Minute, NearbyTTL: time.Minute, EventTTL: time.Minute,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(LocationKey("u1"), map[string]string{"userId": "u1"}))

	var out map[string]string
	hit := c.Get(LocationKey("u1"), &out)
	assert.True(t, hit)
	assert.Equal(t, "u1", out["userId"])
}

func TestCacheMissOnExpiry(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(LocationKey("u1"), "v"))
	time.Sleep(80 * time.Millisecond)

	var out string
	hit := c.Get(LocationKey("u1"), &out)
	assert.False(t, hit)
}

func TestCacheHitRateInvariant(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(ZoneKey("z1"), "zone"))
	var out string
	c.Get(ZoneKey("z1"), &out)
	c.Get(ZoneKey("missing"), &out)

	stats := c.Stats()
	assert.Equal(t, stats.HitRate(), float64(stats.Hits)/float64(stats.Hits+stats.Misses))
}

func TestDeleteByPrefixRemovesOnlyMatching(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(ZoneKey("z1"), "a"))
	require.NoError(t, c.Set(ZoneKey("z2"), "b"))
	require.NoError(t, c.Set(LocationKey("u1"), "c"))

	removed := c.DeleteByPrefix(PrefixZone)
	assert.Equal(t, 2, removed)

	var out string
	assert.True(t, c.Get(LocationKey("u1"), &out))
}
