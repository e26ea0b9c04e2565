package spatialindex

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tripwatch/geosentry/internal/config"
)

func newTestPool(t *testing.T) (*Pool, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	cfg := config.SpatialIndexConfig{
		Host:                 srv.Host(),
		Port:                 mustAtoi(t, srv.Port()),
		DialTimeout:          500 * time.Millisecond,
		QueryTimeout:         500 * time.Millisecond,
		HealthProbe:          time.Minute,
		MaxReconnectAttempts: 1,
	}
	logger := zaptest.NewLogger(t)
	pool, err := NewPool(context.Background(), cfg, logger, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, srv
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func TestPoolGetWriteHandleWhenPrimaryUp(t *testing.T) {
	pool, _ := newTestPool(t)
	conn, err := pool.getWriteHandle()
	require.NoError(t, err)
	require.Equal(t, "primary", conn.record.ID)
}

func TestPoolExecuteReadPingSucceeds(t *testing.T) {
	pool, _ := newTestPool(t)
	_, err := pool.ExecuteRead(context.Background(), Ping())
	require.NoError(t, err)
}

func TestPoolGetReadHandleFailsWhenPrimaryDown(t *testing.T) {
	pool, srv := newTestPool(t)
	srv.Close()
	// drive the primary down via a failing call; AdjustHealth/markDown
	// happen inside execute, so force it through ExecuteRead.
	_, _ = pool.ExecuteRead(context.Background(), Ping())
	_, err := pool.getReadHandle()
	require.Error(t, err)
}
