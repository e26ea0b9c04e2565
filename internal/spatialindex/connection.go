// Package spatialindex is the typed client pool in front of the spatial-index
// server (C1): one primary plus N read replicas, speaking the Redis-family
// text protocol over redis/go-redis/v9 (the same RESP wire format Tile38
// serves). Grounded on the connection-lifecycle/retry shape of the
// tracking service's internal/utils/mqtt.go MQTTClient (Connect with
// backoff, a health-check goroutine, Disconnect) and on its primary-DB
// circuit breaker in cmd/server/main.go (gobreaker.CircuitBreaker wrapping
// pgxpool).
package spatialindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/models"
)

const (
	initialBackoff  = 1 * time.Second
	maxReconnect    = 5
	healthProbeEvery = 30 * time.Second
)

// Connection wraps one spatial-index handle plus the bookkeeping from §3
// "Connection record".
type Connection struct {
	mu      sync.RWMutex
	record  models.ConnectionRecord
	client  *redis.Client
	addr    string
	logger  *zap.Logger
	dialTimeout time.Duration
}

func newConnection(id string, role models.ConnectionRole, addr string, dialTimeout time.Duration, logger *zap.Logger) *Connection {
	return &Connection{
		record: models.ConnectionRecord{
			ID:          id,
			Role:        role,
			HealthScore: models.InitialHealthScore,
		},
		addr:        addr,
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

// connect lazily opens the connection, retrying with exponential backoff
// (initial 1s, x2 per attempt, cap 5 attempts) per §4.1 "Connection
// lifecycle". It surfaces an error once the budget is exhausted.
func (c *Connection) connect(ctx context.Context) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:        c.addr,
			DialTimeout: c.dialTimeout,
		})
		pingCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			c.mu.Lock()
			c.client = client
			c.record.Connected = true
			c.record.LastSuccessfulPing = time.Now()
			c.record.LastError = nil
			c.mu.Unlock()
			return nil
		}
		lastErr = err
		_ = client.Close()
		c.logger.Warn("spatialindex connection attempt failed",
			zap.String("connection_id", c.record.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < maxReconnect {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	c.mu.Lock()
	c.record.Connected = false
	c.record.LastError = lastErr
	c.mu.Unlock()
	return fmt.Errorf("spatialindex: connect %s after %d attempts: %w", c.addr, maxReconnect, lastErr)
}

// markDown flags the connection unhealthy after an operational failure; the
// pool's background reconnect loop will retry it.
func (c *Connection) markDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.Connected = false
	c.record.LastError = err
}

func (c *Connection) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.Connected
}

func (c *Connection) healthScore() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.HealthScore
}

// AdjustHealth applies the governor's scoring rule (§4.2): +5 if <100ms,
// +2 if <500ms, +1 otherwise on success; -10 on failure.
func (c *Connection) AdjustHealth(latency time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if failed {
		c.record.AdjustHealth(-10)
		return
	}
	switch {
	case latency < 100*time.Millisecond:
		c.record.AdjustHealth(5)
	case latency < 500*time.Millisecond:
		c.record.AdjustHealth(2)
	default:
		c.record.AdjustHealth(1)
	}
}

// Snapshot returns a copy of the connection's bookkeeping record.
func (c *Connection) Snapshot() models.ConnectionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record
}

// probeHealth issues the 30-second trivial PING from §4.1 "Connection
// lifecycle"; success restores the connection to rotation.
func (c *Connection) probeHealth(ctx context.Context) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		_ = c.connect(ctx)
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := client.Ping(pingCtx).Err()
	cancel()
	c.mu.Lock()
	if err != nil {
		c.record.Connected = false
		c.record.LastError = err
	} else {
		c.record.Connected = true
		c.record.LastSuccessfulPing = time.Now()
	}
	c.mu.Unlock()
}

func (c *Connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.record.Connected = false
	return err
}
