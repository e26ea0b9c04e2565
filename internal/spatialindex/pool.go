package spatialindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/observability"
)

var (
	// ErrConnectionUnavailable is surfaced by getWriteHandle/getReadHandle
	// when no eligible connection is up (§4.1).
	ErrConnectionUnavailable = errors.New("spatialindex: no connection available")
)

// Pool is the C1 spatial-index client pool: one primary, N replicas,
// round-robin read routing, and a circuit breaker in front of the primary
// (grounded on the tracking service's timescaleDBConn.breaker in
// cmd/server/main.go, here guarding the spatial index instead of Postgres).
type Pool struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink

	primary  *Connection
	replicas []*Connection
	rrIndex  uint64

	breaker *gobreaker.CircuitBreaker

	queryTimeout time.Duration

	shutdownOnce sync.Once
	cancel       context.CancelFunc
}

// NewPool dials the primary and every replica eagerly (synchronous
// lifecycle — construction either succeeds fully or returns an error; there
// is no "wait for ready" callback race, per the design notes) and starts
// each connection's 30-second health prober.
func NewPool(ctx context.Context, cfg config.SpatialIndexConfig, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) (*Pool, error) {
	poolCtx, cancel := context.WithCancel(ctx)

	primary := newConnection("primary", "primary", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), cfg.DialTimeout, logger)
	if err := primary.connect(poolCtx); err != nil {
		cancel()
		return nil, engine.Wrap(engine.KindConnectionFailed, "primary spatial-index connection", err)
	}

	replicas := make([]*Connection, 0, len(cfg.ReplicaHosts))
	for i, host := range cfg.ReplicaHosts {
		port := cfg.Port
		if i < len(cfg.ReplicaPorts) {
			port = cfg.ReplicaPorts[i]
		}
		replicaID := fmt.Sprintf("replica-%d", i)
		replica := newConnection(replicaID, "replica", fmt.Sprintf("%s:%d", host, port), cfg.DialTimeout, logger)
		if err := replica.connect(poolCtx); err != nil {
			logger.Warn("replica failed initial connect; will retry in background", zap.String("connection_id", replicaID), zap.Error(err))
		}
		replicas = append(replicas, replica)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "spatialindex-primary",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("spatialindex circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			observability.Publish(sink, observability.Observation{Component: "spatialindex", Kind: "breakerStateChange", Message: to.String()})
		},
	})

	p := &Pool{
		logger:       logger,
		metrics:      metrics,
		sink:         sink,
		primary:      primary,
		replicas:     replicas,
		breaker:      breaker,
		queryTimeout: cfg.QueryTimeout,
		cancel:       cancel,
	}

	go p.healthProbeLoop(poolCtx)
	return p, nil
}

func (p *Pool) healthProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(healthProbeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.primary.probeHealth(ctx)
			p.recordHealth(p.primary)
			for _, r := range p.replicas {
				r.probeHealth(ctx)
				p.recordHealth(r)
			}
		}
	}
}

func (p *Pool) recordHealth(c *Connection) {
	if p.metrics == nil {
		return
	}
	snap := c.Snapshot()
	p.metrics.ConnectionHealthScore.WithLabelValues(snap.ID, string(snap.Role)).Set(float64(snap.HealthScore))
}

// getWriteHandle always returns the primary; fails fast when it is down
// (§4.1 "getWriteHandle").
func (p *Pool) getWriteHandle() (*Connection, error) {
	if !p.primary.isConnected() {
		return nil, engine.New(engine.KindConnectionUnavailable, "primary spatial-index connection is down")
	}
	return p.primary, nil
}

// getReadHandle round-robins over {primary} ∪ {connected replicas}, per
// §4.1 "getReadHandle". Health scores are not consulted: every connected
// handle takes its turn whatever its score.
func (p *Pool) getReadHandle() (*Connection, error) {
	candidates := make([]*Connection, 0, len(p.replicas)+1)
	if p.primary.isConnected() {
		candidates = append(candidates, p.primary)
	}
	for _, r := range p.replicas {
		if r.isConnected() {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, engine.New(engine.KindNoHealthyConnection, "no healthy spatial-index read connection")
	}
	idx := atomic.AddUint64(&p.rrIndex, 1)
	return candidates[idx%uint64(len(candidates))], nil
}

// ExecuteRead retries up to 3 times with delays 1s, 2s, 3s, picking a fresh
// handle each attempt, per §4.1 "Retries".
func (p *Pool) ExecuteRead(ctx context.Context, cmd Command) (*redis.Cmd, error) {
	return p.executeWithRetry(ctx, cmd, p.getReadHandle)
}

// ExecuteWrite is the write-path analogue of ExecuteRead; on primary
// failure it returns PrimaryUnavailable rather than silently degrading to a
// replica (writes are not valid on replicas, §4.1 "Failover policy").
func (p *Pool) ExecuteWrite(ctx context.Context, cmd Command) (*redis.Cmd, error) {
	result, err := p.executeWithRetry(ctx, cmd, p.getWriteHandle)
	if err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) && engErr.Kind == engine.KindConnectionUnavailable {
			return nil, engine.New(engine.KindPrimaryUnavailable, "primary unavailable for write")
		}
	}
	return result, err
}

var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}

func (p *Pool) executeWithRetry(ctx context.Context, cmd Command, pick func() (*Connection, error)) (*redis.Cmd, error) {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		conn, err := pick()
		if err != nil {
			return nil, err
		}
		result, execErr := p.execute(ctx, conn, cmd)
		if execErr == nil {
			return result, nil
		}
		lastErr = execErr
		conn.AdjustHealth(0, true)
		if attempt == len(retryDelays) {
			break
		}
		p.logger.Warn("spatialindex command failed, retrying", zap.String("command", cmd.Name), zap.Int("attempt", attempt+1), zap.Error(execErr))
		select {
		case <-time.After(retryDelays[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, engine.Wrap(engine.KindQueryTimeout, "spatialindex command exhausted retries: "+cmd.Name, lastErr)
}

func (p *Pool) execute(ctx context.Context, conn *Connection, cmd Command) (*redis.Cmd, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	start := time.Now()
	runner := func() (interface{}, error) {
		conn.mu.RLock()
		client := conn.client
		conn.mu.RUnlock()
		if client == nil {
			return nil, ErrConnectionUnavailable
		}
		res := client.Do(queryCtx, cmd.Args()...)
		// A server reply error is a command failure; any other error (dial,
		// I/O, timeout) is a failure of the connection itself.
		var replyErr redis.Error
		if err := res.Err(); err != nil && !errors.As(err, &replyErr) {
			return res, err
		}
		return res, nil
	}

	var res interface{}
	var err error
	if conn.record.Role == "primary" {
		res, err = p.breaker.Execute(runner)
	} else {
		res, err = runner()
	}
	latency := time.Since(start)

	if err != nil {
		if p.metrics != nil {
			p.metrics.SpatialIndexCommands.WithLabelValues(cmd.Name, "error").Inc()
		}
		conn.AdjustHealth(latency, true)
		conn.markDown(err)
		return nil, err
	}
	cmdResult := res.(*redis.Cmd)
	if cmdErr := cmdResult.Err(); cmdErr != nil && cmdErr != redis.Nil {
		if p.metrics != nil {
			p.metrics.SpatialIndexCommands.WithLabelValues(cmd.Name, "error").Inc()
		}
		conn.AdjustHealth(latency, true)
		return nil, cmdErr
	}
	if p.metrics != nil {
		p.metrics.SpatialIndexCommands.WithLabelValues(cmd.Name, "ok").Inc()
		p.metrics.SpatialIndexLatency.WithLabelValues(cmd.Name).Observe(latency.Seconds())
	}
	conn.AdjustHealth(latency, false)
	return cmdResult, nil
}

// Snapshot reports the current connection records for health aggregation.
func (p *Pool) Snapshot() (primary bool, replicasUp int, replicasTotal int) {
	return p.primary.isConnected(), countConnected(p.replicas), len(p.replicas)
}

func countConnected(conns []*Connection) int {
	n := 0
	for _, c := range conns {
		if c.isConnected() {
			n++
		}
	}
	return n
}

// Close shuts down the health probe loop and every connection.
func (p *Pool) Close() error {
	var err error
	p.shutdownOnce.Do(func() {
		p.cancel()
		err = p.primary.close()
		for _, r := range p.replicas {
			if e := r.close(); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}
