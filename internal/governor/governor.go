// Package governor implements C2: a priority queue fronting the
// spatial-index pool with token-bucket rate limiting (MaxRequestsPerSecond
// per second, with a burst of the same size), per-request retry
// with backoff, and queue-overflow observability. Health-aware connection
// scoring itself lives in internal/spatialindex (the pool adjusts a
// connection's score on every command); this package only decides *when* a
// queued request is admitted, using golang.org/x/time/rate the same way the
// tracking service's cmd/server/main.go wires rate.NewLimiter into its HTTP
// middleware.
package governor

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/observability"
)

// Governor is the single owner of the admission queue and rate limiter.
// Callers push onto the queue under mu; only the run loop goroutine pops
// from it and waits on the limiter.
type Governor struct {
	cfg     config.GovernorConfig
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
	sink    observability.ObservationSink

	mu    sync.Mutex
	queue priorityQueue
	seq   int64
	depth int32

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the governor and starts its single admission loop.
func New(cfg config.GovernorConfig, metrics *observability.Metrics, logger *zap.Logger, sink observability.ObservationSink) *Governor {
	ctx, cancel := context.WithCancel(context.Background())
	limiter := rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond)

	g := &Governor{
		cfg:     cfg,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		sink:    sink,
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	heap.Init(&g.queue)
	g.wg.Add(1)
	go g.runLoop()
	return g
}

func (g *Governor) runLoop() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		for g.queue.Len() == 0 {
			g.mu.Unlock()
			select {
			case <-g.ctx.Done():
				return
			case <-g.notify:
			}
			g.mu.Lock()
		}
		item := heap.Pop(&g.queue).(*request)
		atomic.AddInt32(&g.depth, -1)
		g.mu.Unlock()

		if err := g.limiter.Wait(g.ctx); err != nil {
			return
		}
		go item.run()
	}
}

// enqueue pushes a request, signalling overflow (not an error) once depth
// exceeds QueueOverflowAt (§4.2 "Overflow signalling").
func (g *Governor) enqueue(r *request) {
	g.mu.Lock()
	heap.Push(&g.queue, r)
	depth := atomic.AddInt32(&g.depth, 1)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.GovernorQueueDepth.Set(float64(depth))
	}
	if int(depth) > g.cfg.QueueOverflowAt {
		if g.metrics != nil {
			g.metrics.GovernorQueueOverflow.Inc()
		}
		observability.Publish(g.sink, observability.Observation{
			Component: "governor", Kind: "queueOverflow",
			Message: "priority queue exceeded overflow threshold",
			Fields:  map[string]any{"depth": depth},
		})
	}
	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// Execute submits op at priority and blocks until it completes (possibly
// after retries), returning the typed result. Retries use
// retryDelayMs * 2^retryCount up to RetryAttempts, per §4.2 "Retry".
func Execute[T any](ctx context.Context, g *Governor, priority int, op func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	resultCh := make(chan outcome, 1)

	seq := atomic.AddInt64(&g.seq, 1)
	r := &request{
		priority: priority,
		seq:      seq,
		run: func() {
			var lastErr error
			var val T
			for attempt := 0; attempt <= g.cfg.RetryAttempts; attempt++ {
				v, err := op(ctx)
				if err == nil {
					resultCh <- outcome{val: v}
					return
				}
				lastErr = err
				val = v
				if g.metrics != nil && attempt > 0 {
					g.metrics.GovernorRetries.Inc()
				}
				if attempt < g.cfg.RetryAttempts {
					delay := time.Duration(g.cfg.RetryDelayMs) * time.Millisecond * time.Duration(1<<attempt)
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						resultCh <- outcome{val: val, err: ctx.Err()}
						return
					}
				}
			}
			resultCh <- outcome{val: val, err: lastErr}
		},
	}
	g.enqueue(r)

	select {
	case out := <-resultCh:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Depth reports the current queue depth for health aggregation.
func (g *Governor) Depth() int {
	return int(atomic.LoadInt32(&g.depth))
}

// Shutdown stops the admission loop; per §5 "Shutdown order" the governor
// rejects items still queued rather than draining them ("queue cleared").
func (g *Governor) Shutdown() {
	g.cancel()
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.queue.Len() > 0 {
		heap.Pop(&g.queue)
	}
}
