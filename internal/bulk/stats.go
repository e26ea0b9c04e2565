package bulk

import (
	"sync"
	"sync/atomic"
	"time"
)

const maxDurationSamples = 1000
const throughputWindow = 5 * time.Second

// StatsSnapshot is the result of getProcessingStatistics (§4.6).
type StatsSnapshot struct {
	TotalProcessed        int64
	SuccessCount          int64
	ErrorCount            int64
	AverageProcessingTime time.Duration
	ThroughputPerSecond   float64
}

// rollingStats tracks a bounded window of per-item durations for the
// average and a 5-second bucket of completions for throughput, kept as
// plain counters/slices rather than Prometheus so Stats() can be read
// synchronously without scraping.
type rollingStats struct {
	total   int64
	success int64
	errors  int64

	mu        sync.Mutex
	durations []time.Duration
	next      int

	windowStart time.Time
	windowCount int64
	lastRate    float64
}

func newRollingStats() *rollingStats {
	return &rollingStats{
		durations:   make([]time.Duration, 0, maxDurationSamples),
		windowStart: time.Now(),
	}
}

func (s *rollingStats) recordSuccess(d time.Duration) {
	atomic.AddInt64(&s.total, 1)
	atomic.AddInt64(&s.success, 1)
	s.recordDuration(d)
	s.tickWindow()
}

func (s *rollingStats) recordError() {
	atomic.AddInt64(&s.total, 1)
	atomic.AddInt64(&s.errors, 1)
	s.tickWindow()
}

func (s *rollingStats) recordDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) < maxDurationSamples {
		s.durations = append(s.durations, d)
	} else {
		s.durations[s.next] = d
		s.next = (s.next + 1) % maxDurationSamples
	}
}

func (s *rollingStats) tickWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.windowStart) >= throughputWindow {
		s.lastRate = float64(s.windowCount) / now.Sub(s.windowStart).Seconds()
		s.windowCount = 0
		s.windowStart = now
	}
	s.windowCount++
}

func (s *rollingStats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	var avg time.Duration
	if len(s.durations) > 0 {
		avg = sum / time.Duration(len(s.durations))
	}

	rate := s.lastRate
	if elapsed := time.Now().Sub(s.windowStart); elapsed > 0 {
		live := float64(s.windowCount) / elapsed.Seconds()
		if live > rate {
			rate = live
		}
	}

	return StatsSnapshot{
		TotalProcessed:        atomic.LoadInt64(&s.total),
		SuccessCount:          atomic.LoadInt64(&s.success),
		ErrorCount:            atomic.LoadInt64(&s.errors),
		AverageProcessingTime: avg,
		ThroughputPerSecond:   rate,
	}
}
