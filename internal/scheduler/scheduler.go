// Package scheduler bounds the number of concurrently executing generate
// calls to the configured n_batch, so that requests beyond that count queue
// FIFO rather than piling concurrent work onto the single NPU handle.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Scheduler serializes access to the inference engine to at most n permits.
// golang.org/x/sync/semaphore.Weighted grants acquires in FIFO order, which
// is what gives this its queueing guarantee.
type Scheduler struct {
	sem    *semaphore.Weighted
	n      int64
	warn   time.Duration
	inUseN int64 // atomic

	inUse   prometheus.Gauge
	waiting prometheus.Gauge
}

// New builds a Scheduler admitting at most n concurrent callers. warnAfter
// is the wait duration past which an acquire logs a slow-wait warning; zero
// disables the warning.
func New(n int, warnAfter time.Duration) *Scheduler {
	if n < 1 {
		n = 1
	}
	return &Scheduler{
		sem:  semaphore.NewWeighted(int64(n)),
		n:    int64(n),
		warn: warnAfter,
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "porpulse_scheduler_permits_in_use",
			Help: "Number of generate calls currently holding a scheduler permit.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "porpulse_scheduler_permits_waiting",
			Help: "Number of generate calls currently queued for a scheduler permit.",
		}),
	}
}

// Collectors exposes the scheduler's gauges for registration with a
// prometheus.Registerer.
func (s *Scheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.inUse, s.waiting}
}

// Capacity returns n_batch, the configured concurrency ceiling.
func (s *Scheduler) Capacity() int { return int(s.n) }

// InUse returns the current number of held permits, for status reporting.
func (s *Scheduler) InUse() int {
	return int(atomic.LoadInt64(&s.inUseN))
}

// Run blocks until a permit is available (or ctx is cancelled), then calls
// fn while holding it. Waits longer than the configured warn threshold are
// logged once, since a consistently saturated scheduler usually means
// n_batch is undersized for the traffic the server is seeing.
func (s *Scheduler) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	s.waiting.Inc()
	start := time.Now()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.waiting.Dec()
		return err
	}
	s.waiting.Dec()

	if waited := time.Since(start); s.warn > 0 && waited > s.warn {
		log.Warn().
			Dur("waited", waited).
			Int("n_batch", int(s.n)).
			Msg("scheduler: request waited longer than slow_wait_warn_ms for a permit")
	}

	atomic.AddInt64(&s.inUseN, 1)
	s.inUse.Inc()
	defer func() {
		atomic.AddInt64(&s.inUseN, -1)
		s.inUse.Dec()
		s.sem.Release(1)
	}()

	return fn(ctx)
}
