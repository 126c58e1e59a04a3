package regexcache

import (
	"context"
	"log/slog"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"
)

// EvictionThread is the single background actor that periodically sweeps
// all three caches and refreshes their metrics snapshots (spec.md §4.5).
// Constructed stopped; Start/Stop transition via an atomic CompareAndSwap
// and are both idempotent (P6).
type EvictionThread struct {
	resultCache  *ResultCache
	patternCache *PatternCache
	deferred     *DeferredCache
	metrics      *Metrics
	logger       *slog.Logger

	resultCacheEnabled bool
	interval           time.Duration

	running atomic.Bool
	mu      sync.Mutex // guards stopCh/done lifecycle across Start/Stop calls
	stopCh  chan struct{}
	done    chan struct{}
}

// NewEvictionThread constructs the sweep actor. It does not start running;
// callers (typically the Manager) call Start explicitly.
func NewEvictionThread(resultCache *ResultCache, patternCache *PatternCache, deferred *DeferredCache, metrics *Metrics, cfg *Config, logger *slog.Logger) *EvictionThread {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvictionThread{
		resultCache:        resultCache,
		patternCache:       patternCache,
		deferred:           deferred,
		metrics:            metrics,
		logger:             logger,
		resultCacheEnabled: cfg.PatternResultCacheEnabled,
		interval:           cfg.evictionInterval(),
	}
}

// Start begins the periodic sweep. Calling Start while already running is a
// no-op (P6).
func (t *EvictionThread) Start() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	t.stopCh = make(chan struct{})
	t.done = make(chan struct{})
	stopCh, done := t.stopCh, t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		pprof.Do(context.Background(), pprof.Labels("component", "regexcache-evict"), func(_ context.Context) {
			t.run(stopCh)
		})
	}()
}

// Stop signals the sweep goroutine and waits for it to exit. Calling Stop
// while already stopped is a no-op (P6). Shutdown latency is bounded by a
// channel close, not by the sweep interval.
func (t *EvictionThread) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}

	t.mu.Lock()
	stopCh, done := t.stopCh, t.done
	t.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if done != nil {
		<-done
	}
}

// StopContext behaves like Stop but bounds the join wait by ctx. If ctx is
// cancelled before the goroutine exits, it returns ctx.Err() and the
// goroutine keeps running in the background until its current step
// finishes; callers that time out must not assume the caches are quiescent.
func (t *EvictionThread) StopContext(ctx context.Context) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	t.mu.Lock()
	stopCh, done := t.stopCh, t.done
	t.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the sweep goroutine is currently active.
func (t *EvictionThread) IsRunning() bool { return t.running.Load() }

func (t *EvictionThread) run(stopCh <-chan struct{}) {
	nextCycle := time.Now().Add(t.interval)

	for {
		timer := time.NewTimer(time.Until(nextCycle))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		t.runCycle()

		// Step 6: if the sweep itself took longer than one interval, reset
		// rather than compounding drift.
		nextCycle = nextCycle.Add(t.interval)
		if now := time.Now(); nextCycle.Before(now) {
			nextCycle = now.Add(t.interval)
		}
	}
}

// runCycle executes the per-cycle protocol (spec.md §4.5 steps 1-5). Any
// panic from an individual step is recovered and logged; the loop
// continues to the next step and next cycle rather than dying silently or
// crashing the process.
func (t *EvictionThread) runCycle() {
	now := time.Now()

	if t.resultCacheEnabled {
		t.safely("result_cache.evict", func() { t.resultCache.Evict(now, t.metrics) })
		t.safely("result_cache.snapshot_metrics", func() { t.resultCache.SnapshotMetrics(t.metrics) })
	}

	t.safely("pattern_cache.evict", func() { t.patternCache.Evict(now, t.metrics) })
	t.safely("pattern_cache.snapshot_metrics", func() { t.patternCache.SnapshotMetrics(t.metrics) })

	t.safely("deferred_cache.evict", func() { t.deferred.Evict(now, t.metrics) })
	t.safely("deferred_cache.snapshot_metrics", func() { t.deferred.SnapshotMetrics(t.metrics) })

	t.metrics.GeneratedAt = time.Now()
}

func (t *EvictionThread) safely(step string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("regexcache: eviction step failed, continuing", "step", step, "panic", r)
		}
	}()
	f()
}
