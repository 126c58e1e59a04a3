package regexcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager is the single entry point and lifecycle owner for the three
// caches and the background sweep (spec.md §4.6). It is the only component
// external collaborators see; Config, Metrics, and the caches themselves
// are exclusively owned by it.
type Manager struct {
	cfg     *Config
	engine  Engine
	metrics *Metrics
	logger  *slog.Logger

	resultCache  *ResultCache
	patternCache *PatternCache
	deferred     *DeferredCache
	eviction     *EvictionThread

	// mu serializes ClearAll calls, so the was-running state ClearAll keeps
	// in a local is read and written only inside its own critical section.
	mu sync.Mutex
}

// NewManager validates cfg, constructs Result, Pattern, and Deferred caches
// in that order (Pattern Cache holds a non-owning reference to Deferred
// Cache for eviction handoff), then the Eviction Thread over references to
// all three. If cfg.AutoStartEvictionThread, the thread is started before
// NewManager returns.
func NewManager(cfg *Config, engine Engine, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		engine = NewStdlibEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics := newMetrics()
	resultCache := NewResultCache(cfg)
	deferred := NewDeferredCache(cfg.deferredCacheTTL(), logger)
	patternCache := NewPatternCache(cfg, engine, deferred)
	eviction := NewEvictionThread(resultCache, patternCache, deferred, metrics, cfg, logger)

	m := &Manager{
		cfg:          cfg,
		engine:       engine,
		metrics:      metrics,
		logger:       logger,
		resultCache:  resultCache,
		patternCache: patternCache,
		deferred:     deferred,
		eviction:     eviction,
	}

	if cfg.AutoStartEvictionThread {
		m.eviction.Start()
	}
	return m, nil
}

// ResultCache returns the Manager's Result Cache for direct use by external
// collaborators.
func (m *Manager) ResultCache() *ResultCache { return m.resultCache }

// PatternCache returns the Manager's Pattern Cache for direct use by
// external collaborators.
func (m *Manager) PatternCache() *PatternCache { return m.patternCache }

// DeferredCache returns the Manager's Deferred Cache for direct use by
// external collaborators.
func (m *Manager) DeferredCache() *DeferredCache { return m.deferred }

// StartEviction starts the background sweep. Idempotent.
func (m *Manager) StartEviction() { m.eviction.Start() }

// StopEviction stops the background sweep and waits for it to exit.
// Idempotent.
func (m *Manager) StopEviction() { m.eviction.Stop() }

// IsEvictionRunning reports whether the background sweep is active.
func (m *Manager) IsEvictionRunning() bool { return m.eviction.IsRunning() }

// Match compiles (or finds) pattern, consults the Result Cache
// opportunistically, matches input if necessary, and populates the Result
// Cache afterward. This is the Manager's composed, caller-facing
// convenience operation over the three caches' primitive operations —
// everything it does is also reachable directly via PatternCache/
// ResultCache for collaborators that need finer control.
func (m *Manager) Match(pattern string, caseSensitive bool, input []byte) (bool, error) {
	cp, err := m.patternCache.GetOrCompile(pattern, caseSensitive, m.metrics)
	if err != nil {
		return false, err
	}
	defer m.patternCache.Release(cp, m.metrics)

	patternHash := PatternKey(pattern, caseSensitive)
	if result, hit := m.resultCache.Get(patternHash, input, m.metrics); hit {
		return result, nil
	}

	result := cp.MatchString(string(input))
	m.resultCache.Put(patternHash, input, result, m.metrics)
	return result, nil
}

// GetMetricsJSON builds a FRESH snapshot — atomic counters copied via
// Metrics.clone, then each cache's SnapshotMetrics called against that
// private copy — rather than reading the Eviction Thread's live Metrics
// directly. This avoids any reader/writer race on the non-atomic snapshot
// fields and guarantees the returned document is internally consistent as
// of one instant (spec.md §4.6).
func (m *Manager) GetMetricsJSON() (string, error) {
	snapshot := m.metrics.clone()

	if m.cfg.PatternResultCacheEnabled {
		m.resultCache.SnapshotMetrics(snapshot)
	}
	m.patternCache.SnapshotMetrics(snapshot)
	m.deferred.SnapshotMetrics(snapshot)

	doc := snapshot.toDocument(time.Now())
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("regexcache: marshal metrics document: %w", err)
	}
	return string(encoded), nil
}

// ClearAll stops the sweep if running, clears all three caches (Pattern
// Cache migrating in-use entries to the Deferred Cache, mirroring
// destruction order steps 2-4), then restarts the sweep only if it was
// running before the call — a state-preserving reset rather than a
// teardown.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasRunning := m.eviction.IsRunning()
	if wasRunning {
		m.eviction.Stop()
	}

	m.patternCache.Clear(m.metrics)
	m.resultCache.Clear()
	m.deferred.Clear()

	if wasRunning {
		m.eviction.Start()
	}
}

// Close performs the Manager's destruction sequence (spec.md §4.6, strictly
// reversed from construction): stop the Eviction Thread and join it, clear
// the Pattern Cache into the Deferred Cache, clear the Result Cache, then
// clear the Deferred Cache. ctx bounds only the Eviction Thread join —
// spec.md's core contract provides no per-operation timeouts anywhere else
// (compilation, matching), but a shutdown join is ambient lifecycle
// plumbing every corpus service threads a context through. If ctx expires
// first, Close returns ctx.Err() without touching the caches, since the
// sweep goroutine may still be mid-cycle against them.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.eviction.StopContext(ctx); err != nil {
		return err
	}
	m.patternCache.Clear(m.metrics)
	m.resultCache.Clear()
	m.deferred.Clear()
	return nil
}

// --- prometheus.Collector ---

var (
	resultCacheHitsDesc    = prometheus.NewDesc("regexcache_result_cache_hits_total", "Result Cache hits.", nil, nil)
	resultCacheMissesDesc  = prometheus.NewDesc("regexcache_result_cache_misses_total", "Result Cache misses.", nil, nil)
	resultCacheEntriesDesc = prometheus.NewDesc("regexcache_result_cache_entries", "Current Result Cache entry count.", nil, nil)
	resultCacheBytesDesc   = prometheus.NewDesc("regexcache_result_cache_bytes", "Current Result Cache accounted bytes.", nil, nil)

	patternCacheHitsDesc    = prometheus.NewDesc("regexcache_pattern_cache_hits_total", "Pattern Cache hits.", nil, nil)
	patternCacheMissesDesc  = prometheus.NewDesc("regexcache_pattern_cache_misses_total", "Pattern Cache misses.", nil, nil)
	patternCacheEntriesDesc = prometheus.NewDesc("regexcache_pattern_cache_entries", "Current Pattern Cache entry count.", nil, nil)
	patternCacheBytesDesc   = prometheus.NewDesc("regexcache_pattern_cache_bytes", "Current Pattern Cache accounted bytes.", nil, nil)
	compilationErrorsDesc   = prometheus.NewDesc("regexcache_pattern_compilation_errors_total", "Pattern compilation failures.", nil, nil)

	deferredEntriesDesc = prometheus.NewDesc("regexcache_deferred_cache_entries", "Current Deferred Cache entry count.", nil, nil)
	deferredForcedDesc  = prometheus.NewDesc("regexcache_deferred_cache_forced_evictions_total", "Deferred Cache forced (leak) evictions.", nil, nil)
)

// Collector returns a prometheus.Collector reading the same atomic counters
// that back GetMetricsJSON. It is a hand-written Collector rather than
// promauto package-level vars, since multiple Manager instances in the same
// process must not collide on a shared global registry (spec.md's
// per-Manager ownership of Metrics).
func (m *Manager) Collector() prometheus.Collector { return (*managerCollector)(m) }

type managerCollector Manager

func (c *managerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- resultCacheHitsDesc
	ch <- resultCacheMissesDesc
	ch <- resultCacheEntriesDesc
	ch <- resultCacheBytesDesc
	ch <- patternCacheHitsDesc
	ch <- patternCacheMissesDesc
	ch <- patternCacheEntriesDesc
	ch <- patternCacheBytesDesc
	ch <- compilationErrorsDesc
	ch <- deferredEntriesDesc
	ch <- deferredForcedDesc
}

func (c *managerCollector) Collect(ch chan<- prometheus.Metric) {
	m := (*Manager)(c)
	snapshot := m.metrics.clone()

	if m.cfg.PatternResultCacheEnabled {
		m.resultCache.SnapshotMetrics(snapshot)
	}
	m.patternCache.SnapshotMetrics(snapshot)
	m.deferred.SnapshotMetrics(snapshot)

	ch <- prometheus.MustNewConstMetric(resultCacheHitsDesc, prometheus.CounterValue, float64(snapshot.ResultCache.hits.Load()))
	ch <- prometheus.MustNewConstMetric(resultCacheMissesDesc, prometheus.CounterValue, float64(snapshot.ResultCache.misses.Load()))
	ch <- prometheus.MustNewConstMetric(resultCacheEntriesDesc, prometheus.GaugeValue, float64(snapshot.ResultCache.entryCount))
	ch <- prometheus.MustNewConstMetric(resultCacheBytesDesc, prometheus.GaugeValue, float64(snapshot.ResultCache.actualSizeBytes))

	ch <- prometheus.MustNewConstMetric(patternCacheHitsDesc, prometheus.CounterValue, float64(snapshot.PatternCache.hits.Load()))
	ch <- prometheus.MustNewConstMetric(patternCacheMissesDesc, prometheus.CounterValue, float64(snapshot.PatternCache.misses.Load()))
	ch <- prometheus.MustNewConstMetric(patternCacheEntriesDesc, prometheus.GaugeValue, float64(snapshot.PatternCache.entryCount))
	ch <- prometheus.MustNewConstMetric(patternCacheBytesDesc, prometheus.GaugeValue, float64(snapshot.PatternCache.actualSizeBytes))
	ch <- prometheus.MustNewConstMetric(compilationErrorsDesc, prometheus.CounterValue, float64(snapshot.PatternCache.compilationErrors.Load()))

	ch <- prometheus.MustNewConstMetric(deferredEntriesDesc, prometheus.GaugeValue, float64(snapshot.DeferredCache.entryCount))
	ch <- prometheus.MustNewConstMetric(deferredForcedDesc, prometheus.CounterValue, float64(snapshot.DeferredCache.forcedEvictions.Load()))
}
