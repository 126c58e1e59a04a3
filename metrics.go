package regexcache

import (
	"sync/atomic"
	"time"
)

// Metrics holds the observable state of all three caches: atomic counters,
// safe to increment from any goroutine under relaxed ordering (I6), plus
// the non-atomic "snapshot fields" (entry count, byte totals, utilization,
// using_tbb) that spec.md §3/§4 says are written only by the Eviction
// Thread or by a private per-call snapshot — never raced on by readers.
//
// A Manager owns exactly one Metrics for its Eviction Thread to refresh
// each cycle. GetMetricsJSON never reads that shared instance's snapshot
// fields directly; it allocates a fresh Metrics, copies the atomic counters
// over, and calls each cache's SnapshotMetrics against the fresh copy, so
// the snapshot fields in the returned document were written by exactly one
// goroutine and cannot race with the background sweep.
type Metrics struct {
	ResultCache   resultCacheMetrics
	PatternCache  patternCacheMetrics
	DeferredCache deferredCacheMetrics

	// GeneratedAt is stamped by the Eviction Thread each cycle (step 5 of
	// the per-cycle protocol) on the shared instance; GetMetricsJSON
	// stamps its own fresh copy at call time instead.
	GeneratedAt time.Time
}

func newMetrics() *Metrics { return &Metrics{} }

// clone copies atomic counters (via Load) into a fresh Metrics whose
// snapshot fields are all zero, ready for a private SnapshotMetrics pass.
func (m *Metrics) clone() *Metrics {
	out := newMetrics()
	out.ResultCache.hits.Store(m.ResultCache.hits.Load())
	out.ResultCache.misses.Store(m.ResultCache.misses.Load())
	out.ResultCache.inserts.Store(m.ResultCache.inserts.Load())
	out.ResultCache.updates.Store(m.ResultCache.updates.Load())
	out.ResultCache.resultFlips.Store(m.ResultCache.resultFlips.Load())
	out.ResultCache.getErrors.Store(m.ResultCache.getErrors.Load())
	out.ResultCache.putErrors.Store(m.ResultCache.putErrors.Load())
	out.ResultCache.ttlEvictions.Store(m.ResultCache.ttlEvictions.Load())
	out.ResultCache.lruEvictions.Store(m.ResultCache.lruEvictions.Load())
	out.ResultCache.ttlBytesFreed.Store(m.ResultCache.ttlBytesFreed.Load())
	out.ResultCache.lruBytesFreed.Store(m.ResultCache.lruBytesFreed.Load())

	out.PatternCache.hits.Store(m.PatternCache.hits.Load())
	out.PatternCache.misses.Store(m.PatternCache.misses.Load())
	out.PatternCache.compilationErrors.Store(m.PatternCache.compilationErrors.Load())
	out.PatternCache.patternReleases.Store(m.PatternCache.patternReleases.Load())
	out.PatternCache.patternsReleasedToZero.Store(m.PatternCache.patternsReleasedToZero.Load())
	out.PatternCache.ttlEvictions.Store(m.PatternCache.ttlEvictions.Load())
	out.PatternCache.lruEvictions.Store(m.PatternCache.lruEvictions.Load())
	out.PatternCache.ttlMovedToDeferred.Store(m.PatternCache.ttlMovedToDeferred.Load())
	out.PatternCache.lruMovedToDeferred.Store(m.PatternCache.lruMovedToDeferred.Load())
	out.PatternCache.ttlBytesFreed.Store(m.PatternCache.ttlBytesFreed.Load())
	out.PatternCache.lruBytesFreed.Store(m.PatternCache.lruBytesFreed.Load())

	out.DeferredCache.totalEntriesAdded.Store(m.DeferredCache.totalEntriesAdded.Load())
	out.DeferredCache.immediateEvictions.Store(m.DeferredCache.immediateEvictions.Load())
	out.DeferredCache.immediateBytesFreed.Store(m.DeferredCache.immediateBytesFreed.Load())
	out.DeferredCache.forcedEvictions.Store(m.DeferredCache.forcedEvictions.Load())
	out.DeferredCache.forcedBytesFreed.Store(m.DeferredCache.forcedBytesFreed.Load())
	return out
}

type resultCacheMetrics struct {
	hits, misses atomic.Uint64
	inserts, updates, resultFlips atomic.Uint64
	getErrors, putErrors          atomic.Uint64
	ttlEvictions, lruEvictions    atomic.Uint64
	ttlBytesFreed, lruBytesFreed  atomic.Uint64

	// snapshot fields, see Metrics doc comment
	entryCount        uint64
	actualSizeBytes   uint64
	targetBytes       uint64
	utilizationRatio  float64
	usingTBB          bool
}

type patternCacheMetrics struct {
	hits, misses                               atomic.Uint64
	compilationErrors                          atomic.Uint64
	patternReleases, patternsReleasedToZero    atomic.Uint64
	ttlEvictions, lruEvictions                 atomic.Uint64
	ttlMovedToDeferred, lruMovedToDeferred     atomic.Uint64
	ttlBytesFreed, lruBytesFreed                atomic.Uint64

	entryCount       uint64
	actualSizeBytes  uint64
	targetBytes      uint64
	utilizationRatio float64
	usingTBB         bool
}

type deferredCacheMetrics struct {
	totalEntriesAdded                        atomic.Uint64
	immediateEvictions, immediateBytesFreed  atomic.Uint64
	forcedEvictions, forcedBytesFreed        atomic.Uint64

	entryCount      uint64
	actualSizeBytes uint64
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return 100 * float64(hits) / float64(total)
}

// --- JSON document shape (spec.md §6) ---

// MetricsDocument is the serializable, read-only metrics snapshot returned
// by Manager.GetMetricsJSON (after json.Marshal).
type MetricsDocument struct {
	PatternResultCache resultCacheDoc   `json:"pattern_result_cache"`
	PatternCache       patternCacheDoc  `json:"pattern_cache"`
	DeferredCache      deferredCacheDoc `json:"deferred_cache"`
	GeneratedAt        string           `json:"generated_at"`
}

type evictionsDoc struct {
	TTL             uint64 `json:"ttl"`
	LRU             uint64 `json:"lru"`
	LRUBytesFreed   uint64 `json:"lru_bytes_freed"`
	TotalEvictions  uint64 `json:"total_evictions"`
	TotalBytesFreed uint64 `json:"total_bytes_freed"`
}

type patternEvictionsDoc struct {
	TTL                  uint64 `json:"ttl"`
	LRU                  uint64 `json:"lru"`
	TTLMovedToDeferred   uint64 `json:"ttl_moved_to_deferred"`
	LRUMovedToDeferred   uint64 `json:"lru_moved_to_deferred"`
	TotalEvictions       uint64 `json:"total_evictions"`
	TotalBytesFreed      uint64 `json:"total_bytes_freed"`
}

type deferredEvictionsDoc struct {
	Immediate             uint64 `json:"immediate"`
	ImmediateBytesFreed   uint64 `json:"immediate_bytes_freed"`
	Forced                uint64 `json:"forced"`
	ForcedBytesFreed      uint64 `json:"forced_bytes_freed"`
	TotalEvictions        uint64 `json:"total_evictions"`
	TotalBytesFreed       uint64 `json:"total_bytes_freed"`
}

type capacityDoc struct {
	TargetBytes      uint64  `json:"target_bytes"`
	ActualBytes      uint64  `json:"actual_bytes"`
	EntryCount       uint64  `json:"entry_count"`
	UtilizationRatio float64 `json:"utilization_ratio"`
}

type deferredCapacityDoc struct {
	ActualBytes uint64 `json:"actual_bytes"`
	EntryCount  uint64 `json:"entry_count"`
}

type resultCacheDoc struct {
	Hits        uint64       `json:"hits"`
	Misses      uint64       `json:"misses"`
	HitRate     float64      `json:"hit_rate"`
	Inserts     uint64       `json:"inserts"`
	Updates     uint64       `json:"updates"`
	ResultFlips uint64       `json:"result_flips"`
	GetErrors   uint64       `json:"get_errors"`
	PutErrors   uint64       `json:"put_errors"`
	Evictions   evictionsDoc `json:"evictions"`
	Capacity    capacityDoc  `json:"capacity"`
	UsingTBB    bool         `json:"using_tbb"`
}

type patternCacheDoc struct {
	Hits                     uint64              `json:"hits"`
	Misses                   uint64              `json:"misses"`
	HitRate                  float64             `json:"hit_rate"`
	CompilationErrors        uint64              `json:"compilation_errors"`
	PatternReleases          uint64              `json:"pattern_releases"`
	PatternsReleasedToZero   uint64              `json:"patterns_released_to_zero"`
	Evictions                patternEvictionsDoc `json:"evictions"`
	Capacity                 capacityDoc         `json:"capacity"`
	UsingTBB                 bool                `json:"using_tbb"`
}

type deferredCacheDoc struct {
	TotalEntriesAdded uint64               `json:"total_entries_added"`
	Evictions         deferredEvictionsDoc `json:"evictions"`
	Capacity          deferredCapacityDoc  `json:"capacity"`
}

// toDocument renders the current state (atomics loaded fresh, snapshot
// fields read as-is) into the wire format. generatedAt is passed in rather
// than read from m.GeneratedAt so callers building a private snapshot can
// stamp wall-clock time at the moment of the call (spec.md §4.6).
func (m *Metrics) toDocument(generatedAt time.Time) MetricsDocument {
	rc := &m.ResultCache
	pc := &m.PatternCache
	dc := &m.DeferredCache

	rcHits, rcMisses := rc.hits.Load(), rc.misses.Load()
	pcHits, pcMisses := pc.hits.Load(), pc.misses.Load()

	rcTTL, rcLRU := rc.ttlEvictions.Load(), rc.lruEvictions.Load()
	pcTTL, pcLRU := pc.ttlEvictions.Load(), pc.lruEvictions.Load()
	pcTTLDef, pcLRUDef := pc.ttlMovedToDeferred.Load(), pc.lruMovedToDeferred.Load()
	dcImmediate, dcForced := dc.immediateEvictions.Load(), dc.forcedEvictions.Load()

	return MetricsDocument{
		PatternResultCache: resultCacheDoc{
			Hits:        rcHits,
			Misses:      rcMisses,
			HitRate:     hitRate(rcHits, rcMisses),
			Inserts:     rc.inserts.Load(),
			Updates:     rc.updates.Load(),
			ResultFlips: rc.resultFlips.Load(),
			GetErrors:   rc.getErrors.Load(),
			PutErrors:   rc.putErrors.Load(),
			Evictions: evictionsDoc{
				TTL:             rcTTL,
				LRU:             rcLRU,
				LRUBytesFreed:   rc.lruBytesFreed.Load(),
				TotalEvictions:  rcTTL + rcLRU,
				TotalBytesFreed: rc.ttlBytesFreed.Load() + rc.lruBytesFreed.Load(),
			},
			Capacity: capacityDoc{
				TargetBytes:      rc.targetBytes,
				ActualBytes:      rc.actualSizeBytes,
				EntryCount:       rc.entryCount,
				UtilizationRatio: rc.utilizationRatio,
			},
			UsingTBB: rc.usingTBB,
		},
		PatternCache: patternCacheDoc{
			Hits:                   pcHits,
			Misses:                 pcMisses,
			HitRate:                hitRate(pcHits, pcMisses),
			CompilationErrors:      pc.compilationErrors.Load(),
			PatternReleases:        pc.patternReleases.Load(),
			PatternsReleasedToZero: pc.patternsReleasedToZero.Load(),
			Evictions: patternEvictionsDoc{
				TTL:                pcTTL,
				LRU:                pcLRU,
				TTLMovedToDeferred: pcTTLDef,
				LRUMovedToDeferred: pcLRUDef,
				TotalEvictions:     pcTTL + pcLRU,
				TotalBytesFreed:    pc.ttlBytesFreed.Load() + pc.lruBytesFreed.Load(),
			},
			Capacity: capacityDoc{
				TargetBytes:      pc.targetBytes,
				ActualBytes:      pc.actualSizeBytes,
				EntryCount:       pc.entryCount,
				UtilizationRatio: pc.utilizationRatio,
			},
			UsingTBB: pc.usingTBB,
		},
		DeferredCache: deferredCacheDoc{
			TotalEntriesAdded: dc.totalEntriesAdded.Load(),
			Evictions: deferredEvictionsDoc{
				Immediate:           dcImmediate,
				ImmediateBytesFreed: dc.immediateBytesFreed.Load(),
				Forced:              dcForced,
				ForcedBytesFreed:    dc.forcedBytesFreed.Load(),
				TotalEvictions:      dcImmediate + dcForced,
				TotalBytesFreed:     dc.immediateBytesFreed.Load() + dc.forcedBytesFreed.Load(),
			},
			Capacity: deferredCapacityDoc{
				ActualBytes: dc.actualSizeBytes,
				EntryCount:  dc.entryCount,
			},
		},
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339Nano),
	}
}
