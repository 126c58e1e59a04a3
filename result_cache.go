package regexcache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// fixedResultEntryBytes is the constant accounted cost of every Result
// Cache entry (spec.md §4.3 / invariant I5): struct fields plus hash-table
// overhead. The input string is never stored, so entry cost is independent
// of input length (P5).
const fixedResultEntryBytes = 64

// resultEntry is a cached match outcome (spec.md §3 ResultEntry).
type resultEntry struct {
	result     bool
	lastAccess atomic.Int64
}

func newResultEntry(result bool) *resultEntry {
	e := &resultEntry{result: result}
	e.touch()
	return e
}

func (e *resultEntry) touch() { e.lastAccess.Store(time.Now().UnixNano()) }

func (e *resultEntry) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastAccess.Load()))
}

// ResultCache caches match outcomes keyed by (pattern-hash, input-hash) to
// avoid redundant matching of repeated inputs (spec.md §4.3). Optional:
// when disabled, Get always reports a miss and Put is a no-op with no
// metrics movement.
type ResultCache struct {
	rw    sync.RWMutex
	store backend[*resultEntry]

	enabled             bool
	targetCapacityBytes uint64
	stringThresholdBytes uint64
	ttl                 time.Duration
	lruBatchSize        int
	usingTBB            bool
}

// NewResultCache constructs a Result Cache. The LRU batch size is shared
// with the Pattern Cache's pattern_cache_lru_batch_size — spec.md's
// configuration table defines only the one batch-size key, and spec.md
// §4.3 describes the Result Cache's eviction structure as "identical" to
// the Pattern Cache's.
func NewResultCache(cfg *Config) *ResultCache {
	return &ResultCache{
		store:                newBackend[*resultEntry](cfg.PatternResultCacheUseTBB),
		enabled:              cfg.PatternResultCacheEnabled,
		targetCapacityBytes:  cfg.PatternResultCacheTargetCapacityBytes,
		stringThresholdBytes: cfg.PatternResultCacheStringThresholdBytes,
		ttl:                  cfg.resultCacheTTL(),
		lruBatchSize:         int(cfg.PatternCacheLRUBatchSize),
		usingTBB:             cfg.PatternResultCacheUseTBB,
	}
}

// Get looks up the cached outcome for (patternHash, input). The boolean
// result is only meaningful when hit is true. Any internal failure (spec.md
// §7 NonFatalCacheError) is caught here, increments get_errors, and is
// reported as a miss — never propagated to the caller.
func (rc *ResultCache) Get(patternHash uint64, input []byte, metrics *Metrics) (result bool, hit bool) {
	if !rc.enabled {
		return false, false
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.ResultCache.getErrors.Add(1)
			result, hit = false, false
		}
	}()

	key := ResultKey(patternHash, HashBytes(input))

	rc.rw.RLock()
	entry, ok := rc.store.get(key)
	if ok {
		entry.touch()
	}
	rc.rw.RUnlock()

	if !ok {
		metrics.ResultCache.misses.Add(1)
		return false, false
	}
	metrics.ResultCache.hits.Add(1)
	return entry.result, true
}

// Put inserts or updates the cached outcome for (patternHash, input).
// Silently skipped if the input exceeds the configured string threshold
// (large inputs rarely recur verbatim; a skip is not an error). Any
// internal failure is caught, increments put_errors, and is skipped —
// never propagated (spec.md §7 NonFatalCacheError).
func (rc *ResultCache) Put(patternHash uint64, input []byte, result bool, metrics *Metrics) {
	if !rc.enabled {
		return
	}
	if uint64(len(input)) > rc.stringThresholdBytes {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.ResultCache.putErrors.Add(1)
		}
	}()

	key := ResultKey(patternHash, HashBytes(input))

	rc.rw.Lock()
	defer rc.rw.Unlock()

	if existing, ok := rc.store.get(key); ok {
		if existing.result != result {
			metrics.ResultCache.resultFlips.Add(1)
		}
		existing.result = result
		existing.touch()
		metrics.ResultCache.updates.Add(1)
		return
	}

	rc.store.set(key, newResultEntry(result))
	metrics.ResultCache.inserts.Add(1)
}

// Evict runs the same two-pass TTL + batched-LRU structure as the Pattern
// Cache, with one difference: there is no refcount, so every entry is
// freely evictable.
func (rc *ResultCache) Evict(now time.Time, metrics *Metrics) int {
	evicted := rc.evictTTL(now, metrics)
	evicted += rc.evictLRU(metrics)
	return evicted
}

func (rc *ResultCache) evictTTL(now time.Time, metrics *Metrics) int {
	rc.rw.Lock()
	defer rc.rw.Unlock()

	var expired []uint64
	rc.store.forEach(func(key uint64, entry *resultEntry) {
		if entry.idleFor(now) > rc.ttl {
			expired = append(expired, key)
		}
	})
	for _, key := range expired {
		rc.store.delete(key)
	}
	if n := len(expired); n > 0 {
		metrics.ResultCache.ttlEvictions.Add(uint64(n))
		metrics.ResultCache.ttlBytesFreed.Add(uint64(n) * fixedResultEntryBytes)
	}
	return len(expired)
}

func (rc *ResultCache) evictLRU(metrics *Metrics) int {
	total := 0
	for {
		rc.rw.Lock()

		count := uint64(rc.store.len())
		if count*fixedResultEntryBytes <= rc.targetCapacityBytes {
			rc.rw.Unlock()
			return total
		}

		type candidate struct {
			key        uint64
			lastAccess int64
		}
		var candidates []candidate
		rc.store.forEach(func(key uint64, entry *resultEntry) {
			candidates = append(candidates, candidate{key, entry.lastAccess.Load()})
		})
		if len(candidates) == 0 {
			rc.rw.Unlock()
			return total
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].lastAccess < candidates[j].lastAccess
		})
		if len(candidates) > rc.lruBatchSize {
			candidates = candidates[:rc.lruBatchSize]
		}

		for _, c := range candidates {
			rc.store.delete(c.key)
			total++
		}
		metrics.ResultCache.lruEvictions.Add(uint64(len(candidates)))
		metrics.ResultCache.lruBytesFreed.Add(uint64(len(candidates)) * fixedResultEntryBytes)
		rc.rw.Unlock()
	}
}

// Clear empties the cache unconditionally.
func (rc *ResultCache) Clear() {
	rc.rw.Lock()
	defer rc.rw.Unlock()
	rc.store.clear()
}

// SnapshotMetrics writes this cache's entry count, actual bytes, target
// bytes, utilization ratio, and backend flag into dst.
func (rc *ResultCache) SnapshotMetrics(dst *Metrics) {
	rc.rw.RLock()
	defer rc.rw.RUnlock()

	count := uint64(rc.store.len())
	actual := count * fixedResultEntryBytes
	dst.ResultCache.entryCount = count
	dst.ResultCache.actualSizeBytes = actual
	dst.ResultCache.targetBytes = rc.targetCapacityBytes
	dst.ResultCache.usingTBB = rc.usingTBB
	if rc.targetCapacityBytes > 0 {
		dst.ResultCache.utilizationRatio = float64(actual) / float64(rc.targetCapacityBytes)
	}
}

// Len reports the current entry count.
func (rc *ResultCache) Len() int {
	rc.rw.RLock()
	defer rc.rw.RUnlock()
	return rc.store.len()
}
