package regexcache

import (
	"sort"
	"sync"
	"time"
)

// PatternCache is the authoritative map from PatternKey to CompiledPattern,
// with refcounted sharing and bounded memory (spec.md §4.2).
//
// rw guards every backend access in this cache: lookups, snapshots and Len
// take it shared; inserts, eviction and Clear take it exclusively. Both the
// "single RWMutex" and "striped concurrent map" backend choices (backend.go)
// use this same rw — a real per-shard lock protocol would need the backend
// to expose shard-level locks, which is more machinery than a cache-wide
// RWMutex buys here. Because every backend call is made under rw, the
// striped backend's own shard locks add no parallelism beyond rw's shared
// side. Both variants honor spec.md's core safety invariant (I3): the
// refcount increment on a hit happens before rw is released.
type PatternCache struct {
	rw      sync.RWMutex
	store   backend[*patternEntry]
	engine  Engine
	deferred *DeferredCache

	cacheEnabled         bool
	targetCapacityBytes  uint64
	ttl                  time.Duration
	lruBatchSize         int
	usingTBB             bool
}

// NewPatternCache constructs a Pattern Cache. deferred is the cache's
// non-owning reference for eviction handoff (spec.md §4.6 construction
// order: Pattern Cache holds a reference to an already-constructed
// Deferred Cache).
func NewPatternCache(cfg *Config, engine Engine, deferred *DeferredCache) *PatternCache {
	return &PatternCache{
		store:               newBackend[*patternEntry](cfg.PatternCacheUseTBB),
		engine:               engine,
		deferred:             deferred,
		cacheEnabled:         cfg.CacheEnabled,
		targetCapacityBytes:  cfg.PatternCacheTargetCapacityBytes,
		ttl:                  cfg.patternCacheTTL(),
		lruBatchSize:         int(cfg.PatternCacheLRUBatchSize),
		usingTBB:             cfg.PatternCacheUseTBB,
	}
}

// GetOrCompile returns shared ownership of the compiled pattern for
// (pattern, caseSensitive), compiling on miss. See spec.md §4.2 for the
// full contract, including the exact refcount-under-lock protocol this
// implements.
func (pc *PatternCache) GetOrCompile(pattern string, caseSensitive bool, metrics *Metrics) (*CompiledPattern, error) {
	key := PatternKey(pattern, caseSensitive)

	if pc.cacheEnabled {
		if cp, ok := pc.tryHit(key, metrics); ok {
			return cp, nil
		}
	}

	// Compilation runs WITHOUT any cache lock held (spec.md §5): it can
	// take microseconds to milliseconds and must never block readers.
	program, err := pc.engine.Compile(pattern, caseSensitive)
	if err != nil {
		metrics.PatternCache.compilationErrors.Add(1)
		return nil, &CompilationError{Pattern: pattern, Reason: err.Error()}
	}
	cp := newCompiledPattern(pattern, caseSensitive, program)

	if !pc.cacheEnabled {
		// Open Question #3 (spec.md §9): cache_enabled=false is pass-through —
		// compile on every call, never cache.
		return cp, nil
	}

	pc.rw.Lock()
	if existing, ok := pc.store.get(key); ok {
		// Lost the race: another goroutine inserted first. Discard our own
		// compiled artifact and hand back the survivor's reference.
		existing.pattern.addRef()
		existing.touch()
		pc.rw.Unlock()
		cp.closeProgram()
		return existing.pattern, nil
	}
	pc.store.set(key, newPatternEntry(cp))
	pc.rw.Unlock()

	return cp, nil
}

// tryHit performs the fast lookup path under a read lock. The refcount
// increment happens before the lock is released (spec.md §4.2 safety
// protocol / invariant I3).
func (pc *PatternCache) tryHit(key uint64, metrics *Metrics) (*CompiledPattern, bool) {
	pc.rw.RLock()
	entry, ok := pc.store.get(key)
	if !ok {
		pc.rw.RUnlock()
		metrics.PatternCache.misses.Add(1)
		return nil, false
	}
	entry.pattern.addRef()
	entry.touch()
	pc.rw.RUnlock()

	metrics.PatternCache.hits.Add(1)
	return entry.pattern, true
}

// Release decrements a caller-held reference's refcount. Callers MUST pass
// the reference returned by GetOrCompile — key-based lookup is not a
// substitute, since the entry may have already migrated to the Deferred
// Cache by the time Release is called.
//
// Reaching zero here does NOT close the program when the cache is enabled:
// a released-but-cached pattern stays resident for reuse until the
// eviction or clear path actually removes it from the backend (those paths
// re-check Refcount()==0 before closing, since a new GetOrCompile hit can
// race in and addRef it back above zero first). Only when the Pattern
// Cache is disabled — cache_enabled=false means this pattern was never
// inserted anywhere and no eviction pass will ever see it — does a drop to
// zero here free it, since this call is the only place that ever will.
func (pc *PatternCache) Release(cp *CompiledPattern, metrics *Metrics) {
	metrics.PatternCache.patternReleases.Add(1)
	if cp.dropRef() == 0 {
		metrics.PatternCache.patternsReleasedToZero.Add(1)
		if !pc.cacheEnabled {
			cp.closeProgram()
		}
	}
}

// Evict runs the two-pass TTL + batched-LRU sweep described in spec.md
// §4.2, migrating in-use entries to the Deferred Cache rather than
// destroying them out from under a live caller.
func (pc *PatternCache) Evict(now time.Time, metrics *Metrics) int {
	evicted := pc.evictTTL(now, metrics)
	evicted += pc.evictLRU(metrics)
	return evicted
}

func (pc *PatternCache) evictTTL(now time.Time, metrics *Metrics) int {
	pc.rw.Lock()

	type victim struct {
		key   uint64
		entry *patternEntry
	}
	var expired, inUse []victim
	pc.store.forEach(func(key uint64, entry *patternEntry) {
		if entry.idleFor(now) > pc.ttl {
			expired = append(expired, victim{key, entry})
		}
	})

	for _, v := range expired {
		pc.store.delete(v.key)
		metrics.PatternCache.ttlEvictions.Add(1)
		if v.entry.pattern.Refcount() == 0 {
			v.entry.pattern.closeProgram()
			metrics.PatternCache.ttlBytesFreed.Add(v.entry.pattern.SizeBytes())
		} else {
			metrics.PatternCache.ttlMovedToDeferred.Add(1)
			inUse = append(inUse, v)
		}
	}
	pc.rw.Unlock()

	// In-use entries reach the Deferred Cache only after rw is released, so
	// no two cache locks are ever held at once.
	for _, v := range inUse {
		pc.deferred.Add(v.key, v.entry.pattern, metrics)
	}
	return len(expired)
}

// evictLRU evicts batches of the least-recently-used zero-refcount entries
// until actual bytes fall within the target capacity, or no zero-refcount
// candidates remain (soft limit: LRU gives up rather than starving
// in-use patterns). Entries with refcount>0 are never chosen here — they
// can only leave via TTL (spec.md §4.2).
func (pc *PatternCache) evictLRU(metrics *Metrics) int {
	total := 0
	for {
		pc.rw.Lock()

		actual := pc.actualBytesLocked()
		if actual <= pc.targetCapacityBytes {
			pc.rw.Unlock()
			return total
		}

		type candidate struct {
			key        uint64
			entry      *patternEntry
			lastAccess int64
		}
		var candidates []candidate
		pc.store.forEach(func(key uint64, entry *patternEntry) {
			if entry.pattern.Refcount() == 0 {
				candidates = append(candidates, candidate{key, entry, entry.lastAccess.Load()})
			}
		})
		if len(candidates) == 0 {
			// No zero-refcount candidates: soft limit, give up even if over budget.
			pc.rw.Unlock()
			return total
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].lastAccess < candidates[j].lastAccess
		})
		if len(candidates) > pc.lruBatchSize {
			candidates = candidates[:pc.lruBatchSize]
		}

		for _, c := range candidates {
			pc.store.delete(c.key)
			c.entry.pattern.closeProgram()
			metrics.PatternCache.lruEvictions.Add(1)
			metrics.PatternCache.lruBytesFreed.Add(c.entry.pattern.SizeBytes())
			total++
		}
		pc.rw.Unlock()
	}
}

func (pc *PatternCache) actualBytesLocked() uint64 {
	var total uint64
	pc.store.forEach(func(_ uint64, entry *patternEntry) {
		total += entry.pattern.SizeBytes()
	})
	return total
}

// Clear migrates in-use entries to the Deferred Cache and destroys
// zero-refcount entries directly, then empties the backing store.
func (pc *PatternCache) Clear(metrics *Metrics) {
	type inUse struct {
		key     uint64
		pattern *CompiledPattern
	}
	var toDefer []inUse

	pc.rw.Lock()
	pc.store.forEach(func(key uint64, entry *patternEntry) {
		if entry.pattern.Refcount() == 0 {
			entry.pattern.closeProgram()
		} else {
			toDefer = append(toDefer, inUse{key, entry.pattern})
		}
	})
	pc.store.clear()
	pc.rw.Unlock()

	// As in evictTTL, the Deferred Cache's lock is taken only after rw is
	// released.
	for _, u := range toDefer {
		pc.deferred.Add(u.key, u.pattern, metrics)
	}
}

// SnapshotMetrics writes this cache's entry count, actual bytes, target
// bytes, utilization ratio, and backend flag into dst.
func (pc *PatternCache) SnapshotMetrics(dst *Metrics) {
	pc.rw.RLock()
	defer pc.rw.RUnlock()

	actual := pc.actualBytesLocked()
	dst.PatternCache.entryCount = uint64(pc.store.len())
	dst.PatternCache.actualSizeBytes = actual
	dst.PatternCache.targetBytes = pc.targetCapacityBytes
	dst.PatternCache.usingTBB = pc.usingTBB
	if pc.targetCapacityBytes > 0 {
		dst.PatternCache.utilizationRatio = float64(actual) / float64(pc.targetCapacityBytes)
	}
}

// Len reports the current entry count.
func (pc *PatternCache) Len() int {
	pc.rw.RLock()
	defer pc.rw.RUnlock()
	return pc.store.len()
}
