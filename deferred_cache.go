package regexcache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// deferredEntry holds a CompiledPattern that was evicted from the Pattern
// Cache while still in use (spec.md §3 DeferredEntry).
type deferredEntry struct {
	pattern         *CompiledPattern
	enteredDeferred time.Time
	sizeBytes       uint64
}

// DeferredCache parks patterns evicted from the Pattern Cache while their
// refcount is still positive, destroying them once the last caller releases
// (or, past a safety horizon, forcing the issue and logging a leak
// diagnostic). Backed by a single sync.RWMutex-guarded map per spec.md
// §4.4's own guidance — volumes here are low by construction (only
// in-use-at-eviction-time patterns ever land here), so the concurrent-map
// machinery backend.go offers for the other two caches is unnecessary.
type DeferredCache struct {
	mu      sync.RWMutex
	entries map[uint64]*deferredEntry

	ttl    time.Duration
	logger *slog.Logger
}

// NewDeferredCache constructs a DeferredCache with the given forced-eviction
// safety horizon. ttl must exceed the Pattern Cache's own TTL (validated at
// Config parse time, not re-checked here).
func NewDeferredCache(ttl time.Duration, logger *slog.Logger) *DeferredCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeferredCache{
		entries: make(map[uint64]*deferredEntry),
		ttl:     ttl,
		logger:  logger,
	}
}

// Add inserts a deferred entry for key, stamped with the current time. A
// second Add for an already-present key is a no-op (idempotent) — the
// Pattern Cache's eviction pass can only migrate a given key once per sweep,
// but guarding here keeps the contract explicit.
func (d *DeferredCache) Add(key uint64, pattern *CompiledPattern, metrics *Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[key]; exists {
		return
	}
	d.entries[key] = &deferredEntry{
		pattern:         pattern,
		enteredDeferred: time.Now(),
		sizeBytes:       pattern.SizeBytes(),
	}
	metrics.DeferredCache.totalEntriesAdded.Add(1)
}

// Evict closes and removes every entry whose refcount has reached zero
// (immediate), and removes any entry that has outlived the forced-eviction
// safety horizon regardless of refcount (a leak signal — some caller is
// holding a reference past the deferred TTL). Returns the number of entries
// removed.
//
// Forced eviction is a defined correctness escape hatch, not a violation of
// I1: it drops only the Deferred Cache's bookkeeping. It neither decrements
// the refcount (Add never took a share of its own) nor closes the program,
// so the leaking caller's reference stays valid — the diagnostic exists to
// surface that a caller never released.
func (d *DeferredCache) Evict(now time.Time, metrics *Metrics) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for key, entry := range d.entries {
		switch {
		case entry.pattern.Refcount() == 0:
			entry.pattern.closeProgram()
			delete(d.entries, key)
			metrics.DeferredCache.immediateEvictions.Add(1)
			metrics.DeferredCache.immediateBytesFreed.Add(entry.sizeBytes)
			evicted++
		case now.Sub(entry.enteredDeferred) > d.ttl:
			age := now.Sub(entry.enteredDeferred)
			refcount := entry.pattern.Refcount()
			delete(d.entries, key)
			metrics.DeferredCache.forcedEvictions.Add(1)
			metrics.DeferredCache.forcedBytesFreed.Add(entry.sizeBytes)
			evicted++
			d.logger.Warn("regexcache: forced eviction of a pattern still referenced past the deferred safety horizon",
				"pattern", entry.pattern.Pattern,
				"age", age,
				"refcount", refcount,
			)
		}
	}
	return evicted
}

// Clear drops every entry's bookkeeping unconditionally. The Deferred Cache
// never holds a refcount share of its own (Add does not addRef, mirroring
// the forced-eviction path in Evict), so Clear must not dropRef either —
// doing so would decrement a reference a caller still legitimately holds.
// An entry already at refcount zero is closed here since nothing else will
// ever observe it again once its bookkeeping is gone; an entry with a live
// caller is simply forgotten, left for that caller's own eventual Release
// to free (same leak-tolerant contract as a forced eviction). Used by
// Manager teardown (spec.md §4.6 destruction order step 4) and by
// ClearAll's state-preserving reset, where callers may still be live.
func (d *DeferredCache) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, entry := range d.entries {
		if entry.pattern.Refcount() == 0 {
			entry.pattern.closeProgram()
		}
		delete(d.entries, key)
	}
}

// SnapshotMetrics writes this cache's entry count and total accounted bytes
// into dst. Called either by the Eviction Thread each cycle (against the
// shared Metrics) or by Manager.GetMetricsJSON (against a private, freshly
// allocated Metrics) — see metrics.go doc comment.
func (d *DeferredCache) SnapshotMetrics(dst *Metrics) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var totalBytes uint64
	for _, entry := range d.entries {
		totalBytes += entry.sizeBytes
	}
	dst.DeferredCache.entryCount = uint64(len(d.entries))
	dst.DeferredCache.actualSizeBytes = totalBytes
}

// Len reports the current entry count.
func (d *DeferredCache) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Dump returns a human-readable listing of every parked entry, for
// debugging leak investigations (spec.md §4.4 dump()).
func (d *DeferredCache) Dump() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lines := make([]string, 0, len(d.entries))
	now := time.Now()
	for key, entry := range d.entries {
		lines = append(lines, fmt.Sprintf(
			"key=%d pattern=%q refcount=%d age=%s size_bytes=%d",
			key, entry.pattern.Pattern, entry.pattern.Refcount(), now.Sub(entry.enteredDeferred), entry.sizeBytes,
		))
	}
	return lines
}
