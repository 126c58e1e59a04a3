package regexcache

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// backend is the pluggable map abstraction shared by the Pattern Cache and
// Result Cache (spec.md §4.2/§4.3/§9 "pluggable concurrent-map backend").
// Implementations differ in locking granularity only; callers must not
// assume anything about backend-internal ordering beyond what forEach's
// snapshot provides.
type backend[V any] interface {
	get(key uint64) (V, bool)
	set(key uint64, val V)
	delete(key uint64)
	len() int
	// forEach visits a point-in-time snapshot of entries. The visit order
	// is backend-specific and carries no LRU meaning on its own — callers
	// needing LRU order sort the snapshot themselves by each entry's own
	// last-access timestamp.
	forEach(func(key uint64, val V))
	clear()
}

// lruBackend wraps hashicorp/golang-lru/v2 as a single-lock, mutex-guarded
// map. Its capacity is set far above any realistic working set so its own
// internal capacity-triggered eviction never fires; this cache's own
// TTL+batched-LRU pass (pattern_cache.go/result_cache.go) is the only
// evictor. Grounded on ipiton-alert-history-service's L1 template cache,
// which uses the same type the same way (a bounded LRU used as a plain
// thread-safe map, recency bookkeeping done by the caller).
type lruBackend[V any] struct {
	c *lru.Cache[uint64, V]
}

// unboundedCapacity is large enough that golang-lru's own LRU eviction
// never triggers in practice for a cache meant to hold at most a few
// hundred-megabytes-worth of compiled patterns or cached results.
const unboundedCapacity = 1 << 24

func newLRUBackend[V any]() *lruBackend[V] {
	c, err := lru.New[uint64, V](unboundedCapacity)
	if err != nil {
		// Only returns an error for size <= 0, which unboundedCapacity never is.
		panic(err)
	}
	return &lruBackend[V]{c: c}
}

func (b *lruBackend[V]) get(key uint64) (V, bool) { return b.c.Get(key) }
func (b *lruBackend[V]) set(key uint64, val V)    { b.c.Add(key, val) }
func (b *lruBackend[V]) delete(key uint64)        { b.c.Remove(key) }
func (b *lruBackend[V]) len() int                 { return b.c.Len() }
func (b *lruBackend[V]) clear()                   { b.c.Purge() }

func (b *lruBackend[V]) forEach(f func(key uint64, val V)) {
	for _, k := range b.c.Keys() {
		if v, ok := b.c.Peek(k); ok {
			f(k, v)
		}
	}
}

// stripedBackend wraps orcaman/concurrent-map/v2's sharded map, giving
// per-shard locking instead of one cache-wide RWMutex. This is the
// *_use_tbb=true variant spec.md calls the "striped concurrent map" /
// TBB-equivalent option. Keys are formatted base-36 since concurrent-map
// shards on string keys.
type stripedBackend[V any] struct {
	m cmap.ConcurrentMap[string, V]
}

func newStripedBackend[V any]() *stripedBackend[V] {
	return &stripedBackend[V]{m: cmap.New[V]()}
}

func keyString(key uint64) string { return strconv.FormatUint(key, 36) }

func (b *stripedBackend[V]) get(key uint64) (V, bool) { return b.m.Get(keyString(key)) }
func (b *stripedBackend[V]) set(key uint64, val V)    { b.m.Set(keyString(key), val) }
func (b *stripedBackend[V]) delete(key uint64)        { b.m.Remove(keyString(key)) }
func (b *stripedBackend[V]) len() int                 { return b.m.Count() }

func (b *stripedBackend[V]) clear() {
	for k := range b.m.Items() {
		b.m.Remove(k)
	}
}

func (b *stripedBackend[V]) forEach(f func(key uint64, val V)) {
	for k, v := range b.m.Items() {
		n, err := strconv.ParseUint(k, 36, 64)
		if err != nil {
			continue // unreachable: keyString is the only producer of these keys
		}
		f(n, v)
	}
}

// newBackend selects a backend implementation per the useStriped flag,
// which callers surface back out as the "using_tbb" metrics field.
func newBackend[V any](useStriped bool) backend[V] {
	if useStriped {
		return newStripedBackend[V]()
	}
	return newLRUBackend[V]()
}
