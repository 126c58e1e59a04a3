package regexcache

import (
	"sync/atomic"
	"time"
)

// CompiledPattern is an owned compiled regex program shared between the
// caller set and at most one of the Pattern Cache / Deferred Cache
// (invariant I2). Go has no destructor, so releasing the program is
// explicit: closeProgram calls Program.Close at most once, and reaching
// refcount zero does not call it by itself (see dropRef for which paths
// do).
type CompiledPattern struct {
	Pattern       string
	CaseSensitive bool

	program  Program
	refcount atomic.Int32 // does not count the cache's own ownership share

	closeOnce atomic.Bool
}

func newCompiledPattern(pattern string, caseSensitive bool, program Program) *CompiledPattern {
	cp := &CompiledPattern{
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
		program:       program,
	}
	cp.refcount.Store(1)
	return cp
}

// Refcount returns the current live-reference count. Safe to call from any
// goroutine; the value can change concurrently.
func (cp *CompiledPattern) Refcount() int32 { return cp.refcount.Load() }

// SizeBytes is the program's accounted byte cost for LRU budgeting.
func (cp *CompiledPattern) SizeBytes() uint64 { return cp.program.SizeBytes() }

// MatchString delegates to the underlying engine program. Safe to call
// concurrently with any number of other matches; the pattern is read-only
// after compilation.
func (cp *CompiledPattern) MatchString(s string) bool { return cp.program.MatchString(s) }

// addRef increments the refcount with acquire-release ordering. Per
// spec.md §4.2's refcount safety protocol, on a cache-hit lookup this MUST
// be called while the lookup's backend lock is still held.
func (cp *CompiledPattern) addRef() int32 { return cp.refcount.Add(1) }

// dropRef decrements the caller's refcount share and returns the
// post-decrement count. It does NOT close the program on its own: refcount
// reaching zero means no *caller* still holds this pattern, but it may
// still be resident and reachable from the Pattern Cache (a released entry
// is deliberately left cached for reuse — see evictLRU). Closing is the
// responsibility of whoever observes refcount==0 while also knowing the
// pattern is unreachable from any cache: the Pattern Cache's eviction/clear
// paths (which check Refcount()==0 before evicting a cache-resident entry)
// or, for a pattern that was never cached at all (cache_enabled=false),
// the caller's own release path.
func (cp *CompiledPattern) dropRef() int32 {
	return cp.refcount.Add(-1)
}

// closeProgram calls Program.Close at most once; any later call, from any
// goroutine, is a no-op (closeOnce).
func (cp *CompiledPattern) closeProgram() {
	if cp.closeOnce.CompareAndSwap(false, true) {
		cp.program.Close()
	}
}

// patternEntry is the Pattern Cache's slot wrapping a CompiledPattern with
// its last-access bookkeeping (spec.md §3 PatternEntry).
type patternEntry struct {
	pattern    *CompiledPattern
	lastAccess atomic.Int64 // UnixNano, monotonic-ish wall clock for TTL math
}

func newPatternEntry(cp *CompiledPattern) *patternEntry {
	e := &patternEntry{pattern: cp}
	e.touch()
	return e
}

func (e *patternEntry) touch() { e.lastAccess.Store(time.Now().UnixNano()) }

func (e *patternEntry) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastAccess.Load()))
}
