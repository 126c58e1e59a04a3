package regexcache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProgram tracks close calls and the count of closes observed,
// used to verify I1 (exactly-once destruction) and as the use-after-free
// probe for P2: MatchString after Close increments usedAfterClose.
type countingProgram struct {
	closes         atomic.Int32
	usedAfterClose atomic.Int32
	size           uint64
}

func (p *countingProgram) MatchString(s string) bool {
	if p.closes.Load() > 0 {
		p.usedAfterClose.Add(1)
	}
	return true
}
func (p *countingProgram) SizeBytes() uint64 { return p.size }
func (p *countingProgram) Close()            { p.closes.Add(1) }

func newCountingCompiledPattern() (*CompiledPattern, *countingProgram) {
	prog := &countingProgram{size: 128}
	return newCompiledPattern("pattern", true, prog), prog
}

func TestCompiledPattern_StartsAtRefcountOne(t *testing.T) {
	cp, _ := newCountingCompiledPattern()
	assert.EqualValues(t, 1, cp.Refcount())
}

func TestCompiledPattern_DropRefToZeroDoesNotCloseOnItsOwn(t *testing.T) {
	// dropRef only decrements. A pattern that reaches refcount zero may
	// still be resident in the Pattern Cache (a released-but-cached entry),
	// so closing is always a separate, explicit decision made by whoever
	// also knows the pattern is unreachable from any cache.
	cp, prog := newCountingCompiledPattern()

	n := cp.dropRef()
	assert.EqualValues(t, 0, n)
	assert.EqualValues(t, 0, prog.closes.Load())
}

func TestCompiledPattern_AddRefThenTwoDropRefsReachesZeroWithoutClosing(t *testing.T) {
	cp, prog := newCountingCompiledPattern()
	cp.addRef() // refcount now 2

	assert.EqualValues(t, 1, cp.dropRef())
	assert.EqualValues(t, 0, prog.closes.Load())

	assert.EqualValues(t, 0, cp.dropRef())
	assert.EqualValues(t, 0, prog.closes.Load(), "reaching zero refcount must not implicitly close the program")
}

func TestCompiledPattern_CloseProgramIsIdempotentUnderConcurrency(t *testing.T) {
	cp, prog := newCountingCompiledPattern()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp.closeProgram()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, prog.closes.Load(), "Program.Close must run exactly once regardless of concurrent callers")
}

func TestCompiledPattern_DropRefAloneNeverTriggersUseAfterFreeAcrossHolders(t *testing.T) {
	// P2, at the CompiledPattern layer: since dropRef never closes on its
	// own, no number of concurrent holders dropping their reference can
	// ever cause another holder's concurrent MatchString to observe a
	// closed program. (The cache-level version of P2 — a released-but-
	// still-cached entry staying open until the cache itself closes it —
	// is covered in pattern_cache_test.go.)
	cp, prog := newCountingCompiledPattern()

	const holders = 32
	cp.refcount.Store(0)
	cp.refcount.Add(holders) // simulate `holders` live callers, refcount = holders

	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, cp.MatchString("x"))
			cp.dropRef()
		}()
	}
	wg.Wait()

	require.EqualValues(t, 0, cp.Refcount())
	assert.EqualValues(t, 0, prog.closes.Load())
	assert.EqualValues(t, 0, prog.usedAfterClose.Load())
}

func TestPatternEntry_TouchUpdatesLastAccess(t *testing.T) {
	cp, _ := newCountingCompiledPattern()
	entry := newPatternEntry(cp)

	before := entry.lastAccess.Load()
	entry.touch()
	assert.GreaterOrEqual(t, entry.lastAccess.Load(), before)
}
