package regexcache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, mutate func(cfg *Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AutoStartEvictionThread = false
	if mutate != nil {
		mutate(cfg)
	}
	mgr, err := NewManager(cfg, NewStdlibEngine(), silentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatternCacheTTLMs = 0

	_, err := NewManager(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNewManager_AutoStartsEvictionThreadWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoStartEvictionThread = true
	mgr, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	assert.True(t, mgr.IsEvictionRunning())
}

func TestNewManager_DoesNotAutoStartWhenDisabled(t *testing.T) {
	mgr := newTestManager(t, nil)
	assert.False(t, mgr.IsEvictionRunning())
}

func TestManager_MatchHitsResultCacheOnSecondCall(t *testing.T) {
	mgr := newTestManager(t, nil)

	ok, err := mgr.Match("^foo$", true, []byte("foo"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mgr.Match("^foo$", true, []byte("bar"))
	require.NoError(t, err)
	assert.False(t, ok)

	doc, err := mgr.GetMetricsJSON()
	require.NoError(t, err)

	var parsed MetricsDocument
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	assert.EqualValues(t, 2, parsed.PatternCache.Hits+parsed.PatternCache.Misses)

	ok, err = mgr.Match("^foo$", true, []byte("foo"))
	require.NoError(t, err)
	assert.True(t, ok)

	doc, err = mgr.GetMetricsJSON()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	assert.EqualValues(t, 1, parsed.PatternResultCache.Hits)
}

func TestManager_GetMetricsJSON_SchemaShape(t *testing.T) {
	mgr := newTestManager(t, nil)
	_, err := mgr.Match("a+", true, []byte("aaa"))
	require.NoError(t, err)

	doc, err := mgr.GetMetricsJSON()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	for _, key := range []string{"pattern_result_cache", "pattern_cache", "deferred_cache", "generated_at"} {
		assert.Contains(t, parsed, key)
	}
}

func TestManager_GetMetricsJSON_TotalEvictionsEqualsTTLPlusLRU(t *testing.T) {
	mgr := newTestManager(t, func(cfg *Config) { cfg.PatternCacheTTLMs = 1 })
	cp, err := mgr.patternCache.GetOrCompile("a+", true, mgr.metrics)
	require.NoError(t, err)
	mgr.patternCache.Release(cp, mgr.metrics)

	mgr.patternCache.Evict(time.Now().Add(time.Hour), mgr.metrics)

	doc, err := mgr.GetMetricsJSON()
	require.NoError(t, err)
	var parsed MetricsDocument
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))

	assert.Equal(t,
		parsed.PatternCache.Evictions.TTL+parsed.PatternCache.Evictions.LRU,
		parsed.PatternCache.Evictions.TotalEvictions,
	)
}

func TestManager_ClearAllIsStatePreserving(t *testing.T) {
	mgr := newTestManager(t, func(cfg *Config) { cfg.AutoStartEvictionThread = true })
	assert.True(t, mgr.IsEvictionRunning())

	_, err := mgr.Match("a+", true, []byte("aaa"))
	require.NoError(t, err)

	mgr.ClearAll()

	assert.True(t, mgr.IsEvictionRunning(), "ClearAll must restart the sweep since it was running before the call")
	assert.Equal(t, 0, mgr.PatternCache().Len())
	assert.Equal(t, 0, mgr.ResultCache().Len())
}

func TestManager_ClearAllLeavesStoppedSweepStopped(t *testing.T) {
	mgr := newTestManager(t, nil)
	assert.False(t, mgr.IsEvictionRunning())

	mgr.ClearAll()
	assert.False(t, mgr.IsEvictionRunning())
}

func TestManager_CollectorRegistersWithoutPanicking(t *testing.T) {
	mgr := newTestManager(t, nil)
	_, err := mgr.Match("a+", true, []byte("aaa"))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(mgr.Collector()))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestManager_MetricsSnapshotStableUnderConcurrentAccess(t *testing.T) {
	// Property 6: every GetMetricsJSON call during concurrent traffic must
	// parse cleanly and never show a negative counter.
	mgr := newTestManager(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = mgr.Match("pattern", true, []byte("input"))
			}
		}(i)
	}

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := mgr.GetMetricsJSON()
			if err != nil {
				errs <- err
				return
			}
			var parsed MetricsDocument
			if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("metrics snapshot failed: %v", err)
	}
}
