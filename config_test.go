package regexcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_CollectsAllViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatternCacheTargetCapacityBytes = 0
	cfg.PatternCacheTTLMs = 0
	cfg.PatternCacheLRUBatchSize = 0
	cfg.DeferredCacheTTLMs = 100
	cfg.EvictionCheckIntervalMs = 0

	err := cfg.Validate()
	require.Error(t, err)

	var cve *ConfigValidationError
	require.ErrorAs(t, err, &cve)
	assert.GreaterOrEqual(t, len(cve.Reasons), 4, "should collect every violated rule, not just the first")
	assert.ErrorIs(t, err, ErrConfigValidation)
}

func TestConfig_Validate_DeferredTTLMustExceedPatternTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatternCacheTTLMs = 600000
	cfg.DeferredCacheTTLMs = 600000

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "deferred_cache_ttl_ms"))
}

func TestConfig_Validate_ResultCacheRulesOnlyApplyWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatternResultCacheEnabled = false
	cfg.PatternResultCacheTargetCapacityBytes = 0
	cfg.PatternResultCacheTTLMs = 0

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_AppliesDefaultsForOmittedKeys(t *testing.T) {
	doc := strings.NewReader(`
pattern_cache_use_tbb: true
`)
	cfg, err := LoadConfig(doc)
	require.NoError(t, err)
	assert.True(t, cfg.PatternCacheUseTBB)
	assert.Equal(t, uint64(100<<20), cfg.PatternCacheTargetCapacityBytes)
}

func TestLoadConfig_RejectsInvalidDocument(t *testing.T) {
	doc := strings.NewReader(`
deferred_cache_ttl_ms: 1
pattern_cache_ttl_ms: 5000
`)
	_, err := LoadConfig(doc)
	require.Error(t, err)
}

func TestLoadConfig_EmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
