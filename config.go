package regexcache

import (
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the immutable parameter bundle governing cache behavior. Zero
// value is never valid; build one with DefaultConfig or LoadConfig.
type Config struct {
	CacheEnabled bool `yaml:"cache_enabled"`

	PatternResultCacheEnabled              bool   `yaml:"pattern_result_cache_enabled"`
	PatternResultCacheTargetCapacityBytes  uint64 `yaml:"pattern_result_cache_target_capacity_bytes" validate:"gte=0"`
	PatternResultCacheStringThresholdBytes uint64 `yaml:"pattern_result_cache_string_threshold_bytes" validate:"gte=0"`
	PatternResultCacheTTLMs                int64  `yaml:"pattern_result_cache_ttl_ms"`
	PatternResultCacheUseTBB                bool   `yaml:"pattern_result_cache_use_tbb"`

	PatternCacheTargetCapacityBytes uint64 `yaml:"pattern_cache_target_capacity_bytes" validate:"gte=0"`
	PatternCacheTTLMs               int64  `yaml:"pattern_cache_ttl_ms"`
	PatternCacheUseTBB               bool   `yaml:"pattern_cache_use_tbb"`
	PatternCacheLRUBatchSize         uint64 `yaml:"pattern_cache_lru_batch_size" validate:"gte=0"`

	DeferredCacheTTLMs int64 `yaml:"deferred_cache_ttl_ms"`

	AutoStartEvictionThread  bool  `yaml:"auto_start_eviction_thread"`
	EvictionCheckIntervalMs int64 `yaml:"eviction_check_interval_ms"`
}

// DefaultConfig returns the all-defaults bundle from the configuration table.
func DefaultConfig() *Config {
	return &Config{
		CacheEnabled: true,

		PatternResultCacheEnabled:              true,
		PatternResultCacheTargetCapacityBytes:  100 << 20,
		PatternResultCacheStringThresholdBytes: 10 << 10,
		PatternResultCacheTTLMs:                300000,
		PatternResultCacheUseTBB:                false,

		PatternCacheTargetCapacityBytes: 100 << 20,
		PatternCacheTTLMs:               300000,
		PatternCacheUseTBB:               false,
		PatternCacheLRUBatchSize:         100,

		DeferredCacheTTLMs: 600000,

		AutoStartEvictionThread:  true,
		EvictionCheckIntervalMs: 100,
	}
}

var structValidator = validator.New()

// Validate checks the struct-tag rules plus the cross-field rules spec.md
// §6 requires (byte capacities/TTLs non-zero when their cache is enabled,
// lru_batch_size non-zero, deferred TTL strictly exceeding pattern TTL,
// positive eviction interval). All violations are collected, not just the
// first, so a caller fixing a document sees every problem in one pass.
func (c *Config) Validate() error {
	var reasons []string

	if err := structValidator.Struct(c); err != nil {
		reasons = append(reasons, err.Error())
	}

	if c.PatternResultCacheEnabled {
		if c.PatternResultCacheTargetCapacityBytes == 0 {
			reasons = append(reasons, "pattern_result_cache_target_capacity_bytes must be > 0 when pattern_result_cache_enabled")
		}
		if c.PatternResultCacheTTLMs <= 0 {
			reasons = append(reasons, "pattern_result_cache_ttl_ms must be > 0 when pattern_result_cache_enabled")
		}
	}

	if c.PatternCacheTargetCapacityBytes == 0 {
		reasons = append(reasons, "pattern_cache_target_capacity_bytes must be > 0")
	}
	if c.PatternCacheTTLMs <= 0 {
		reasons = append(reasons, "pattern_cache_ttl_ms must be > 0")
	}
	if c.PatternCacheLRUBatchSize == 0 {
		reasons = append(reasons, "pattern_cache_lru_batch_size must be > 0")
	}

	if c.DeferredCacheTTLMs <= c.PatternCacheTTLMs {
		reasons = append(reasons, "deferred_cache_ttl_ms must exceed pattern_cache_ttl_ms")
	}

	if c.EvictionCheckIntervalMs <= 0 {
		reasons = append(reasons, "eviction_check_interval_ms must be > 0")
	}

	if len(reasons) > 0 {
		return newConfigValidationError(reasons...)
	}
	return nil
}

// LoadConfig parses a declarative YAML (or JSON, which is valid YAML)
// document, applies defaults for omitted keys, validates the result, and
// returns the validated Config. Reject at parse time per spec.md §6.
func LoadConfig(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("regexcache: reading config document: %w", err)
	}

	cfg := DefaultConfig()
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("regexcache: parsing config document: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// patternCacheTTL, deferredCacheTTL, and resultCacheTTL are small
// helpers converting the millisecond config fields to time.Duration at the
// point of use, keeping the Config struct itself a plain serializable
// document (no time.Duration fields, so round-tripping through YAML/JSON
// never depends on duration string parsing quirks).
func (c *Config) patternCacheTTL() time.Duration {
	return time.Duration(c.PatternCacheTTLMs) * time.Millisecond
}

func (c *Config) deferredCacheTTL() time.Duration {
	return time.Duration(c.DeferredCacheTTLMs) * time.Millisecond
}

func (c *Config) resultCacheTTL() time.Duration {
	return time.Duration(c.PatternResultCacheTTLMs) * time.Millisecond
}

func (c *Config) evictionInterval() time.Duration {
	return time.Duration(c.EvictionCheckIntervalMs) * time.Millisecond
}
