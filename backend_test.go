package regexcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendImplementations() map[string]func() backend[string] {
	return map[string]func() backend[string]{
		"lru":     func() backend[string] { return newLRUBackend[string]() },
		"striped": func() backend[string] { return newStripedBackend[string]() },
	}
}

func TestBackend_GetSetDelete(t *testing.T) {
	for name, make := range backendImplementations() {
		t.Run(name, func(t *testing.T) {
			b := make()

			_, ok := b.get(1)
			assert.False(t, ok)

			b.set(1, "one")
			v, ok := b.get(1)
			require.True(t, ok)
			assert.Equal(t, "one", v)

			b.delete(1)
			_, ok = b.get(1)
			assert.False(t, ok)
		})
	}
}

func TestBackend_LenAndClear(t *testing.T) {
	for name, make := range backendImplementations() {
		t.Run(name, func(t *testing.T) {
			b := make()
			b.set(1, "one")
			b.set(2, "two")
			b.set(3, "three")
			assert.Equal(t, 3, b.len())

			b.clear()
			assert.Equal(t, 0, b.len())
		})
	}
}

func TestBackend_ForEachVisitsAllEntries(t *testing.T) {
	for name, make := range backendImplementations() {
		t.Run(name, func(t *testing.T) {
			b := make()
			want := map[uint64]string{1: "a", 2: "b", 3: "c"}
			for k, v := range want {
				b.set(k, v)
			}

			got := map[uint64]string{}
			b.forEach(func(key uint64, val string) { got[key] = val })
			assert.Equal(t, want, got)
		})
	}
}

func TestBackend_FactorySelectsImplementationByFlag(t *testing.T) {
	_, isStriped := newBackend[string](true).(*stripedBackend[string])
	assert.True(t, isStriped)

	_, isLRU := newBackend[string](false).(*lruBackend[string])
	assert.True(t, isLRU)
}

func TestKeyString_RoundTripsThroughForEach(t *testing.T) {
	b := newStripedBackend[string]()
	b.set(123456789, "value")

	seen := false
	b.forEach(func(key uint64, val string) {
		if key == 123456789 {
			seen = true
			assert.Equal(t, "value", val)
		}
	})
	assert.True(t, seen)
}
