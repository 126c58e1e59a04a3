package regexcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_Deterministic(t *testing.T) {
	data := []byte("the quick brown fox")
	a := Hash(data, 0)
	b := Hash(data, 0)
	assert.Equal(t, a, b)
}

func TestHash_SeedChangesOutput(t *testing.T) {
	data := []byte("the quick brown fox")
	assert.NotEqual(t, Hash(data, 0), Hash(data, 1))
}

func TestPatternKey_CaseMarkerDistinguishesSensitivity(t *testing.T) {
	sensitive := PatternKey("abc", true)
	insensitive := PatternKey("abc", false)
	assert.NotEqual(t, sensitive, insensitive)
}

func TestPatternKey_DifferentPatternsDiffer(t *testing.T) {
	assert.NotEqual(t, PatternKey("abc", true), PatternKey("abd", true))
}

func TestResultKey_OrderAndPatternSensitive(t *testing.T) {
	patternA := PatternKey("a+", true)
	patternB := PatternKey("b+", true)
	inputHash := HashBytes([]byte("input"))

	// Same input hash under two different pattern hashes must not collide
	// trivially (spec.md §4.1).
	assert.NotEqual(t, ResultKey(patternA, inputHash), ResultKey(patternB, inputHash))

	// Swapping the two arguments gives a different key.
	assert.NotEqual(t, ResultKey(patternA, inputHash), ResultKey(inputHash, patternA))
}

func TestResultKey_Deterministic(t *testing.T) {
	a := ResultKey(111, 222)
	b := ResultKey(111, 222)
	assert.Equal(t, a, b)
}

func TestHashBytes_EmptyInput(t *testing.T) {
	// Must not panic on an empty slice, and must be stable.
	assert.Equal(t, HashBytes(nil), HashBytes([]byte{}))
}
