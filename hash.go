package regexcache

import "github.com/spaolacci/murmur3"

// Hash returns a 64-bit hash of data, deterministic across threads and
// process lifetime for the same (data, seed) pair. It is collision-resistant
// enough for caching, not cryptographic.
//
// Implemented with the MurmurHash3 x64 128-bit construction, keeping the
// first of the two returned halves (spec calls this "the low 64 bits of the
// 128-bit output").
func Hash(data []byte, seed uint64) uint64 {
	h1, _ := murmur3.Sum128WithSeed(data, uint32(seed))
	return h1
}

// caseMarkerSensitive and caseMarkerInsensitive are appended (never XORed in
// place) to pattern bytes before hashing, so that two distinct pattern
// strings can never collide into the same key merely because a marker byte
// happened to XOR one into the other. See DESIGN.md "PatternKey combiner".
const (
	caseMarkerSensitive   byte = 0x01
	caseMarkerInsensitive byte = 0x00
)

// PatternKey computes the cache identity of a (pattern, case-sensitivity) pair.
func PatternKey(pattern string, caseSensitive bool) uint64 {
	marker := caseMarkerInsensitive
	if caseSensitive {
		marker = caseMarkerSensitive
	}
	buf := make([]byte, len(pattern)+1)
	copy(buf, pattern)
	buf[len(pattern)] = marker
	return Hash(buf, 0)
}

// ResultKey combines a pattern hash and an input hash into a single cache
// identity, via a splitmix64-style mixer, so that the same input hash against
// two different patterns does not trivially collide.
func ResultKey(patternHash, inputHash uint64) uint64 {
	x := patternHash ^ (inputHash + 0x9e3779b97f4a7c15 + (patternHash << 6) + (patternHash >> 2))
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x = x ^ (x >> 31)
	return x
}

// HashBytes is a convenience wrapper for hashing arbitrary input bytes (e.g.
// a match subject) with the default seed, used by callers building a
// ResultKey from raw input.
func HashBytes(data []byte) uint64 {
	return Hash(data, 0)
}
