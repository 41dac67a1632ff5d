package stream

import (
	"hash/fnv"
	"math"
	"math/bits"
)

// DefaultLinearCounterBits is the bitset size used when none is given.
const DefaultLinearCounterBits = 2048

// LinearCounter approximates the number of distinct keys with linear
// counting over a fixed bitset. Keys are hashed with 32-bit FNV-1a and
// only bit positions are retained. Bits are set, never cleared.
type LinearCounter struct {
	words []uint64
	m     uint32
}

// NewLinearCounter creates a counter with at least the given number of
// bits, rounded up to a multiple of 64.
func NewLinearCounter(bitCount int) *LinearCounter {
	if bitCount <= 0 {
		bitCount = DefaultLinearCounterBits
	}
	words := (bitCount + 63) / 64
	return &LinearCounter{
		words: make([]uint64, words),
		m:     uint32(words * 64),
	}
}

// Bits returns the bitset size m.
func (lc *LinearCounter) Bits() int {
	return int(lc.m)
}

// Add records key.
func (lc *LinearCounter) Add(key string) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	pos := h.Sum32() % lc.m
	lc.words[pos/64] |= 1 << (pos % 64)
}

// zeros returns the number of unset bits.
func (lc *LinearCounter) zeros() int {
	set := 0
	for _, w := range lc.words {
		set += bits.OnesCount64(w)
	}
	return int(lc.m) - set
}

// Saturated reports whether every bit is set; Estimate then returns m.
func (lc *LinearCounter) Saturated() bool {
	return lc.zeros() == 0
}

// Estimate returns round(-m * ln(z/m)), or m when saturated.
func (lc *LinearCounter) Estimate() uint64 {
	z := lc.zeros()
	m := float64(lc.m)
	if z == 0 {
		return uint64(lc.m)
	}
	return uint64(math.Round(-m * math.Log(float64(z)/m)))
}

// Merge ORs other into lc. Both counters must have the same size.
func (lc *LinearCounter) Merge(other *LinearCounter) bool {
	if other == nil || other.m != lc.m {
		return false
	}
	for i, w := range other.words {
		lc.words[i] |= w
	}
	return true
}
