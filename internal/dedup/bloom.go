// Package dedup implements the two-stage duplicate detector that guards
// the mesh against relay loops: an exact-match LRU of recent message ids
// in front of a Bloom filter, with grace-period filter rotation so a reset
// never opens a window for stale frames to loop back in.
package dedup

import (
	"encoding/binary"
	"math"

	"github.com/peerwave/peerwave/internal/crypto"
)

// Bloom is a fixed-size Bloom filter over 128-bit message ids. False
// positives are possible; false negatives are not while the filter is live.
type Bloom struct {
	bits      []uint64
	size      uint64 // number of bits
	hashCount int
	setBits   uint64
	inserts   uint64
}

// NewBloom allocates a filter with the given bit size and hash count.
func NewBloom(size uint64, hashCount int) *Bloom {
	if size == 0 {
		size = 1
	}
	if hashCount < 1 {
		hashCount = 1
	}
	return &Bloom{
		bits:      make([]uint64, (size+63)/64),
		size:      size,
		hashCount: hashCount,
	}
}

// indexes derives the k bit positions for an id by double hashing over the
// SHA-256 of the id.
func (b *Bloom) indexes(id [16]byte) []uint64 {
	sum := crypto.SHA256(id[:])
	h1 := binary.LittleEndian.Uint64(sum[0:8])
	h2 := binary.LittleEndian.Uint64(sum[8:16]) | 1 // odd, so it cycles all bits

	idx := make([]uint64, b.hashCount)
	for i := range idx {
		idx[i] = (h1 + uint64(i)*h2) % b.size
	}
	return idx
}

// Add inserts an id.
func (b *Bloom) Add(id [16]byte) {
	for _, i := range b.indexes(id) {
		word, bit := i/64, i%64
		if b.bits[word]&(1<<bit) == 0 {
			b.bits[word] |= 1 << bit
			b.setBits++
		}
	}
	b.inserts++
}

// Contains reports whether the id may have been inserted.
func (b *Bloom) Contains(id [16]byte) bool {
	for _, i := range b.indexes(id) {
		if b.bits[i/64]&(1<<(i%64)) == 0 {
			return false
		}
	}
	return true
}

// FillRatio is the fraction of bits set.
func (b *Bloom) FillRatio() float64 {
	return float64(b.setBits) / float64(b.size)
}

// FalsePositiveRate estimates the current false positive probability as
// fill^k.
func (b *Bloom) FalsePositiveRate() float64 {
	return math.Pow(b.FillRatio(), float64(b.hashCount))
}
