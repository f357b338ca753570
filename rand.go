package streaming

import (
	"crypto/rand"
	"encoding/binary"
)

// CryptoRandomSource is the default RandomSource, backed by crypto/rand.
// Streaming.cpp seeds lease selection from the router's own CSPRNG
// (i2p::context.GetRandomNumberGenerator()); this is the Go equivalent the
// SUPPLEMENTED FEATURES note in SPEC_FULL.md calls for.
type CryptoRandomSource struct{}

// GenerateWord32 returns a uniformly distributed value in [lo, hi], the
// same half-open-made-inclusive contract as i2pd's GenerateWord32(lo, hi).
func (CryptoRandomSource) GenerateWord32(lo, hi uint32) uint32 {
	if hi <= lo {
		return lo
	}
	span := uint64(hi-lo) + 1
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return lo
	}
	v := uint64(binary.BigEndian.Uint32(buf[:]))
	return lo + uint32(v%span)
}
