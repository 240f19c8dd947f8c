// Package seed derives stable pseudo-random values from strings. The same
// input always yields the same output on every platform and Go release.
package seed

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// Digest returns the SHA-256 digest of s.
func Digest(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// Uint32 returns the first four digest bytes of s as a big-endian integer.
// This equals parsing the first 8 hex characters of the hex digest.
func Uint32(s string) uint32 {
	sum := Digest(s)
	return binary.BigEndian.Uint32(sum[:4])
}

// Int64 returns the first eight digest bytes of s as a non-negative int64.
func Int64(s string) int64 {
	sum := Digest(s)
	return int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
}

// Rand returns a generator seeded from s. math/rand's seeded source is
// frozen by the Go 1 compatibility promise, so sequences are reproducible.
func Rand(s string) *rand.Rand {
	return rand.New(rand.NewSource(Int64(s)))
}
