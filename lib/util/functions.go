package util

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock, only if the system source is unavailable
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashUint64 spreads a (usually sequential) integer id over the full 64 bit range.
// This function uses the FNV-1a hash algorithm over the little endian bytes of id.
func HashUint64(id uint64, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < 8; i++ {
		hash ^= (id >> (8 * i)) & 0xff
		hash *= prime64
	}
	return hash
}

// --------------------------------------------------------------------------
// Randomized Durations
// --------------------------------------------------------------------------

// RandomDuration returns a uniformly distributed duration in [min, max].
// If max <= min, min is returned.
//
// Thread-safety: This function is safe for concurrent use.
func RandomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(mrand.Int64N(int64(max-min)+1))
}

// Jitter returns interval shifted by a random offset of at most fraction*interval
// in either direction. The result is never below one millisecond.
//
// Thread-safety: This function is safe for concurrent use.
func Jitter(interval time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || interval <= 0 {
		return interval
	}
	spread := time.Duration(float64(interval) * fraction)
	d := RandomDuration(interval-spread, interval+spread)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
