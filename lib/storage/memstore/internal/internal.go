package internal

import (
	"github.com/ValentinKolb/dHammer/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Shard Type (partition of the store)
// --------------------------------------------------------------------------

// Shard represents a partition of the store.
// Data maps a record id to the records creation time (unix nanoseconds).
type Shard struct {
	Data *xsync.MapOf[uint64, int64]
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOfWithHasher[uint64, int64](util.HashUint64),
	}
}

// GetShard returns the appropriate shard for a given (hashed) key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hashedKey uint64, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := hashedKey >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
