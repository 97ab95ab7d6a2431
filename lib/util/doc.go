// Package util provides small helpers shared by the storage backends and the harness.
//
// The package contains:
//   - functions: seed generation, FNV-1a hashing for shard placement and randomized
//     durations (insert pauses, interval jitter)
//   - statistics: summary statistics and a distribution quality score used to rate
//     how evenly records are spread over shards and inserts over workers
package util
