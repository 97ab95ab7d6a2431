// Package chaos provides a storage.IRecordStore decorator that injects faults
// into any record store:
//
//   - FailRate: each call fails with a transient error with the given probability.
//   - LatencyMax: each call is delayed by a random duration up to the bound.
//   - StallAfter: once that many inserts succeeded, every further insert blocks
//     until the store is closed. This is how a hung worker is simulated.
//   - FatalAfter: once that many inserts succeeded, every call fails with a
//     RetCClosed error, which the harness treats as fatal.
//
// Count is exempt from latency and random failures.
package chaos
