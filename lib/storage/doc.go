// Package storage defines the storage port driven by the harness: a store that
// accepts timestamped records, deletes records by predicate and can be asked
// to checkpoint itself.
//
// Key Components:
//
//   - IRecordStore: the port. Every implementation must be safe for concurrent use
//     without any locking on the caller side.
//
//   - Predicates: OlderThan (age based, can be pushed down into SQL or replicated
//     as a command) and PredicateFunc (arbitrary Go code, only supported by
//     in-process stores, see FeatureDeleteWhere).
//
//   - Error: a typed error with a return code. RetCClosed is the only fatal code,
//     see IsFatal.
//
//   - Backend: Open and Clear bound to a location, so the harness can wipe a
//     previous run before opening the store.
//
// Related Packages:
//
//   - memstore: sharded in-memory store with snapshot checkpoints
//   - sqlstore: SQLite (modernc.org/sqlite) store with WAL checkpoints
//   - raftstore: dragonboat replicated store, checkpoint = raft snapshot
//   - chaos: decorator injecting failures, latency and stalls into any store
//   - testing: conformance suite run against every implementation
package storage
