// Package raftstore implements storage.IRecordStore on top of a Dragonboat RAFT group.
//
// The store has two parts:
//
//   - Store Client: serializes inserts and deletes into internal.Command entries and
//     proposes them with SyncPropose. Proposals rejected with ErrSystemBusy are retried.
//     Count is answered by a StaleRead of the local replica.
//
//   - State Machine: a Dragonboat IConcurrentStateMachine holding a memstore.Store.
//     The raft log index of an insert becomes the record id, so ids are identical on
//     every replica. Snapshots are fuzzy and reuse the memstore snapshot format.
//
// Checkpoint maps to SyncRequestSnapshot, which also compacts the raft log.
//
// Only OlderThan predicates are supported by DeleteWhere: a Go function can not be
// shipped through the raft log, so PredicateFunc fails with RetCUnsupportedOperation.
//
// NewBackend runs a single replica group, which is enough to put the full consensus
// path (log append, fsync, apply) under load.
package raftstore
