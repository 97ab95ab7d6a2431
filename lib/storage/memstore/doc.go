// Package memstore implements storage.IRecordStore as a sharded in-memory store.
//
// Records are spread over runtime.NumCPU() shards, each a lock-free xsync map from
// record id to creation time. Ids are handed out by an atomic counter and hashed
// onto shards, so concurrent inserts of many workers land in different shards.
//
// Key Components:
//
//   - Store: the store itself. Insert, DeleteWhere, Count and Checkpoint are safe
//     for concurrent use. DeleteWhere scans all shards in parallel and only counts
//     records it removed itself, so concurrent deletes never double count.
//
//   - Snapshots: Save writes a fuzzy binary snapshot (no global lock, concurrent
//     writes continue), Load restores it. Checkpoint writes the snapshot to
//     <location>/records.snap through a temp file, fsync and rename.
//
//   - Put: inserts with a caller chosen id. The raft store uses it to apply
//     replicated inserts deterministically on every replica.
package memstore
