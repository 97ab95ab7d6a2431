// Package harness implements the load generation engine of dHammer.
//
// A run hammers one storage.IRecordStore with many independent insert workers while
// three periodic tasks run next to them:
//
//   - delete: prunes every record older than the retention window
//   - checkpoint (optional): asks the store for a durability pass
//   - report: renders throughput and flags workers that stopped making progress
//
// The building blocks are:
//
//   - Canceller: the shared, write-once shutdown signal. Every task waits through
//     WaitOrCancelled, so shutdown takes at most one tick.
//   - LivenessTracker: last success per worker. A worker whose last success is older
//     than the stale threshold is reported, not restarted.
//   - Stats: inserted / deleted / error counters under one mutex, mirrored into Metrics.
//   - Pool: an arena of WorkerHandles keyed by WorkerID that can grow at runtime.
//   - Metrics: Prometheus series (VictoriaMetrics) and EWMA rates (go-metrics).
//
// Run is the supervisor: it clears and opens the store, starts the tasks, follows the
// Controls and guarantees teardown (cancel, join, final report, close) on every exit path.
//
// The harness never serializes calls into the store. Its concurrency control is what
// is under test; a call that hangs shows up as a stale worker.
package harness
