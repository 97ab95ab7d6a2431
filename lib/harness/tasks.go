package harness

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/ValentinKolb/dHammer/lib/util"
)

// --------------------------------------------------------------------------
// Insert worker
// --------------------------------------------------------------------------

// insertLoop writes one record per iteration and pauses for a random delay.
// Transient errors are counted and the loop goes on. Only a fatal error ends it.
func (h *harness) insertLoop(w *WorkerHandle) error {
	failing := false

	for {
		if h.canceller.IsCancelled() {
			return nil
		}

		start := time.Now()
		err := h.store.Insert(storage.Record{Timestamp: start})
		if err != nil {
			h.stats.AddError(OpInsert)
			if storage.IsFatal(err) {
				return fmt.Errorf("insert: %w", err)
			}
			// only the first error of a failing streak is logged, the report shows the counts
			if !failing {
				log.Warningf("%s: insert failed: %v", w.Name, err)
				failing = true
			}
		} else {
			h.metrics.ObserveInsert(time.Since(start))
			h.stats.AddInserted(1)
			w.inserted.Add(1)
			h.liveness.Touch(w.ID)
			if failing {
				log.Infof("%s: inserts succeed again", w.Name)
				failing = false
			}
		}

		pause := util.RandomDuration(h.cfg.InsertDelayMin, h.cfg.InsertDelayMax)
		if h.canceller.WaitOrCancelled(pause) == Cancelled {
			return nil
		}
	}
}

// --------------------------------------------------------------------------
// Periodic tasks
// --------------------------------------------------------------------------

// periodic runs tick every interval (shifted by jitter) until cancellation.
// A nil error from tick counts as success and touches the liveness of the task with
// a grace of one full (jittered) interval. A fatal error ends the loop.
func (h *harness) periodic(w *WorkerHandle, op Op, interval time.Duration, tick func() error) error {
	grace := interval + time.Duration(float64(interval)*h.cfg.Jitter)

	for {
		if h.canceller.WaitOrCancelled(util.Jitter(interval, h.cfg.Jitter)) == Cancelled {
			return nil
		}

		if err := tick(); err != nil {
			h.stats.AddError(op)
			if storage.IsFatal(err) {
				return fmt.Errorf("%s: %w", op, err)
			}
			log.Warningf("%s: %s failed: %v", w.Name, op, err)
			continue
		}
		h.liveness.TouchWithGrace(w.ID, grace)
	}
}

// deleteLoop prunes every record older than the retention window
func (h *harness) deleteLoop(w *WorkerHandle) error {
	return h.periodic(w, OpDelete, h.cfg.DeleteInterval, func() error {
		cutoff := time.Now().Add(-h.cfg.Retention)
		n, err := h.store.DeleteWhere(storage.OlderThan{Cutoff: cutoff})
		if err != nil {
			return err
		}
		h.stats.AddDeleted(n)
		log.Debugf("%s: deleted %d records older than %s", w.Name, n, cutoff.Format(time.TimeOnly))
		return nil
	})
}

// checkpointLoop asks the store for a durability pass
func (h *harness) checkpointLoop(w *WorkerHandle) error {
	return h.periodic(w, OpCheckpoint, h.cfg.CheckpointInterval, func() error {
		start := time.Now()
		if err := h.store.Checkpoint(); err != nil {
			return err
		}
		log.Debugf("%s: checkpoint took %s", w.Name, time.Since(start).Round(time.Microsecond))
		return nil
	})
}

// reportLoop renders the status every interval. It only reads shared state.
func (h *harness) reportLoop(_ *WorkerHandle) error {
	for {
		if h.canceller.WaitOrCancelled(util.Jitter(h.cfg.ReportInterval, h.cfg.Jitter)) == Cancelled {
			return nil
		}
		h.status(time.Now(), false).Render(h.out, h.clearScreen)
	}
}
