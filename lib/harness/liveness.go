package harness

import (
	"time"

	"github.com/ValentinKolb/dHammer/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// WorkerID identifies a task of the run. Ids are assigned by the Pool and never reused.
type WorkerID uint64

type livenessEntry struct {
	last  int64         // unix nanos of the last success
	grace time.Duration // added to the stale threshold for this worker
}

// LivenessTracker remembers, per worker, when its last operation succeeded.
// Entries appear with the first success and are never removed: a worker that
// stops making progress becomes stale, not absent.
//
// Thread-safety: Touch and Scan may run concurrently. Each worker only writes its
// own key, the map is striped so writers of different keys do not contend.
type LivenessTracker struct {
	entries *xsync.MapOf[WorkerID, livenessEntry]
}

// NewLivenessTracker creates an empty tracker
func NewLivenessTracker() *LivenessTracker {
	seed := util.GenerateSeed()
	return &LivenessTracker{
		entries: xsync.NewMapOfWithHasher[WorkerID, livenessEntry](func(id WorkerID, _ uint64) uint64 {
			return util.HashUint64(uint64(id), seed)
		}),
	}
}

// Touch records a success of worker id now
func (l *LivenessTracker) Touch(id WorkerID) {
	l.TouchWithGrace(id, 0)
}

// TouchWithGrace records a success of worker id now. The worker is only reported
// once it has been inactive for longer than the stale threshold plus grace.
// Periodic tasks pass their interval here since they are idle between two runs.
func (l *LivenessTracker) TouchWithGrace(id WorkerID, grace time.Duration) {
	l.touchAt(id, time.Now(), grace)
}

func (l *LivenessTracker) touchAt(id WorkerID, t time.Time, grace time.Duration) {
	l.entries.Store(id, livenessEntry{last: t.UnixNano(), grace: grace})
}

// LastSuccess returns the time of the last success of worker id
func (l *LivenessTracker) LastSuccess(id WorkerID) (time.Time, bool) {
	e, ok := l.entries.Load(id)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, e.last), true
}

// Len returns the number of workers that succeeded at least once
func (l *LivenessTracker) Len() int {
	return l.entries.Size()
}

// StaleReport summarizes the stale workers found by Scan
type StaleReport struct {
	Count     int           // number of stale workers
	MinAge    time.Duration // smallest time since the last success among stale workers
	MinExcess time.Duration // smallest amount by which a stale worker exceeds its limit
	IDs       []WorkerID    // the stale workers (unordered)
}

// Scan checks every entry against threshold. A worker is stale if now minus its
// last success is strictly greater than threshold plus its grace.
// Scan is a pure read, it does not change any entry.
func (l *LivenessTracker) Scan(now time.Time, threshold time.Duration) StaleReport {
	var r StaleReport
	nowNs := now.UnixNano()

	l.entries.Range(func(id WorkerID, e livenessEntry) bool {
		age := time.Duration(nowNs - e.last)
		limit := threshold + e.grace
		if age <= limit {
			return true
		}

		excess := age - limit
		if r.Count == 0 || age < r.MinAge {
			r.MinAge = age
		}
		if r.Count == 0 || excess < r.MinExcess {
			r.MinExcess = excess
		}
		r.Count++
		r.IDs = append(r.IDs, id)
		return true
	})
	return r
}
