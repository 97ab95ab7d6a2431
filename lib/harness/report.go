package harness

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// clearScreen moves the cursor home and clears the terminal
const clearScreen = "\033[H\033[2J"

// Status is one rendering of the run state
type Status struct {
	RunID         string
	Backend       string
	Elapsed       time.Duration
	ActiveWorkers int
	Stats         StatsSnapshot
	Rates         Rates
	StoreSize     int  // records held by the store
	HasStoreSize  bool // whether StoreSize was queried successfully
	Stale         StaleReport
	Threshold     time.Duration
	Final         bool
}

// Render writes the status view to w. With clear set the screen is cleared first,
// so that a terminal shows a continuously updated view.
func (s Status) Render(w io.Writer, clear bool) {
	var sb strings.Builder

	if clear && !s.Final {
		sb.WriteString(clearScreen)
	}

	title := "dHammer"
	if s.Final {
		title = "dHammer (final)"
	}
	sb.WriteString(fmt.Sprintf("%s | run %s | backend %s\n", title, s.RunID, s.Backend))
	sb.WriteString(fmt.Sprintf("  %-16s: %s\n", "Elapsed", s.Elapsed.Round(time.Second)))
	sb.WriteString(fmt.Sprintf("  %-16s: %d\n", "Insert Workers", s.ActiveWorkers))
	sb.WriteString(fmt.Sprintf("  %-16s: %d (%.0f/s 1m, %.0f/s mean)\n", "Inserted", s.Stats.Inserted, s.Rates.Insert1, s.Rates.InsertMn))
	sb.WriteString(fmt.Sprintf("  %-16s: %d (%.0f/s 1m, %.0f/s mean)\n", "Deleted", s.Stats.Deleted, s.Rates.Delete1, s.Rates.DeleteMn))

	if s.HasStoreSize {
		sb.WriteString(fmt.Sprintf("  %-16s: %d\n", "Records in Store", s.StoreSize))
	}

	if total := s.Stats.TotalErrors(); total > 0 {
		ops := make([]string, 0, len(s.Stats.Errors))
		for op := range s.Stats.Errors {
			ops = append(ops, string(op))
		}
		slices.Sort(ops)
		parts := make([]string, len(ops))
		for i, op := range ops {
			parts[i] = fmt.Sprintf("%s=%d", op, s.Stats.Errors[Op(op)])
		}
		sb.WriteString(fmt.Sprintf("  %-16s: %d (%s)\n", "Errors", total, strings.Join(parts, ", ")))
	}

	if s.Stale.Count > 0 {
		// both figures are minima over all stale workers, they may belong to different workers
		sb.WriteString(fmt.Sprintf("!!! %d workers have been inactive for at least %s (at least %s over their limit, threshold %s)\n",
			s.Stale.Count, s.Stale.MinAge.Round(time.Millisecond), s.Stale.MinExcess.Round(time.Millisecond), s.Threshold))
	}

	_, _ = io.WriteString(w, sb.String())
}

// status collects the current state of the run. It reads shared state only.
func (h *harness) status(now time.Time, final bool) Status {
	s := Status{
		RunID:         h.runID,
		Backend:       h.backend,
		Elapsed:       now.Sub(h.started),
		ActiveWorkers: h.pool.ActiveInsertWorkers(),
		Stats:         h.stats.Snapshot(),
		Rates:         h.metrics.Rates(),
		Stale:         h.liveness.Scan(now, h.cfg.StaleThreshold),
		Threshold:     h.cfg.StaleThreshold,
		Final:         final,
	}
	h.staleWorkers.Store(int64(s.Stale.Count))

	if h.cfg.ReportStoreSize && !final {
		if n, err := h.store.Count(); err == nil {
			s.StoreSize, s.HasStoreSize = n, true
		} else {
			log.Debugf("report: count failed: %v", err)
		}
	}
	return s
}
