package harness

import (
	"maps"
	"sync"
)

// Op names a Storage Port operation in error counters and metrics
type Op string

const (
	OpInsert     Op = "insert"
	OpDelete     Op = "delete"
	OpCheckpoint Op = "checkpoint"
)

// Stats aggregates the totals of a run.
// All fields share one mutex, so a Snapshot reads inserted, deleted and the error
// counters at the same instant.
//
// Every change is mirrored into the run's Metrics (if any).
type Stats struct {
	mu       sync.Mutex
	inserted uint64
	deleted  uint64
	errors   map[Op]uint64

	metrics *Metrics
}

// StatsSnapshot is a copy of the counters at one point in time
type StatsSnapshot struct {
	Inserted uint64
	Deleted  uint64
	Errors   map[Op]uint64
}

// NewStats creates zeroed counters. m may be nil.
func NewStats(m *Metrics) *Stats {
	return &Stats{
		errors:  make(map[Op]uint64),
		metrics: m,
	}
}

// AddInserted adds n successful inserts
func (s *Stats) AddInserted(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.inserted += uint64(n)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.recordInserted(n)
	}
}

// AddDeleted adds n deleted records, exactly as reported by the store
func (s *Stats) AddDeleted(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.deleted += uint64(n)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.recordDeleted(n)
	}
}

// AddError counts one failed call of op
func (s *Stats) AddError(op Op) {
	s.mu.Lock()
	s.errors[op]++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.recordError(op)
	}
}

// Snapshot returns a copy of all counters
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Inserted: s.inserted,
		Deleted:  s.deleted,
		Errors:   maps.Clone(s.errors),
	}
}

// TotalErrors sums the error counters of all operations
func (s StatsSnapshot) TotalErrors() uint64 {
	var total uint64
	for _, n := range s.Errors {
		total += n
	}
	return total
}
