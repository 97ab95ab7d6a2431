package chaos

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHammer/lib/common"
	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("chaos")

var (
	// ErrInjected is the transient error returned for calls picked by the fail rate
	ErrInjected = storage.NewError(storage.RetCInternalError, "chaos: injected failure")

	// ErrInjectedFatal is returned by every call once the fatal threshold was reached
	ErrInjectedFatal = storage.NewError(storage.RetCClosed, "chaos: store failed permanently")
)

// Store decorates an IRecordStore with injected faults
//
// Thread-safety: all methods are safe for concurrent use, like the store it wraps.
type Store struct {
	inner storage.IRecordStore
	cfg   common.ChaosConfig

	inserts atomic.Int64 // successful inserts passed through to the inner store
	stalled atomic.Int64 // inserts currently blocked
	fatal   atomic.Bool

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Wrap returns inner decorated with the faults of cfg
func Wrap(inner storage.IRecordStore, cfg common.ChaosConfig) *Store {
	return &Store{
		inner:   inner,
		cfg:     cfg,
		closeCh: make(chan struct{}),
	}
}

// WrapBackend decorates the stores opened by b. Clear is passed through unchanged.
func WrapBackend(b storage.Backend, cfg common.ChaosConfig) storage.Backend {
	open := b.Open
	return storage.Backend{
		Name: b.Name + "+chaos",
		Open: func() (storage.IRecordStore, error) {
			inner, err := open()
			if err != nil {
				return nil, err
			}
			return Wrap(inner, cfg), nil
		},
		Clear: b.Clear,
	}
}

// --------------------------------------------------------------------------
// Fault injection
// --------------------------------------------------------------------------

// before runs the faults shared by every call: the fatal switch, latency and random failures
func (s *Store) before() error {
	if s.fatal.Load() {
		return ErrInjectedFatal
	}

	if s.cfg.LatencyMax > 0 {
		d := time.Duration(rand.Int64N(int64(s.cfg.LatencyMax) + 1))
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-s.closeCh:
			t.Stop()
			return storage.ErrClosed
		}
	}

	if s.cfg.FailRate > 0 && rand.Float64() < s.cfg.FailRate {
		return ErrInjected
	}
	return nil
}

// stall blocks until the store is closed
func (s *Store) stall() error {
	if s.stalled.Add(1) == 1 {
		log.Warningf("stalling inserts after %d successful inserts", s.inserts.Load())
	}
	defer s.stalled.Add(-1)
	<-s.closeCh
	return storage.ErrClosed
}

// Stalled returns the number of inserts currently blocked by the stall fault
func (s *Store) Stalled() int {
	return int(s.stalled.Load())
}

// --------------------------------------------------------------------------
// IRecordStore Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Insert(rec storage.Record) error {
	done := s.inserts.Load()
	if s.cfg.FatalAfter > 0 && done >= int64(s.cfg.FatalAfter) {
		if !s.fatal.Swap(true) {
			log.Warningf("failing permanently after %d successful inserts", done)
		}
		return ErrInjectedFatal
	}
	if s.cfg.StallAfter > 0 && done >= int64(s.cfg.StallAfter) {
		return s.stall()
	}

	if err := s.before(); err != nil {
		return err
	}
	if err := s.inner.Insert(rec); err != nil {
		return err
	}
	s.inserts.Add(1)
	return nil
}

func (s *Store) DeleteWhere(pred storage.Predicate) (int, error) {
	if err := s.before(); err != nil {
		return 0, err
	}
	return s.inner.DeleteWhere(pred)
}

func (s *Store) Checkpoint() error {
	if err := s.before(); err != nil {
		return err
	}
	return s.inner.Checkpoint()
}

// Count is only subject to the fatal switch, the report should see the real size
func (s *Store) Count() (int, error) {
	if s.fatal.Load() {
		return 0, ErrInjectedFatal
	}
	return s.inner.Count()
}

func (s *Store) SupportsFeature(feature storage.Feature) bool {
	return s.inner.SupportsFeature(feature)
}

// Close releases all stalled calls and closes the inner store
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.inner.Close()
}
