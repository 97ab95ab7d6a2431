package harness

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHammer/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrCancelled is returned when a task is spawned after cancellation
	ErrCancelled = errors.New("harness: run is cancelled")

	// ErrNotCancelled is returned by JoinAll before cancellation, joining would block forever
	ErrNotCancelled = errors.New("harness: join before cancel")

	// ErrAlreadyRunning is returned when a second instance of a fixed task is spawned
	ErrAlreadyRunning = errors.New("harness: fixed task already running")

	// ErrJoinTimeout is returned when tasks did not exit within the join deadline
	ErrJoinTimeout = errors.New("harness: tasks did not exit in time")
)

// --------------------------------------------------------------------------
// Worker handles
// --------------------------------------------------------------------------

// WorkerKind is the type of a task in the pool
type WorkerKind int

const (
	KindInsert WorkerKind = iota
	KindDelete
	KindCheckpoint
	KindReport
)

func (k WorkerKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindCheckpoint:
		return "checkpoint"
	case KindReport:
		return "report"
	default:
		return "unknown"
	}
}

// WorkerState is the lifecycle state of a task
type WorkerState int32

const (
	StateRunning WorkerState = iota // The loop is running.
	StateStopped                    // The loop observed cancellation and exited.
	StateFailed                     // The loop terminated on an unrecoverable error.
)

func (s WorkerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WorkerHandle describes one task of the pool
type WorkerHandle struct {
	ID      WorkerID
	Kind    WorkerKind
	Name    string
	Started time.Time

	state    atomic.Int32
	inserted atomic.Uint64
	err      atomic.Pointer[error]
}

// State returns the lifecycle state of the task
func (h *WorkerHandle) State() WorkerState {
	return WorkerState(h.state.Load())
}

// Inserted returns the number of successful inserts of an insert worker
func (h *WorkerHandle) Inserted() uint64 {
	return h.inserted.Load()
}

// Err returns the error that terminated a failed task
func (h *WorkerHandle) Err() error {
	if p := h.err.Load(); p != nil {
		return *p
	}
	return nil
}

// LoopFunc is the body of a task. It returns nil once it observed cancellation
// and an error if it gave up on an unrecoverable failure.
type LoopFunc func(h *WorkerHandle) error

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool tracks every task of a run in an arena keyed by WorkerID.
// It grows at runtime: insert workers can be added as long as the run is not cancelled.
//
// Thread-safety: all methods are safe for concurrent use. Handles may be read
// (e.g. by the report) while new workers are added.
type Pool struct {
	canceller  *Canceller
	insertLoop LoopFunc

	handles *xsync.MapOf[WorkerID, *WorkerHandle]
	nextID  atomic.Uint64

	spawnMu sync.Mutex // orders spawns against the cancellation check and wg.Add
	fixed   map[WorkerKind]WorkerID
	wg      sync.WaitGroup
}

// NewPool creates an empty pool. insertLoop is the body of every insert worker.
func NewPool(c *Canceller, insertLoop LoopFunc) *Pool {
	seed := util.GenerateSeed()
	return &Pool{
		canceller:  c,
		insertLoop: insertLoop,
		handles: xsync.NewMapOfWithHasher[WorkerID, *WorkerHandle](func(id WorkerID, _ uint64) uint64 {
			return util.HashUint64(uint64(id), seed)
		}),
		fixed: make(map[WorkerKind]WorkerID),
	}
}

// SpawnInsertWorker starts one more insert worker and returns without waiting for it
func (p *Pool) SpawnInsertWorker() (WorkerID, error) {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()

	if p.canceller.IsCancelled() {
		return 0, ErrCancelled
	}
	id := WorkerID(p.nextID.Add(1))
	p.start(id, KindInsert, fmt.Sprintf("insert-%d", id), p.insertLoop)
	return id, nil
}

// SpawnFixed starts the single instance of a periodic task
func (p *Pool) SpawnFixed(kind WorkerKind, name string, loop LoopFunc) (WorkerID, error) {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()

	if p.canceller.IsCancelled() {
		return 0, ErrCancelled
	}
	if _, ok := p.fixed[kind]; ok {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRunning, kind)
	}
	id := WorkerID(p.nextID.Add(1))
	p.fixed[kind] = id
	p.start(id, kind, name, loop)
	return id, nil
}

// start registers the handle and runs loop in its own goroutine (spawnMu must be held)
func (p *Pool) start(id WorkerID, kind WorkerKind, name string, loop LoopFunc) {
	h := &WorkerHandle{ID: id, Kind: kind, Name: name, Started: time.Now()}
	p.handles.Store(id, h)

	p.wg.Add(1)
	go p.run(h, loop)
	log.Debugf("%s started", name)
}

func (p *Pool) run(h *WorkerHandle, loop LoopFunc) {
	defer p.wg.Done()

	// a panicking task must not take down the others
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			h.err.Store(&err)
			h.state.Store(int32(StateFailed))
			log.Errorf("%s crashed: %v", h.Name, r)
		}
	}()

	if err := loop(h); err != nil {
		h.err.Store(&err)
		h.state.Store(int32(StateFailed))
		log.Errorf("%s terminated: %v", h.Name, err)
		return
	}
	h.state.Store(int32(StateStopped))
	log.Debugf("%s stopped", h.Name)
}

// JoinAll blocks until every task exited. It must only be called after cancellation.
func (p *Pool) JoinAll() error {
	return p.JoinAllWithin(0)
}

// JoinAllWithin is JoinAll with a deadline (0 = no deadline).
// On timeout the tasks keep running and ErrJoinTimeout is returned.
func (p *Pool) JoinAllWithin(timeout time.Duration) error {
	if !p.canceller.IsCancelled() {
		return ErrNotCancelled
	}

	// no spawn can be in flight between the cancellation check and wg.Add
	p.spawnMu.Lock()
	p.spawnMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrJoinTimeout
	}
}

// ActiveInsertWorkers counts insert workers whose loop is still running
func (p *Pool) ActiveInsertWorkers() int {
	n := 0
	p.handles.Range(func(_ WorkerID, h *WorkerHandle) bool {
		if h.Kind == KindInsert && h.State() == StateRunning {
			n++
		}
		return true
	})
	return n
}

// Handles returns all handles ordered by id
func (p *Pool) Handles() []*WorkerHandle {
	handles := make([]*WorkerHandle, 0, p.handles.Size())
	p.handles.Range(func(_ WorkerID, h *WorkerHandle) bool {
		handles = append(handles, h)
		return true
	})
	slices.SortFunc(handles, func(a, b *WorkerHandle) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return handles
}

// Running returns the handles of all tasks that have not exited yet
func (p *Pool) Running() []*WorkerHandle {
	var running []*WorkerHandle
	for _, h := range p.Handles() {
		if h.State() == StateRunning {
			running = append(running, h)
		}
	}
	return running
}
