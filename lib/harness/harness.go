package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHammer/lib/common"
	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("harness")

// Controls is the interactive surface of a run
type Controls struct {
	// Spawn adds the received number of insert workers
	Spawn <-chan int
	// Stop begins shutdown when it receives or is closed
	Stop <-chan struct{}
	// Status receives the rendered status view (nil = os.Stdout)
	Status io.Writer
	// ClearScreen clears the terminal before every rendering
	ClearScreen bool
}

// harness is the shared state of one run, every task holds a reference to it
type harness struct {
	cfg     common.HarnessConfig
	store   storage.IRecordStore
	backend string
	runID   string
	started time.Time

	canceller *Canceller
	liveness  *LivenessTracker
	stats     *Stats
	metrics   *Metrics
	pool      *Pool

	out          io.Writer
	clearScreen  bool
	staleWorkers atomic.Int64 // stale count of the last report, exported as a gauge
}

func newHarness(cfg common.HarnessConfig, store storage.IRecordStore, backend string, out io.Writer, clear bool) *harness {
	if out == nil {
		out = os.Stdout
	}
	m := NewMetrics()
	h := &harness{
		cfg:         cfg,
		store:       store,
		backend:     backend,
		runID:       uuid.NewString(),
		started:     time.Now(),
		canceller:   NewCanceller(context.Background()),
		liveness:    NewLivenessTracker(),
		stats:       NewStats(m),
		metrics:     m,
		out:         out,
		clearScreen: clear,
	}
	h.pool = NewPool(h.canceller, h.insertLoop)
	m.RegisterGauges(h.pool.ActiveInsertWorkers, func() int { return int(h.staleWorkers.Load()) })
	return h
}

// spawnFixed starts the delete and report tasks, and the checkpoint task if it is enabled
func (h *harness) spawnFixed() error {
	if _, err := h.pool.SpawnFixed(KindDelete, "delete", h.deleteLoop); err != nil {
		return err
	}
	if h.cfg.CheckpointInterval > 0 {
		if _, err := h.pool.SpawnFixed(KindCheckpoint, "checkpoint", h.checkpointLoop); err != nil {
			return err
		}
	}
	if _, err := h.pool.SpawnFixed(KindReport, "report", h.reportLoop); err != nil {
		return err
	}
	return nil
}

func (h *harness) spawnInsertWorkers(n int) error {
	for i := 0; i < n; i++ {
		if _, err := h.pool.SpawnInsertWorker(); err != nil {
			return err
		}
	}
	return nil
}

// shutdown cancels all tasks, waits for them, renders the final status and closes the store.
// If tasks hang inside the store beyond the shutdown timeout, the store is closed under
// them to release the calls, then they are awaited once more.
func (h *harness) shutdown() (Summary, error) {
	h.canceller.Cancel()

	var errs []error
	storeClosed := false

	if err := h.pool.JoinAllWithin(h.cfg.ShutdownTimeout); errors.Is(err, ErrJoinTimeout) {
		for _, w := range h.pool.Running() {
			log.Warningf("%s did not stop within %s", w.Name, h.cfg.ShutdownTimeout)
		}
		log.Warningf("closing the store to release hanging calls")
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		storeClosed = true

		if err := h.pool.JoinAllWithin(h.cfg.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("join tasks: %w", err))
		}
	} else if err != nil {
		errs = append(errs, fmt.Errorf("join tasks: %w", err))
	}

	now := time.Now()
	final := h.status(now, true)
	final.Render(h.out, false)
	summary := h.summary(now, final)

	if !storeClosed {
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	h.metrics.Stop()

	return summary, errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Supervisor
// --------------------------------------------------------------------------

// Run executes one hammer run against the store of backend.
//
// Startup clears the data of a previous run (unless cfg.KeepData), opens the store,
// starts cfg.Workers insert workers and the periodic tasks. The run then follows
// controls until Stop fires, ctx is done or cfg.Duration elapsed.
//
// Once the store is open, teardown (cancel, join, final report, close) runs on every
// exit path, including a panic, which is re-raised after teardown.
// Errors before the store is open are returned without starting any task.
func Run(ctx context.Context, cfg common.HarnessConfig, backend storage.Backend, controls Controls) (summary Summary, err error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid configuration: %w", err)
	}

	if !cfg.KeepData && backend.Clear != nil {
		if err := backend.Clear(); err != nil {
			return Summary{}, fmt.Errorf("clear data of previous run: %w", err)
		}
	}

	store, err := backend.Open()
	if err != nil {
		return Summary{}, fmt.Errorf("open %s store: %w", backend.Name, err)
	}

	h := newHarness(cfg, store, backend.Name, controls.Status, controls.ClearScreen)
	log.Infof("run %s started against %s store", h.runID, backend.Name)

	defer func() {
		r := recover()
		s, shutdownErr := h.shutdown()
		summary = s
		err = errors.Join(err, shutdownErr)
		log.Infof("run %s finished after %s", h.runID, s.Duration.Round(time.Millisecond))
		if r != nil {
			panic(r)
		}
	}()

	if cfg.MetricsEndpoint != "" {
		srv, err := ServeMetrics(cfg.MetricsEndpoint, h.metrics)
		if err != nil {
			return Summary{}, err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if err := h.spawnInsertWorkers(cfg.Workers); err != nil {
		return Summary{}, err
	}
	if err := h.spawnFixed(); err != nil {
		return Summary{}, err
	}

	var deadline <-chan time.Time
	if cfg.Duration > 0 {
		t := time.NewTimer(cfg.Duration)
		defer t.Stop()
		deadline = t.C
	}

	spawn := controls.Spawn
	for {
		select {
		case <-ctx.Done():
			log.Infof("stopping: %v", context.Cause(ctx))
			return Summary{}, nil
		case <-deadline:
			log.Infof("stopping: run duration of %s reached", cfg.Duration)
			return Summary{}, nil
		case <-controls.Stop:
			log.Infof("stopping: requested")
			return Summary{}, nil
		case n, ok := <-spawn:
			if !ok {
				spawn = nil
				continue
			}
			if err := h.spawnInsertWorkers(n); err != nil {
				return Summary{}, err
			}
			log.Infof("spawned %d insert workers (%d active)", n, h.pool.ActiveInsertWorkers())
		}
	}
}
