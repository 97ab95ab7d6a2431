package harness

import (
	"context"
	"time"
)

// WaitResult tells why WaitOrCancelled returned
type WaitResult int

const (
	TimedOut  WaitResult = iota // The full duration elapsed.
	Cancelled                   // Cancellation was signaled before the duration elapsed.
)

func (r WaitResult) String() string {
	switch r {
	case TimedOut:
		return "TimedOut"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Canceller is the single shared shutdown signal of a run.
// It only ever moves from "running" to "cancelled". Every task waits through it
// instead of sleeping, so shutdown takes at most one tick.
//
// Thread-safety: all methods are safe for concurrent use. Cancel broadcasts to all
// waiters at once.
type Canceller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCanceller creates a Canceller that is also cancelled when parent is done
func NewCanceller(parent context.Context) *Canceller {
	ctx, cancel := context.WithCancel(parent)
	return &Canceller{ctx: ctx, cancel: cancel}
}

// Cancel raises the signal. Calling it more than once is a no-op.
func (c *Canceller) Cancel() {
	c.cancel()
}

// IsCancelled polls the signal without blocking
func (c *Canceller) IsCancelled() bool {
	return c.ctx.Err() != nil
}

// WaitOrCancelled blocks until d elapsed or the signal is raised, whichever comes first.
// A non-positive d only polls.
func (c *Canceller) WaitOrCancelled(d time.Duration) WaitResult {
	if d <= 0 {
		if c.IsCancelled() {
			return Cancelled
		}
		return TimedOut
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-c.ctx.Done():
		return Cancelled
	case <-t.C:
		// a cancellation racing with the timer wins
		if c.IsCancelled() {
			return Cancelled
		}
		return TimedOut
	}
}

// Done returns a channel that is closed on cancellation
func (c *Canceller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the context backing the signal
func (c *Canceller) Context() context.Context {
	return c.ctx
}
