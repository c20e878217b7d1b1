// Package completion turns asynchronous GPU and engine work into pollable
// futures with bounded waits.
//
// A Future wraps a Poller. IsReady polls once without blocking; Await polls
// until the work completes, the timeout elapses or the context is done.
// Time is read through a Clock so tests can step a fake clock instead of
// depending on real device timing.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned by Await when the timeout elapses first.
var ErrTimeout = errors.New("completion: timed out")

// DefaultPollInterval is the sleep between polls in Await.
const DefaultPollInterval = 100 * time.Microsecond

// Poller reports whether a piece of asynchronous work has finished.
// A non-nil error means the work finished unsuccessfully.
type Poller interface {
	Poll() (done bool, err error)
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func() (bool, error)

// Poll calls f.
func (f PollerFunc) Poll() (bool, error) { return f() }

// Ready is a Poller that is already complete with the given error.
func Ready(err error) Poller {
	return PollerFunc(func() (bool, error) { return true, err })
}

// Future is the result of one asynchronous operation.
//
// Once the poller reports completion the outcome is latched and the poller
// is not consulted again. Future is safe for concurrent use.
type Future struct {
	mu       sync.Mutex
	poller   Poller
	clock    Clock
	interval time.Duration
	done     bool
	err      error
}

// New returns a Future for p. A nil clock uses the real clock.
func New(p Poller, clock Clock, interval time.Duration) *Future {
	if clock == nil {
		clock = RealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Future{poller: p, clock: clock, interval: interval}
}

// IsReady polls once and reports whether the operation has completed,
// successfully or not.
func (f *Future) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollLocked()
}

// Err returns the latched error of a completed future, or nil.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Future) pollLocked() bool {
	if f.done {
		return true
	}
	done, err := f.poller.Poll()
	if done {
		f.done = true
		f.err = err
	}
	return f.done
}

// Await blocks until the operation completes and returns its error.
//
// A timeout of zero or less waits without a bound. On timeout Await returns
// ErrTimeout; on cancellation it returns ctx.Err(). In both cases the
// operation itself may still be running.
func (f *Future) Await(ctx context.Context, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = f.clock.Now().Add(timeout)
	}
	for {
		if f.IsReady() {
			return f.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if timeout > 0 && !f.clock.Now().Before(deadline) {
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		if err := f.clock.Sleep(ctx, f.interval); err != nil {
			return err
		}
	}
}
