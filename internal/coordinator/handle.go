package coordinator

import (
	"context"
	"sync/atomic"
	"time"
)

// Handle refers to one submitted task.
type Handle struct {
	id      string
	kind    Kind
	begun   time.Time
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// ID returns the task ID.
func (h *Handle) ID() string { return h.id }

// Kind returns the task kind.
func (h *Handle) Kind() Kind { return h.kind }

// State reports where the task is: queued until its goroutine picks it
// up, running, then its final outcome state.
func (h *Handle) State() State {
	select {
	case <-h.done:
		return h.outcome.State
	default:
	}
	if h.started.Load() {
		return StateRunning
	}
	return StateQueued
}

// Done is closed when the task finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the task to stop. The outcome reports StateCancelled if
// the work returned a cancellation error.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
