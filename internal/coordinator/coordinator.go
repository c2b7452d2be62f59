// Package coordinator runs blocking work (microphone capture, speech
// playback, remote dispatch) off the foreground loop with at most one
// task of each kind in flight. A second submission of a running kind is
// rejected as busy instead of queued.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/intent"
)

// Kind identifies a class of background work.
type Kind string

const (
	KindListen Kind = "listen"
	KindSpeak  Kind = "speak"
	KindRemote Kind = "remote"
)

// State is the lifecycle state of a task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// AbandonGrace bounds how long Run waits for a cancelled task to
// return after its caller went away.
const AbandonGrace = 2 * time.Second

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("coordinator closed")

// Work is the body of a task. It must honor ctx cancellation.
type Work func(ctx context.Context) (any, error)

// Outcome is the result of one finished task.
type Outcome struct {
	TaskID  string
	Kind    Kind
	State   State
	Value   any
	Err     error
	Elapsed time.Duration
}

// Observer is told about task completions and busy rejections.
type Observer interface {
	ObserveTask(kind Kind, state State, elapsed time.Duration)
	ObserveRejected(kind Kind)
}

// Config configures a Coordinator.
type Config struct {
	// Stream delivers every outcome on Results in completion order.
	// Enable it only when one consumer drains the channel.
	Stream bool
	// Buffer is the Results channel capacity. Default 4.
	Buffer   int
	Bus      *events.Bus
	Observer Observer
	Logger   *slog.Logger
}

// Status is the idle/busy signal for UI feedback.
type Status struct {
	Busy    bool   `json:"busy"`
	Running []Kind `json:"running,omitempty"`
}

// String returns "busy" or "idle".
func (s Status) String() string {
	if s.Busy {
		return "busy"
	}
	return "idle"
}

// Coordinator owns the in-flight task table.
type Coordinator struct {
	bus      *events.Bus
	observer Observer
	logger   *slog.Logger
	results  chan Outcome

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	running map[Kind]*Handle
	closed  bool
}

// New returns a coordinator. Call Close to cancel in-flight work.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		bus:      cfg.Bus,
		observer: cfg.Observer,
		logger:   logger.With("component", "coordinator"),
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[Kind]*Handle),
	}
	if cfg.Stream {
		buf := cfg.Buffer
		if buf <= 0 {
			buf = 4
		}
		c.results = make(chan Outcome, buf)
	}
	return c
}

// Submit starts work as a task of the given kind. If a task of that
// kind is running it returns an error matching [intent.ErrBusy] and
// work is not run.
func (c *Coordinator) Submit(kind Kind, work Work) (*Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, busy := c.running[kind]; busy {
		c.mu.Unlock()
		c.logger.Debug("task rejected, kind busy", "task_kind", kind)
		c.bus.Emit(events.SourceCoordinator, events.KindTaskRejected, map[string]any{"task_kind": string(kind)})
		if c.observer != nil {
			c.observer.ObserveRejected(kind)
		}
		return nil, fmt.Errorf("%w: %s already running", intent.ErrBusy, kind)
	}

	ctx, cancel := context.WithCancel(c.ctx)
	h := &Handle{
		id:     uuid.NewString(),
		kind:   kind,
		begun:  time.Now(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.running[kind] = h
	becameBusy := len(c.running) == 1
	running := c.runningKindsLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.bus.Emit(events.SourceCoordinator, events.KindTaskStart, map[string]any{
		"task_id":   h.id,
		"task_kind": string(kind),
	})
	if becameBusy {
		c.emitStatus(Status{Busy: true, Running: running})
	}

	go c.run(ctx, h, work)
	return h, nil
}

// Run submits work and waits for its outcome. If ctx ends first the
// task is cancelled, so an abandoned caller does not hold the kind's
// slot, and Run waits up to AbandonGrace for the slot to free before
// returning ctx's error.
func (c *Coordinator) Run(ctx context.Context, kind Kind, work Work) (Outcome, error) {
	h, err := c.Submit(kind, work)
	if err != nil {
		return Outcome{}, err
	}
	o, err := h.Wait(ctx)
	if err == nil {
		return o, nil
	}
	h.Cancel()
	t := time.NewTimer(AbandonGrace)
	defer t.Stop()
	select {
	case <-h.done:
		c.logger.Debug("abandoned task cancelled", "task_id", h.id, "task_kind", h.kind)
	case <-t.C:
		c.logger.Warn("abandoned task ignored cancellation", "task_id", h.id, "task_kind", h.kind)
	}
	return Outcome{}, err
}

func (c *Coordinator) run(ctx context.Context, h *Handle, work Work) {
	defer c.wg.Done()
	defer h.cancel()
	h.started.Store(true)

	value, err := safeRun(ctx, work)
	o := Outcome{
		TaskID:  h.id,
		Kind:    h.kind,
		Value:   value,
		Err:     err,
		Elapsed: time.Since(h.begun),
	}
	switch {
	case err == nil:
		o.State = StateDone
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		o.State = StateCancelled
	default:
		o.State = StateFailed
	}

	// The kind is free again before anyone can observe the outcome, so
	// a consumer may resubmit the same kind immediately.
	c.mu.Lock()
	delete(c.running, h.kind)
	becameIdle := len(c.running) == 0
	c.mu.Unlock()

	h.outcome = o
	close(h.done)

	c.logger.Debug("task finished",
		"task_id", o.TaskID,
		"task_kind", o.Kind,
		"state", o.State,
		"elapsed", o.Elapsed,
	)
	data := map[string]any{
		"task_id":    o.TaskID,
		"task_kind":  string(o.Kind),
		"state":      string(o.State),
		"elapsed_ms": o.Elapsed.Milliseconds(),
	}
	if o.Err != nil {
		data["error"] = o.Err.Error()
	}
	c.bus.Emit(events.SourceCoordinator, events.KindTaskDone, data)
	if becameIdle {
		c.emitStatus(Status{})
	}
	if c.observer != nil {
		c.observer.ObserveTask(o.Kind, o.State, o.Elapsed)
	}

	if c.results != nil {
		select {
		case c.results <- o:
		case <-c.ctx.Done():
		}
	}
}

func safeRun(ctx context.Context, work Work) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return work(ctx)
}

func (c *Coordinator) emitStatus(s Status) {
	running := make([]string, len(s.Running))
	for i, k := range s.Running {
		running[i] = string(k)
	}
	c.bus.Emit(events.SourceCoordinator, events.KindStatus, map[string]any{
		"status":  s.String(),
		"running": running,
	})
}

func (c *Coordinator) runningKindsLocked() []Kind {
	kinds := make([]Kind, 0, len(c.running))
	for k := range c.running {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Results streams outcomes in completion order. It is nil unless the
// coordinator was created with Stream set, and is closed by Close.
func (c *Coordinator) Results() <-chan Outcome {
	return c.results
}

// Poll returns the next completed outcome without blocking.
func (c *Coordinator) Poll() (Outcome, bool) {
	if c.results == nil {
		return Outcome{}, false
	}
	select {
	case o, ok := <-c.results:
		return o, ok
	default:
		return Outcome{}, false
	}
}

// Busy reports whether a task of kind is running.
func (c *Coordinator) Busy(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[kind]
	return ok
}

// Status returns the current idle/busy state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Busy: len(c.running) > 0, Running: c.runningKindsLocked()}
}

// Close cancels in-flight tasks and waits for them to return. Partial
// device state is not rolled back. Close is idempotent.
func (c *Coordinator) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
		if c.results != nil {
			close(c.results)
		}
	})
}
