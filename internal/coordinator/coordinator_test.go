package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/intent"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blockUntil returns work that waits for release or cancellation.
func blockUntil(release <-chan struct{}, value any) Work {
	return func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type countingObserver struct {
	tasks    chan State
	rejected chan Kind
}

func (o *countingObserver) ObserveTask(_ Kind, s State, _ time.Duration) { o.tasks <- s }
func (o *countingObserver) ObserveRejected(k Kind)                       { o.rejected <- k }

func TestSubmitRejectsBusyKind(t *testing.T) {
	obs := &countingObserver{tasks: make(chan State, 4), rejected: make(chan Kind, 4)}
	c := New(Config{Observer: obs})
	defer c.Close()

	release := make(chan struct{})
	h, err := c.Submit(KindListen, blockUntil(release, "first"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err = c.Submit(KindListen, blockUntil(release, "second"))
	if !errors.Is(err, intent.ErrBusy) {
		t.Fatalf("second Submit error = %v, want ErrBusy", err)
	}
	if intent.KindOf(err) != intent.KindBusy {
		t.Errorf("KindOf = %v, want busy", intent.KindOf(err))
	}
	if k := <-obs.rejected; k != KindListen {
		t.Errorf("rejected kind = %v", k)
	}

	// A different kind is not blocked.
	other, err := c.Submit(KindSpeak, func(context.Context) (any, error) { return "spoken", nil })
	if err != nil {
		t.Fatalf("Submit(speak): %v", err)
	}
	if o, _ := other.Wait(context.Background()); o.State != StateDone || o.Value != "spoken" {
		t.Errorf("speak outcome = %+v", o)
	}

	close(release)
	o, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if o.State != StateDone || o.Value != "first" || o.Kind != KindListen || o.TaskID != h.ID() {
		t.Errorf("outcome = %+v", o)
	}

	// The kind is free again once the outcome is observable.
	h2, err := c.Submit(KindListen, func(context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
	h2.Wait(context.Background())
}

func TestResultsInCompletionOrder(t *testing.T) {
	c := New(Config{Stream: true})
	defer c.Close()

	slow := make(chan struct{})
	fast := make(chan struct{})
	if _, err := c.Submit(KindListen, blockUntil(slow, "slow")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Submit(KindRemote, blockUntil(fast, "fast")); err != nil {
		t.Fatal(err)
	}

	close(fast)
	first := <-c.Results()
	close(slow)
	second := <-c.Results()

	if first.Value != "fast" || second.Value != "slow" {
		t.Errorf("delivery order = %v, %v; want fast, slow", first.Value, second.Value)
	}
}

func TestPoll(t *testing.T) {
	c := New(Config{Stream: true})
	defer c.Close()

	if _, ok := c.Poll(); ok {
		t.Fatal("Poll on empty coordinator returned an outcome")
	}

	h, err := c.Submit(KindRemote, func(context.Context) (any, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	<-h.Done()

	deadline := time.After(2 * time.Second)
	for {
		if o, ok := c.Poll(); ok {
			if o.Value != 42 {
				t.Errorf("polled value = %v", o.Value)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("outcome never delivered to Poll")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPollWithoutStream(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	if c.Results() != nil {
		t.Error("Results() should be nil without Stream")
	}
	if _, ok := c.Poll(); ok {
		t.Error("Poll without Stream returned an outcome")
	}
}

func TestFailedAndPanickingWork(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	boom := errors.New("mic unplugged")
	o, err := c.Run(context.Background(), KindListen, func(context.Context) (any, error) { return nil, boom })
	if err != nil {
		t.Fatal(err)
	}
	if o.State != StateFailed || !errors.Is(o.Err, boom) {
		t.Errorf("failed outcome = %+v", o)
	}

	o, err = c.Run(context.Background(), KindSpeak, func(context.Context) (any, error) { panic("codec crash") })
	if err != nil {
		t.Fatal(err)
	}
	if o.State != StateFailed || o.Err == nil {
		t.Errorf("panic outcome = %+v", o)
	}
	if c.Status().Busy {
		t.Error("coordinator still busy after tasks finished")
	}
}

func TestHandleCancel(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	h, err := c.Submit(KindSpeak, blockUntil(make(chan struct{}), nil))
	if err != nil {
		t.Fatal(err)
	}
	h.Cancel()
	o, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if o.State != StateCancelled {
		t.Errorf("state = %v, want %v", o.State, StateCancelled)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	h, err := c.Submit(KindRemote, blockUntil(make(chan struct{}), nil))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
}

func TestRunCancelsAbandonedTask(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, KindRemote, func(taskCtx context.Context) (any, error) {
			close(started)
			<-taskCtx.Done()
			return nil, taskCtx.Err()
		})
		errc <- err
	}()
	<-started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}

	// The slot is free as soon as Run returns.
	o, err := c.Run(context.Background(), KindRemote, func(context.Context) (any, error) { return "next", nil })
	if err != nil {
		t.Fatalf("Run after abandon: %v", err)
	}
	if o.Value != "next" {
		t.Errorf("outcome = %+v", o)
	}
}

func TestCloseCancelsInFlight(t *testing.T) {
	c := New(Config{Stream: true})

	started := make(chan struct{})
	h, err := c.Submit(KindListen, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	c.Close()
	c.Close()

	select {
	case <-h.Done():
	default:
		t.Fatal("Close returned before the task finished")
	}
	if _, err := c.Submit(KindListen, blockUntil(nil, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close error = %v, want ErrClosed", err)
	}
	for range c.Results() {
	}
}

func TestStatusAndEvents(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	c := New(Config{Bus: bus})
	defer c.Close()

	release := make(chan struct{})
	h, err := c.Submit(KindRemote, blockUntil(release, nil))
	if err != nil {
		t.Fatal(err)
	}
	st := c.Status()
	if !st.Busy || len(st.Running) != 1 || st.Running[0] != KindRemote || st.String() != "busy" {
		t.Errorf("Status() = %+v", st)
	}
	if !c.Busy(KindRemote) || c.Busy(KindSpeak) {
		t.Error("Busy() per kind is wrong")
	}

	close(release)
	h.Wait(context.Background())

	var kinds []string
	timeout := time.After(2 * time.Second)
	for len(kinds) < 4 {
		select {
		case e := <-sub:
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatalf("events so far: %v", kinds)
		}
	}
	want := []string{events.KindTaskStart, events.KindStatus, events.KindTaskDone, events.KindStatus}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
	if c.Status().String() != "idle" {
		t.Errorf("final status = %v", c.Status())
	}
}

func TestHandleState(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	h, err := c.Submit(KindRemote, func(ctx context.Context) (any, error) {
		close(started)
		return blockUntil(release, "ok")(ctx)
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s := h.State(); s != StateQueued && s != StateRunning {
		t.Errorf("state right after Submit = %v, want queued or running", s)
	}

	<-started
	if s := h.State(); s != StateRunning {
		t.Errorf("state while working = %v, want running", s)
	}

	close(release)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := h.State(); s != StateDone {
		t.Errorf("state after Wait = %v, want done", s)
	}
}
