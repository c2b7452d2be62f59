package connwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nugget/dazzy/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastSchedule() Schedule {
	return Schedule{
		RetryMin: time.Millisecond,
		RetryMax: 4 * time.Millisecond,
		Interval: 2 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduleDefaults(t *testing.T) {
	got := Schedule{}.withDefaults()
	if got != DefaultSchedule() {
		t.Errorf("withDefaults() = %+v, want %+v", got, DefaultSchedule())
	}

	got = Schedule{RetryMin: 2 * time.Minute}.withDefaults()
	if got.RetryMax != 2*time.Minute {
		t.Errorf("RetryMax = %v, want it raised to RetryMin", got.RetryMax)
	}
}

func TestServiceBecomesReady(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Stop()

	s := m.Watch(context.Background(), "encyclopedia", func(context.Context) error { return nil }, fastSchedule())
	waitFor(t, s.Ready)

	st := s.Status()
	if st.Name != "encyclopedia" || st.LastError != "" || st.LastCheck.IsZero() {
		t.Errorf("Status() = %+v", st)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false with one ready service")
	}
}

func TestServiceRecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	probe := func(context.Context) error {
		if calls.Add(1) < 4 {
			return errors.New("connection refused")
		}
		return nil
	}

	bus := events.New()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	m := NewManager(bus, nil)
	defer m.Stop()
	s := m.Watch(context.Background(), "completion", probe, fastSchedule())

	waitFor(t, s.Ready)
	if calls.Load() < 4 {
		t.Errorf("probe calls = %d, want at least 4", calls.Load())
	}

	var got []bool
	for len(got) < 2 {
		select {
		case e := <-sub:
			if e.Kind == KindReachability {
				got = append(got, e.Data["ready"].(bool))
			}
		case <-time.After(time.Second):
			t.Fatalf("reachability events = %v", got)
		}
	}
	if got[0] || !got[1] {
		t.Errorf("transitions = %v, want [false true]", got)
	}
}

func TestServiceGoesDown(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	probe := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("broker gone")
	}

	m := NewManager(nil, nil)
	defer m.Stop()
	s := m.Watch(context.Background(), "mqtt", probe, fastSchedule())
	waitFor(t, s.Ready)

	healthy.Store(false)
	waitFor(t, func() bool { return !s.Ready() })
	if s.Status().LastError != "broker gone" {
		t.Errorf("LastError = %q", s.Status().LastError)
	}
	if m.Healthy() {
		t.Error("Healthy() = true with a down service")
	}
}

func TestProbeTimeout(t *testing.T) {
	probe := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := NewManager(nil, nil)
	defer m.Stop()

	sched := fastSchedule()
	sched.Timeout = 5 * time.Millisecond
	s := m.Watch(context.Background(), "slow", probe, sched)
	waitFor(t, func() bool { return s.Status().Checks > 0 })
	if s.Ready() {
		t.Error("timed-out probe reported ready")
	}
}

func TestManagerStatusSorted(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Stop()

	ok := func(context.Context) error { return nil }
	m.Watch(context.Background(), "mqtt", ok, fastSchedule())
	m.Watch(context.Background(), "completion", ok, fastSchedule())
	again := m.Watch(context.Background(), "mqtt", ok, fastSchedule())
	if again == nil {
		t.Fatal("Watch returned nil for existing service")
	}

	st := m.Status()
	if len(st) != 2 || st[0].Name != "completion" || st[1].Name != "mqtt" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestEmptyManagerHealthy(t *testing.T) {
	m := NewManager(nil, nil)
	if !m.Healthy() {
		t.Error("empty manager should be healthy")
	}
	m.Stop()
}

func TestStopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(nil, nil)
	s := m.Watch(ctx, "x", func(context.Context) error { return nil }, fastSchedule())
	cancel()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("probe loop did not exit on context cancel")
	}
	m.Stop()
}
