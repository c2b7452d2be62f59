package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nugget/dazzy/internal/intent"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	names []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, raw string) intent.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, raw)
	f.names = append(f.names, intent.UserName(ctx))
	return intent.Reply("echo: " + raw)
}

func TestOnboardingCapturesName(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d)

	if got := s.State(); got != AwaitingName {
		t.Fatalf("initial state = %v, want %v", got, AwaitingName)
	}

	res := s.Turn(context.Background(), "  what time is it  ")
	if want := Acknowledgement("what time is it"); res.Reply != want {
		t.Errorf("first turn reply = %q, want %q", res.Reply, want)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatcher called on onboarding turn: %v", d.calls)
	}
	if s.UserName() != "what time is it" {
		t.Errorf("UserName() = %q", s.UserName())
	}

	res = s.Turn(context.Background(), "hello")
	if res.Reply != "echo: hello" {
		t.Errorf("second turn reply = %q", res.Reply)
	}
	if diff := cmp.Diff([]string{"hello"}, d.calls); diff != "" {
		t.Errorf("dispatcher calls (-want +got):\n%s", diff)
	}
	if d.names[0] != "what time is it" {
		t.Errorf("user name in context = %q", d.names[0])
	}
}

func TestVoiceSessionStartsActive(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, WithOnboarding(false))

	if got := s.State(); got != Active {
		t.Fatalf("state = %v, want %v", got, Active)
	}
	s.Turn(context.Background(), "hello")
	if len(d.calls) != 1 {
		t.Errorf("dispatcher calls = %d, want 1", len(d.calls))
	}
	if d.names[0] != "" {
		t.Errorf("user name in context = %q, want empty", d.names[0])
	}
}

func TestMemoryKeepsLastN(t *testing.T) {
	s := New(&fakeDispatcher{}, WithOnboarding(false), WithMemory(3))
	for i := range 5 {
		s.Turn(context.Background(), fmt.Sprintf("turn %d", i))
	}
	s.Turn(context.Background(), "   ")

	snap := s.Snapshot()
	want := Snapshot{
		State:     Active,
		Onboarded: true,
		TurnCount: 6,
		Recent:    []string{"turn 2", "turn 3", "turn 4"},
	}
	if diff := cmp.Diff(want, snap, cmpopts.IgnoreFields(Snapshot{}, "Started")); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d)
	s.Turn(context.Background(), "Ada")
	s.Turn(context.Background(), "hello")

	s.Reset()

	snap := s.Snapshot()
	if snap.State != AwaitingName || snap.UserName != "" || snap.TurnCount != 0 || len(snap.Recent) != 0 {
		t.Errorf("after Reset: %+v", snap)
	}
	res := s.Turn(context.Background(), "Grace")
	if res.Reply != Acknowledgement("Grace") {
		t.Errorf("reply after reset = %q", res.Reply)
	}
}

func TestGreeting(t *testing.T) {
	if got := Greeting(""); got != "Hi, I'm Dazzy. What's your name?" {
		t.Errorf("Greeting(\"\") = %q", got)
	}
	if got := Greeting("Nova"); got != "Hi, I'm Nova. What's your name?" {
		t.Errorf("Greeting(Nova) = %q", got)
	}
}

func TestManager(t *testing.T) {
	m := NewManager(&fakeDispatcher{})

	a := m.Get("")
	if m.Get(DefaultID) != a {
		t.Error("empty id should map to the default session")
	}
	b := m.Get("kitchen")
	if a == b {
		t.Error("distinct ids share a session")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}

	b.Turn(context.Background(), "Ada")
	if !m.Reset("kitchen") {
		t.Error("Reset(kitchen) = false")
	}
	if b.State() != AwaitingName {
		t.Errorf("state after manager reset = %v", b.State())
	}
	if m.Reset("garage") {
		t.Error("Reset(unknown) = true")
	}
}

func TestManagerEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewManager(&fakeDispatcher{})
	m.SetLimit(2)

	kitchen := m.Get("kitchen")
	m.Get("garage")
	m.Get("kitchen")
	m.Get("attic")

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	if m.Get("kitchen") != kitchen {
		t.Error("recently used session was evicted")
	}
	if m.Reset("garage") {
		t.Error("least recently used session survived")
	}

	for i := range 100 {
		m.Get(fmt.Sprintf("client-%d", i))
	}
	if m.Len() != 2 {
		t.Errorf("Len() after many clients = %d, want 2", m.Len())
	}
}

func TestConcurrentTurns(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, WithOnboarding(false), WithMemory(100))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Turn(context.Background(), fmt.Sprintf("msg %d", i))
		}()
	}
	wg.Wait()

	if got := s.Snapshot().TurnCount; got != 20 {
		t.Errorf("TurnCount = %d, want 20", got)
	}
	if len(d.calls) != 20 {
		t.Errorf("dispatcher calls = %d, want 20", len(d.calls))
	}
}
