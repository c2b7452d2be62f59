// Package session holds per-conversation state: the onboarding gate
// that captures the user's name on the first turn, and a short memory
// of recent utterances.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nugget/dazzy/internal/intent"
)

// DefaultMemory is the number of utterances a session remembers.
const DefaultMemory = 10

// State is the onboarding state.
type State int

const (
	// AwaitingName is the initial state of a typed conversation.
	AwaitingName State = iota
	// Active sends every turn to the dispatcher.
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "awaiting_name"
}

// Dispatcher answers one utterance.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw string) intent.Result
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	State     State     `json:"state"`
	Onboarded bool      `json:"onboarded"`
	UserName  string    `json:"user_name,omitempty"`
	TurnCount int       `json:"turn_count"`
	Recent    []string  `json:"recent,omitempty"`
	Started   time.Time `json:"started"`
}

// Session is safe for concurrent use. The lock is not held while the
// dispatcher runs.
type Session struct {
	dispatcher Dispatcher
	onboarding bool
	limit      int
	now        func() time.Time

	mu       sync.Mutex
	state    State
	userName string
	turns    int
	recent   []string
	started  time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithOnboarding controls the name-capture gate. Voice sessions turn
// it off and start active.
func WithOnboarding(enabled bool) Option {
	return func(s *Session) { s.onboarding = enabled }
}

// WithMemory sets how many utterances are remembered. Values below one
// use [DefaultMemory].
func WithMemory(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New returns a session in its initial state.
func New(d Dispatcher, opts ...Option) *Session {
	s := &Session{dispatcher: d, onboarding: true, limit: DefaultMemory, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.resetLocked()
	return s
}

// Greeting is the reply the session expects to open with, or "" when
// no name is being asked for.
func Greeting(assistant string) string {
	if assistant == "" {
		assistant = "Dazzy"
	}
	return "Hi, I'm " + assistant + ". What's your name?"
}

// Acknowledgement is the reply to the onboarding turn.
func Acknowledgement(name string) string {
	return "Nice to meet you, " + name + ". What can I do for you?"
}

// Turn handles one utterance. While awaiting a name the text is taken
// verbatim as the user's name and the dispatcher is not consulted.
func (s *Session) Turn(ctx context.Context, text string) intent.Result {
	s.mu.Lock()
	s.turns++
	s.remember(text)
	if s.state == AwaitingName {
		s.userName = strings.TrimSpace(text)
		s.state = Active
		name := s.userName
		s.mu.Unlock()
		return intent.Result{Reply: Acknowledgement(name), Handled: true, Source: "onboarding"}
	}
	name := s.userName
	s.mu.Unlock()

	if name != "" {
		ctx = intent.WithUserName(ctx, name)
	}
	return s.dispatcher.Dispatch(ctx, text)
}

func (s *Session) remember(text string) {
	t := strings.TrimSpace(text)
	if t == "" {
		return
	}
	s.recent = append(s.recent, t)
	if over := len(s.recent) - s.limit; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

// Reset returns the session to its initial state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.state = Active
	if s.onboarding {
		s.state = AwaitingName
	}
	s.userName = ""
	s.turns = 0
	s.recent = nil
	s.started = s.now()
}

// State returns the onboarding state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserName returns the captured name, or "".
func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Onboarded: s.state == Active,
		UserName:  s.userName,
		TurnCount: s.turns,
		Recent:    append([]string(nil), s.recent...),
		Started:   s.started,
	}
}
