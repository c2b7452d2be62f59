package session

import (
	"sync"
)

// DefaultID names the conversation used when a caller supplies none.
const DefaultID = "default"

// DefaultMaxSessions caps live conversations. Conversation IDs come
// from clients, so the map must not grow without bound.
const DefaultMaxSessions = 256

// Manager keys sessions by conversation ID, creating them on first use.
// Past its limit the least recently used conversation is dropped.
type Manager struct {
	dispatcher Dispatcher
	opts       []Option

	mu       sync.Mutex
	limit    int
	clock    uint64
	sessions map[string]*managed
}

type managed struct {
	session *Session
	used    uint64
}

// NewManager returns a manager whose sessions share d and opts.
func NewManager(d Dispatcher, opts ...Option) *Manager {
	return &Manager{
		dispatcher: d,
		opts:       opts,
		limit:      DefaultMaxSessions,
		sessions:   make(map[string]*managed),
	}
}

// SetLimit changes the live-session cap. Values below one are ignored.
func (m *Manager) SetLimit(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = n
	for len(m.sessions) > m.limit {
		m.evictLocked()
	}
}

// Get returns the session for id, creating it if needed.
func (m *Manager) Get(id string) *Session {
	if id == "" {
		id = DefaultID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock++
	if e, ok := m.sessions[id]; ok {
		e.used = m.clock
		return e.session
	}
	if len(m.sessions) >= m.limit {
		m.evictLocked()
	}
	s := New(m.dispatcher, m.opts...)
	m.sessions[id] = &managed{session: s, used: m.clock}
	return s
}

func (m *Manager) evictLocked() {
	var (
		oldest string
		used   uint64
		found  bool
	)
	for id, e := range m.sessions {
		if !found || e.used < used {
			oldest, used, found = id, e.used, true
		}
	}
	if found {
		delete(m.sessions, oldest)
	}
}

// Reset resets the session for id. It reports whether one existed.
func (m *Manager) Reset(id string) bool {
	if id == "" {
		id = DefaultID
	}
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		e.session.Reset()
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
