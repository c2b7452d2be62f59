// Package connwatch tracks whether the assistant's remote
// collaborators are reachable: the encyclopedia, the completion API and
// the MQTT broker. Each collaborator is probed on its own goroutine.
// Failed probes back off exponentially; healthy ones are re-checked on
// a fixed interval. Transitions are logged and published on the bus.
//
// Reachability is informational. Handlers still catch collaborator
// failures per call; connwatch only feeds /health and status telemetry.
package connwatch

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nugget/dazzy/internal/events"
)

// SourceConnwatch is the bus source for reachability events.
const SourceConnwatch = "connwatch"

// KindReachability is published when a collaborator goes up or down.
// Data: service, ready, error.
const KindReachability = "reachability"

// Probe checks a collaborator. It returns nil when reachable.
type Probe func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// RetryMin is the first delay after a failed probe (default 2s).
	RetryMin time.Duration
	// RetryMax caps the doubling retry delay (default 1m).
	RetryMax time.Duration
	// Interval is the delay between probes while healthy (default 1m).
	Interval time.Duration
	// Timeout bounds each probe (default 10s).
	Timeout time.Duration
}

// DefaultSchedule returns the production schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		RetryMin: 2 * time.Second,
		RetryMax: time.Minute,
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.RetryMin <= 0 {
		s.RetryMin = d.RetryMin
	}
	if s.RetryMax < s.RetryMin {
		s.RetryMax = max(d.RetryMax, s.RetryMin)
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// ServiceStatus is one collaborator's reachability.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checks    int       `json:"checks"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Service watches one collaborator.
type Service struct {
	name     string
	probe    Probe
	schedule Schedule
	bus      *events.Bus
	logger   *slog.Logger
	done     chan struct{}

	mu     sync.Mutex
	status ServiceStatus
}

// Status returns a copy of the current reachability.
func (s *Service) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ready reports whether the last probe succeeded.
func (s *Service) Ready() bool {
	return s.Status().Ready
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	retry := s.schedule.RetryMin
	for {
		err := s.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := s.schedule.Interval
		if err != nil {
			wait = retry
			retry = min(retry*2, s.schedule.RetryMax)
		} else {
			retry = s.schedule.RetryMin
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// check runs one probe and records a transition if there was one.
func (s *Service) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, s.schedule.Timeout)
	err := s.probe(pctx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	first := s.status.Checks == 0
	was := s.status.Ready
	s.status.Checks++
	s.status.LastCheck = time.Now()
	s.status.Ready = err == nil
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err == nil && (first || !was):
		s.logger.Info("service reachable", "service", s.name)
		s.publish(true, nil)
	case err != nil && (first || was):
		s.logger.Warn("service unreachable", "service", s.name, "error", err)
		s.publish(false, err)
	case err != nil:
		s.logger.Debug("service still unreachable", "service", s.name, "error", err)
	}
	return err
}

func (s *Service) publish(ready bool, err error) {
	data := map[string]any{"service": s.name, "ready": ready}
	if err != nil {
		data["error"] = err.Error()
	}
	s.bus.Emit(SourceConnwatch, KindReachability, data)
}

// Manager owns a set of watched services.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	services map[string]*Service
	cancels  []context.CancelFunc
}

// NewManager returns an empty manager. bus may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
		services: make(map[string]*Service),
	}
}

// Watch starts probing a collaborator until ctx is cancelled or Stop
// is called. Watching a name twice replaces nothing and returns the
// existing service.
func (m *Manager) Watch(ctx context.Context, name string, probe Probe, schedule Schedule) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[name]; ok {
		return s
	}

	s := &Service{
		name:     name,
		probe:    probe,
		schedule: schedule.withDefaults(),
		bus:      m.bus,
		logger:   m.logger,
		done:     make(chan struct{}),
		status:   ServiceStatus{Name: name},
	}
	wctx, cancel := context.WithCancel(ctx)
	m.services[name] = s
	m.cancels = append(m.cancels, cancel)
	go s.run(wctx)
	return s
}

// Status returns every service's reachability sorted by name.
func (m *Manager) Status() []ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServiceStatus, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s.Status())
	}
	slices.SortFunc(out, func(a, b ServiceStatus) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Healthy reports whether every watched service is reachable. A
// manager with nothing to watch is healthy.
func (m *Manager) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop cancels every probe loop and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	services := make([]*Service, 0, len(m.services))
	for _, s := range m.services {
		services = append(services, s)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, s := range services {
		<-s.done
	}
}
