// Package metrics exposes Prometheus counters and histograms for
// dispatched turns, coordinator tasks and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/dazzy/internal/coordinator"
	"github.com/nugget/dazzy/internal/intent"
)

const namespace = "dazzy"

// Recorder implements dispatch.Observer and coordinator.Observer. A nil
// *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	tasks           *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	rejected        *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry along with the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Dispatched turns by answering intent or stage and error kind.",
		}, []string{"source", "kind"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to produce a reply.",
			Buckets:   []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 20},
		}, []string{"source"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished coordinator tasks by kind and final state.",
		}, []string{"kind", "state"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Coordinator task run time.",
		}, []string{"kind"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Submissions rejected because a task of the same kind was running.",
		}, []string{"kind"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
		}, []string{"method", "route"}),
	}
}

// ObserveDispatch records one dispatched turn.
func (r *Recorder) ObserveDispatch(source string, kind intent.ErrorKind, elapsed time.Duration) {
	if r == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	r.turns.WithLabelValues(source, kind.String()).Inc()
	r.turnDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveTask records one finished coordinator task.
func (r *Recorder) ObserveTask(kind coordinator.Kind, state coordinator.State, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(string(kind), string(state)).Inc()
	r.taskDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// ObserveRejected records a busy rejection.
func (r *Recorder) ObserveRejected(kind coordinator.Kind) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(string(kind)).Inc()
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
