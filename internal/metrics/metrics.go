// Package metrics exposes Prometheus collectors for evaluations, the
// interaction reconciler and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/kata/internal/domain"
)

const namespace = "kata"

// Metrics holds all collectors. It implements runner.Observer and
// interaction.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	TransitionsTotal *prometheus.CounterVec
	ConflictsTotal   prometheus.Counter
	ExhaustedTotal   prometheus.Counter
	BusyTotal        prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, including the Go runtime
// and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the kata collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sandbox",
				Name:      "evaluations_total",
				Help:      "Evaluations by executor and verdict kind",
			},
			[]string{"executor", "verdict"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sandbox",
				Name:      "evaluation_duration_seconds",
				Help:      "Wall-clock time of the fixture run",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"executor"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "transitions_total",
				Help:      "Committed interaction transitions by intent",
			},
			[]string{"intent"},
		),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "conflicts_total",
			Help:      "Optimistic transaction attempts that hit a conflict",
		}),
		ExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "retries_exhausted_total",
			Help:      "Transitions abandoned after exhausting retries",
		}),
		BusyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "busy_total",
			Help:      "Intents rejected because the pair was in flight",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.TransitionsTotal,
		m.ConflictsTotal,
		m.ExhaustedTotal,
		m.BusyTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// ObserveEvaluation records a finished evaluation
func (m *Metrics) ObserveEvaluation(executor string, kind domain.VerdictKind, d time.Duration) {
	m.EvaluationsTotal.WithLabelValues(executor, string(kind)).Inc()
	m.EvaluationDuration.WithLabelValues(executor).Observe(d.Seconds())
}

// ObserveTransition records a committed transition
func (m *Metrics) ObserveTransition(intent domain.Intent) {
	m.TransitionsTotal.WithLabelValues(string(intent)).Inc()
}

// ObserveConflict records a conflicting attempt
func (m *Metrics) ObserveConflict() { m.ConflictsTotal.Inc() }

// ObserveExhausted records an abandoned transition
func (m *Metrics) ObserveExhausted() { m.ExhaustedTotal.Inc() }

// ObserveBusy records a rejected in-flight intent
func (m *Metrics) ObserveBusy() { m.BusyTotal.Inc() }

// ObserveRequest records a served HTTP request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the exposition format for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
