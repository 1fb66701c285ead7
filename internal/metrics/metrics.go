// Package metrics exposes the bot's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaybot"

// Metrics holds the bot's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Updates        *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	HandlerLatency *prometheus.HistogramVec
	InFlight       prometheus.Gauge
	Rejected       prometheus.Counter
	ExternalCalls  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry. tempFiles, when set,
// is sampled at scrape time for the active temp file gauge.
func New(tempFiles func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound updates by dispatch route.",
		}, []string{"route"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Handler failures by route and failure kind.",
		}, []string{"route", "kind"}),
		HandlerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent handling one update, by route.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"route"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "updates_in_flight",
			Help:      "Updates currently being handled.",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_rejected_total",
			Help:      "Updates dropped because the runner was shutting down.",
		}),
		ExternalCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Calls to external services by service and outcome.",
		}, []string{"service", "outcome"}),
	}

	if tempFiles != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temp_files_active",
			Help:      "Temp files acquired and not yet released.",
		}, func() float64 { return float64(tempFiles()) })
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpdate records one handled update.
func (m *Metrics) ObserveUpdate(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.Updates.WithLabelValues(route).Inc()
	m.HandlerLatency.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveFailure records a classified handler failure.
func (m *Metrics) ObserveFailure(route, kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(route, kind).Inc()
}

// ObserveCall records the outcome of one external call.
func (m *Metrics) ObserveCall(service string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ExternalCalls.WithLabelValues(service, outcome).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// ObserveRejected records an update dropped at admission.
func (m *Metrics) ObserveRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}
