// Package metrics implements the Prometheus-backed metrics registry that
// satisfies internal/orchestrator.Recorder: handler invocation counters,
// circuit breaker state gauges, and backpressure histograms. Grounded on
// r3e-network-service_layer/infrastructure/metrics/metrics.go's
// NewWithRegistry(serviceName, registerer) pattern.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the runtime host observes
// through.
type Registry struct {
	HandlerInvocationsTotal *prometheus.CounterVec
	HandlerDuration         *prometheus.HistogramVec
	BackpressureWait        prometheus.Histogram
	MaxInFlightReachedTotal prometheus.Counter
	InFlight                prometheus.Gauge
	BreakerState            *prometheus.GaugeVec
}

// New creates a Registry registered against the default Prometheus
// registerer.
func New(serviceName string) *Registry {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Registry against a caller-supplied registerer,
// letting tests use a fresh prometheus.NewRegistry() instead of the process
// default.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Registry {
	r := &Registry{
		HandlerInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omniintelligence_handler_invocations_total",
				Help: "Total handler invocations by handler name and outcome kind.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"handler", "outcome"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "omniintelligence_handler_duration_seconds",
				Help:    "Handler invocation duration in seconds.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"handler", "outcome"},
		),
		BackpressureWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "omniintelligence_backpressure_wait_seconds",
				Help:    "Time spent waiting for the max_in_flight semaphore.",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		MaxInFlightReachedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "omniintelligence_max_in_flight_reached_total",
				Help: "Number of times a new envelope had to wait because max_in_flight was saturated.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "omniintelligence_in_flight",
				Help: "Current number of envelopes being processed.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "omniintelligence_circuit_breaker_state",
				Help: "Circuit breaker state by scope: 0=closed, 1=open, 2=half_open (matches pkg/resilience.State).",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"scope"},
		),
	}

	registerer.MustRegister(
		r.HandlerInvocationsTotal,
		r.HandlerDuration,
		r.BackpressureWait,
		r.MaxInFlightReachedTotal,
		r.InFlight,
		r.BreakerState,
	)
	return r
}

// ObserveHandlerInvocation records one handler call's outcome and duration.
func (r *Registry) ObserveHandlerInvocation(handlerName string, outcome string, duration time.Duration) {
	r.HandlerInvocationsTotal.WithLabelValues(handlerName, outcome).Inc()
	r.HandlerDuration.WithLabelValues(handlerName, outcome).Observe(duration.Seconds())
}

// ObserveBackpressureWait records time spent waiting on max_in_flight.
func (r *Registry) ObserveBackpressureWait(duration time.Duration) {
	r.BackpressureWait.Observe(duration.Seconds())
}

// IncMaxInFlightReached increments the saturation counter.
func (r *Registry) IncMaxInFlightReached() {
	r.MaxInFlightReachedTotal.Inc()
}

// SetInFlight sets the current in-flight gauge.
func (r *Registry) SetInFlight(n int) {
	r.InFlight.Set(float64(n))
}

// SetBreakerState records a named scope's circuit breaker state as an
// enumerated gauge value matching pkg/resilience.State's iota ordering
// (0=closed, 1=open, 2=half_open).
func (r *Registry) SetBreakerState(scope string, state float64) {
	r.BreakerState.WithLabelValues(scope).Set(state)
}

// Handler returns the /metrics HTTP handler for the ambient metrics
// surface served by cmd/omni-orchestrator.
func Handler() http.Handler {
	return promhttp.Handler()
}
