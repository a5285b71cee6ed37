// Package metrics exposes Prometheus instruments for the checkout workflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Checkout groups the instruments recorded by the payment workflow and its HTTP collaborators.
type Checkout struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	backendCalls *prometheus.HistogramVec
	escalations  *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// NewCheckout registers the instruments on a dedicated registry along with the Go and process
// collectors.
func NewCheckout() *Checkout {
	registry := prometheus.NewRegistry()
	m := &Checkout{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "attempt_transitions_total",
			Help:      "Payment attempt state transitions.",
		}, []string{"from", "to"}),
		backendCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to the commerce backend.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation", "outcome"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "escalations_total",
			Help:      "Payment failures routed to support.",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
	}
	registry.MustRegister(
		m.transitions,
		m.backendCalls,
		m.escalations,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Checkout) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Checkout) Registry() *prometheus.Registry { return m.registry }

// ObserveTransition counts a payment attempt state change.
func (m *Checkout) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "idle"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveBackendCall records the latency and outcome of a backend operation.
func (m *Checkout) ObserveBackendCall(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// ObserveEscalation counts an escalation by kind.
func (m *Checkout) ObserveEscalation(kind string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(kind).Inc()
}

// ObserveRequest counts a served HTTP request.
func (m *Checkout) ObserveRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
