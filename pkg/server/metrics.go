package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exposed at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	llmCallsTotal   *prometheus.CounterVec
}

// NewMetrics creates a metrics set on a private registry so tests can hold
// several servers without duplicate registration panics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdsp_http_requests_total",
			Help: "Total HTTP requests by method and route.",
		}, []string{"method", "route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hdsp_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hdsp_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		llmCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdsp_llm_calls_total",
			Help: "LLM calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.inFlight, m.llmCallsTotal)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLLMCall records one gateway call outcome.
func (m *Metrics) ObserveLLMCall(endpoint string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.llmCallsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// middleware measures request count, duration, and in-flight gauge. The
// ResponseWriter is deliberately not wrapped so http.Flusher keeps working on
// SSE paths; status codes are therefore not a label.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(w, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(r.Method, route).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
