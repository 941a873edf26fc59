package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UploadsTotal    *prometheus.CounterVec
	AnalysesTotal   *prometheus.CounterVec
	AdvisoryCalls   *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path pattern and status.",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_uploads_total",
			Help: "Dataset uploads by outcome.",
		}, []string{"outcome"}),
		AnalysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concentration_analyses_total",
			Help: "Concentration analyses by outcome.",
		}, []string{"outcome"}),
		AdvisoryCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "advisory_calls_total",
			Help: "Advisory provider calls by status.",
		}, []string{"status"}),
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
