package server

import (
	"context"
	"net/http"
	"strconv"

	"dployr/internal/deployment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	deliveries     *prometheus.CounterVec
	deployResults  *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	requestTotal   *prometheus.CounterVec
	rateLimitHits  *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dployr",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by provider and outcome",
		}, []string{"provider", "outcome"}),
		deployResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dployr",
			Name:      "deploy_results_total",
			Help:      "Finished deploy runs by outcome",
		}, []string{"outcome"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dployr",
			Name:      "deploy_duration_seconds",
			Help:      "Duration of deploy runs that reached the pull stage",
			Buckets:   histogramBuckets,
		}, []string{"outcome"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dployr",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dployr",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"scope"}),
	}

	m.registry.MustRegister(
		m.deliveries,
		m.deployResults,
		m.deployDuration,
		m.requestTotal,
		m.rateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordDelivery(provider, outcome string) {
	if provider == "" {
		provider = "unknown"
	}
	m.deliveries.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) recordRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) recordRateLimitHit(scope string) {
	m.rateLimitHits.WithLabelValues(scope).Inc()
}

// Notify counts a finished deploy run. It satisfies deployment.Notifier.
func (m *Metrics) Notify(_ context.Context, event deployment.Event) {
	outcome := string(event.Status)
	m.deployResults.WithLabelValues(outcome).Inc()
	if d := event.Run.Duration(); d > 0 {
		m.deployDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}
