package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the collectors served on /metrics. Each Server registers
// them on its own registry so tests can build many servers.
type Metrics struct {
	Registry *prometheus.Registry

	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	authEvents *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passkeeper",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "passkeeper",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passkeeper",
			Name:      "auth_events_total",
			Help:      "Identity operations by event and outcome.",
		}, []string{"event", "outcome"}),
	}

	m.Registry.MustRegister(
		m.requests,
		m.duration,
		m.authEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// authEvent records the outcome of one identity operation.
func (m *Metrics) authEvent(event string, err error) {
	outcome := "success"
	if err != nil {
		outcome = errorKind(err)
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}
