// Package metrics provides the control plane's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the control plane exposes.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RegistrationsTotal *prometheus.CounterVec
	HeartbeatsTotal    *prometheus.CounterVec
	AgentsOnline       prometheus.Gauge

	DistributionsTotal   *prometheus.CounterVec
	DistributionDuration *prometheus.HistogramVec

	AccessDecisionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_http_requests_total",
				Help: "Total number of HTTP requests handled by the control plane.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "controlplane_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "controlplane_http_requests_in_flight",
				Help: "Current number of in-flight HTTP requests.",
			},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_registrations_total",
				Help: "Total agent registration attempts by outcome.",
			},
			[]string{"outcome"},
		),
		HeartbeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_heartbeats_total",
				Help: "Total heartbeats processed by outcome.",
			},
			[]string{"outcome"},
		),
		AgentsOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "controlplane_agents_online",
				Help: "Current number of online (active or pending) agents.",
			},
		),
		DistributionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_distributions_total",
				Help: "Total policy distributions by outcome.",
			},
			[]string{"outcome"},
		),
		DistributionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "controlplane_distribution_duration_seconds",
				Help:    "Time from distribute() to the rollout reaching a terminal outcome.",
				Buckets: []float64{.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_access_decisions_total",
				Help: "Total access-control decisions by grant/denial reason.",
			},
			[]string{"granted", "reason"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
			m.RegistrationsTotal, m.HeartbeatsTotal, m.AgentsOnline,
			m.DistributionsTotal, m.DistributionDuration,
			m.AccessDecisionsTotal,
		)
	}
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler exposes the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
