package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "interlude"

// Metrics holds the orchestrator's Prometheus instruments.
type Metrics struct {
	DeploysTotal          *prometheus.CounterVec
	DeployDurationSeconds *prometheus.HistogramVec
	UninstallsTotal       prometheus.Counter
	ActiveSubscribers     prometheus.Gauge
	DryRunsTotal          prometheus.Counter
}

// NewMetrics registers the instruments on the default registry. Call once
// at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		DeploysTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deploys_total",
				Help:      "Deploy runs by profile and outcome",
			},
			[]string{"profile", "outcome"},
		),
		DeployDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "deploy_duration_seconds",
				Help:      "Wall-clock duration of deploy runs",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"profile"},
		),
		UninstallsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uninstalls_total",
				Help:      "Uninstall runs",
			},
		),
		ActiveSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_stream_subscribers",
				Help:      "Currently attached event-stream subscribers",
			},
		),
		DryRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dry_runs_total",
				Help:      "Dry-run previews served",
			},
		),
	}
}

// SubscriberAttached increments the active subscriber gauge.
func (m *Metrics) SubscriberAttached() {
	m.ActiveSubscribers.Inc()
}

// SubscriberDetached decrements the active subscriber gauge.
func (m *Metrics) SubscriberDetached() {
	m.ActiveSubscribers.Dec()
}

// RecordDeploy records a finished deploy run.
func (m *Metrics) RecordDeploy(profile, outcome string, seconds float64) {
	m.DeploysTotal.WithLabelValues(profile, outcome).Inc()
	m.DeployDurationSeconds.WithLabelValues(profile).Observe(seconds)
}
