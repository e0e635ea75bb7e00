// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Trial and run status labels.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	TrialsTotal  *prometheus.CounterVec
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	ActiveRuns   *prometheus.GaugeVec
	TrialsPerRun *prometheus.HistogramVec

	// API metrics
	APIRequestsTotal *prometheus.CounterVec
	WebSocketClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "simulation_engine"
	}
	factory := promauto.With(reg)

	return &Metrics{
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "trials_total",
			Help:      "Total number of trials run by engine, scenario and status",
		}, []string{"engine", "scenario", "status"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of engine runs by status",
		}, []string{"engine", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of engine runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"engine"}),
		ActiveRuns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_runs",
			Help:      "Number of engine runs in progress",
		}, []string{"engine"}),
		TrialsPerRun: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "successful_trials_per_run",
			Help:      "Successful trials aggregated per run",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"engine"}),

		APIRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"method", "route", "code"}),
		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		}),
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordTrial counts one finished trial.
func RecordTrial(engine, scenario string, err error) {
	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
	}
	DefaultMetrics.TrialsTotal.WithLabelValues(engine, scenario, status).Inc()
}

// RunStarted marks an engine run in progress.
func RunStarted(engine string) {
	DefaultMetrics.ActiveRuns.WithLabelValues(engine).Inc()
}

// RecordRun records a finished engine run.
func RecordRun(engine, status string, durationSeconds float64, successfulTrials int) {
	DefaultMetrics.ActiveRuns.WithLabelValues(engine).Dec()
	DefaultMetrics.RunsTotal.WithLabelValues(engine, status).Inc()
	DefaultMetrics.RunDuration.WithLabelValues(engine).Observe(durationSeconds)
	if successfulTrials > 0 {
		DefaultMetrics.TrialsPerRun.WithLabelValues(engine).Observe(float64(successfulTrials))
	}
}

// RecordAPIRequest counts one API request.
func RecordAPIRequest(method, route, code string) {
	DefaultMetrics.APIRequestsTotal.WithLabelValues(method, route, code).Inc()
}

// SetWebSocketClients updates the connected client gauge.
func SetWebSocketClients(n int) {
	DefaultMetrics.WebSocketClients.Set(float64(n))
}
