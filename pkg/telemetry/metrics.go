package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for suite runs.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	testsTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	resourcesTotal *prometheus.CounterVec
	buildsTotal    *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec

	submissionsTotal *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of suite runs completed",
			},
			[]string{"suite", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a suite run in seconds",
				Buckets:   buckets,
			},
			[]string{"suite"},
		),
		testsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tests_total",
				Help:      "Total number of tests executed by terminal status",
			},
			[]string{"suite", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of a single pipeline stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		resourcesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_total",
				Help:      "Total number of resources provisioned by status",
			},
			[]string{"status"},
		),
		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of builder invocations",
			},
			[]string{"builder", "result"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of builder invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"builder"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_submissions_total",
				Help:      "Total number of process submissions to the engine",
			},
			[]string{"entrypoint", "state"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of suite runs in progress",
			},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.testsTotal,
		m.stageDuration,
		m.resourcesTotal,
		m.buildsTotal,
		m.buildDuration,
		m.submissionsTotal,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted marks a suite run as in progress.
func (m *Metrics) RecordRunStarted() {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished suite run. outcome is "completed" or "halted".
func (m *Metrics) RecordRunCompleted(suite, outcome string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(suite, outcome).Inc()
	m.runDuration.WithLabelValues(suite).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordTest records the terminal status of one test.
func (m *Metrics) RecordTest(suite, status string) {
	if m == nil || m.testsTotal == nil {
		return
	}
	m.testsTotal.WithLabelValues(suite, status).Inc()
}

// RecordStage records the duration of a pipeline stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordResource records the provisioning outcome of one resource.
func (m *Metrics) RecordResource(status string) {
	if m == nil || m.resourcesTotal == nil {
		return
	}
	m.resourcesTotal.WithLabelValues(status).Inc()
}

// RecordBuild records one builder invocation.
func (m *Metrics) RecordBuild(builder string, duration time.Duration, err error) {
	if m == nil || m.buildsTotal == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.buildsTotal.WithLabelValues(builder, result).Inc()
	m.buildDuration.WithLabelValues(builder).Observe(duration.Seconds())
}

// RecordSubmission records a process submission and the resulting node state.
func (m *Metrics) RecordSubmission(entrypoint, state string) {
	if m == nil || m.submissionsTotal == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(entrypoint, state).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// It is a no-op when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
