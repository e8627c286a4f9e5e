package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the mission engine.
type Metrics struct {
	config MetricsConfig

	// Mission run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Thread metrics
	threadsStarted   *prometheus.CounterVec
	threadsCompleted *prometheus.CounterVec
	loopIterations   *prometheus.CounterVec

	// Dispatch metrics
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	skips            *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeThreads prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance: every record method checks for nil vectors.
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of mission runs started",
			},
			[]string{"mission"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of mission runs completed",
			},
			[]string{"mission", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of mission runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		threadsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "threads_started_total",
				Help:      "Total number of mission threads started",
			},
			[]string{"mission"},
		),
		threadsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "threads_completed_total",
				Help:      "Total number of mission threads reaching a terminal state",
			},
			[]string{"mission", "state"},
		),
		loopIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_iterations_total",
				Help:      "Total number of main sequence iterations started",
			},
			[]string{"thread"},
		),

		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of instrument command dispatches",
			},
			[]string{"verb", "status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of instrument command dispatches in seconds",
				Buckets:   buckets,
			},
			[]string{"verb"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_retries_total",
				Help:      "Total number of command step retries",
			},
			[]string{"thread"},
		),
		skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_skips_total",
				Help:      "Total number of command steps skipped by policy",
			},
			[]string{"thread"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeThreads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_threads",
				Help:      "Current number of active mission threads",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.threadsStarted,
		m.threadsCompleted,
		m.loopIterations,
		m.dispatches,
		m.dispatchDuration,
		m.retries,
		m.skips,
		m.errorsByClass,
		m.errorsByCode,
		m.activeThreads,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started mission runs.
func (m *Metrics) RecordRunStarted(mission string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mission).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(mission, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(mission, status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordThreadStarted increments the started thread counter and the
// active threads gauge.
func (m *Metrics) RecordThreadStarted(mission string) {
	if m.threadsStarted == nil {
		return
	}
	m.threadsStarted.WithLabelValues(mission).Inc()
	m.activeThreads.Inc()
}

// RecordThreadCompleted records a thread reaching a terminal state.
func (m *Metrics) RecordThreadCompleted(mission, state string) {
	if m.threadsCompleted == nil {
		return
	}
	m.threadsCompleted.WithLabelValues(mission, state).Inc()
	m.activeThreads.Dec()
}

// RecordLoopIteration increments the iteration counter for a thread.
func (m *Metrics) RecordLoopIteration(threadID string) {
	if m.loopIterations == nil {
		return
	}
	m.loopIterations.WithLabelValues(threadID).Inc()
}

// RecordDispatch records an instrument command dispatch.
func (m *Metrics) RecordDispatch(verb, status string, duration time.Duration) {
	if m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(verb, status).Inc()
	m.dispatchDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordRetry records a command step retry.
func (m *Metrics) RecordRetry(threadID string) {
	if m.retries == nil {
		return
	}
	m.retries.WithLabelValues(threadID).Inc()
}

// RecordSkip records a command step skipped by policy.
func (m *Metrics) RecordSkip(threadID string) {
	if m.skips == nil {
		return
	}
	m.skips.WithLabelValues(threadID).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
