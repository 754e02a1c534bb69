package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the retry/resume engine and the
// wait/notify engine.
type Metrics struct {
	config MetricsConfig

	// Retry metrics
	retryValidations *prometheus.CounterVec
	yamlRewrites     *prometheus.CounterVec
	rewriteDuration  prometheus.Histogram
	skippedStages    prometheus.Histogram
	identityNodes    prometheus.Counter
	planTransforms   *prometheus.CounterVec

	// Wait engine metrics
	waitInstancesSaved    prometheus.Counter
	waitInstancesResolved prometheus.Counter
	waitClaims            *prometheus.CounterVec
	progressClaims        *prometheus.CounterVec
	notifyQueueDepth      prometheus.Gauge
	callbackDuration      prometheus.Histogram

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		retryValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_validations_total",
				Help:      "Total number of retry resumability checks",
			},
			[]string{"resumable"},
		),
		yamlRewrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "yaml_rewrites_total",
				Help:      "Total number of processed-YAML rewrites for resume",
			},
			[]string{"status"},
		),
		rewriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "yaml_rewrite_duration_seconds",
				Help:      "Duration of processed-YAML rewrites in seconds",
				Buckets:   buckets,
			},
		),
		skippedStages: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "skipped_stages_per_rewrite",
				Help:      "Number of stages replayed by reference per rewrite",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		identityNodes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_nodes_created_total",
				Help:      "Total number of plan nodes converted to identity nodes",
			},
		),
		planTransforms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_transforms_total",
				Help:      "Total number of plan transforms for resume",
			},
			[]string{"status"},
		),

		waitInstancesSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_instances_saved_total",
				Help:      "Total number of wait instances registered",
			},
		),
		waitInstancesResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_instances_resolved_total",
				Help:      "Total number of wait instances whose waiting set drained",
			},
		),
		waitClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_instance_claims_total",
				Help:      "Wait instance claim attempts by outcome (won, lost)",
			},
			[]string{"outcome"},
		),
		progressClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_update_claims_total",
				Help:      "Progress update claim attempts by outcome (won, lost)",
			},
			[]string{"outcome"},
		),
		notifyQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notify_responses_pending",
				Help:      "Current number of unconsumed notify responses",
			},
		),
		callbackDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "callback_processing_duration_seconds",
				Help:      "Duration of wait instance callback aggregation in seconds",
				Buckets:   buckets,
			},
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
	}

	registry.MustRegister(
		m.retryValidations,
		m.yamlRewrites,
		m.rewriteDuration,
		m.skippedStages,
		m.identityNodes,
		m.planTransforms,
		m.waitInstancesSaved,
		m.waitInstancesResolved,
		m.waitClaims,
		m.progressClaims,
		m.notifyQueueDepth,
		m.callbackDuration,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Retry metrics

// RecordRetryValidation records the outcome of a resumability check.
func (m *Metrics) RecordRetryValidation(resumable bool) {
	if m.retryValidations == nil {
		return
	}
	m.retryValidations.WithLabelValues(fmt.Sprintf("%t", resumable)).Inc()
}

// RecordYamlRewrite records a processed-YAML rewrite with its duration and
// the number of stages replayed by reference.
func (m *Metrics) RecordYamlRewrite(status string, duration time.Duration, skippedStages int) {
	if m.yamlRewrites == nil {
		return
	}
	m.yamlRewrites.WithLabelValues(status).Inc()
	m.rewriteDuration.Observe(duration.Seconds())
	m.skippedStages.Observe(float64(skippedStages))
}

// RecordPlanTransform records a plan transform and the identity nodes it
// produced.
func (m *Metrics) RecordPlanTransform(status string, identityNodes int) {
	if m.planTransforms == nil {
		return
	}
	m.planTransforms.WithLabelValues(status).Inc()
	m.identityNodes.Add(float64(identityNodes))
}

// Wait engine metrics

// RecordWaitInstanceSaved increments the counter for registered wait
// instances.
func (m *Metrics) RecordWaitInstanceSaved() {
	if m.waitInstancesSaved == nil {
		return
	}
	m.waitInstancesSaved.Inc()
}

// RecordWaitInstanceResolved increments the counter for wait instances whose
// waiting set drained to empty.
func (m *Metrics) RecordWaitInstanceResolved() {
	if m.waitInstancesResolved == nil {
		return
	}
	m.waitInstancesResolved.Inc()
}

// RecordWaitClaim records a wait instance claim attempt; won is false when
// the caller lost the lease race or nothing was claimable.
func (m *Metrics) RecordWaitClaim(won bool) {
	if m.waitClaims == nil {
		return
	}
	m.waitClaims.WithLabelValues(claimOutcome(won)).Inc()
}

// RecordProgressClaim records a progress update claim attempt.
func (m *Metrics) RecordProgressClaim(won bool) {
	if m.progressClaims == nil {
		return
	}
	m.progressClaims.WithLabelValues(claimOutcome(won)).Inc()
}

// SetNotifyQueueDepth sets the current number of unconsumed notify responses.
func (m *Metrics) SetNotifyQueueDepth(count float64) {
	if m.notifyQueueDepth == nil {
		return
	}
	m.notifyQueueDepth.Set(count)
}

// RecordCallbackProcessing records the duration of one callback aggregation.
func (m *Metrics) RecordCallbackProcessing(duration time.Duration) {
	if m.callbackDuration == nil {
		return
	}
	m.callbackDuration.Observe(duration.Seconds())
}

func claimOutcome(won bool) string {
	if won {
		return "won"
	}
	return "lost"
}

// Error metrics

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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
