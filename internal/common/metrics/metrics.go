// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Pipeline metrics.
var (
	RepliesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_pipeline_processed_total",
			Help: "Replies produced by the pipeline, by primary state and outcome",
		},
		[]string{"primary_state", "outcome"}, // outcome: auto_send | needs_review
	)

	StatesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_pipeline_states_detected_total",
			Help: "Detected states by id and tier",
		},
		[]string{"state", "tier"},
	)

	TemplateCompilations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reply_template_compilations_total",
			Help: "Distinct template bodies compiled into the shared cache",
		},
	)

	MissingPartials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_template_missing_partials_total",
			Help: "Partial references that did not resolve at render time",
		},
		[]string{"partial"},
	)

	HumanizerAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_humanizer_attempts_total",
			Help: "Rewrite attempts by result",
		},
		[]string{"result"}, // accepted | fact_check_failed | service_error
	)

	HumanizerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reply_humanizer_fallbacks_total",
			Help: "Replies that fell back to the deterministic body",
		},
	)

	HumanizerLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reply_humanizer_call_seconds",
			Help:    "Latency of a single generative rewrite call",
			Buckets: prometheus.DefBuckets,
		},
	)

	ValidationDiagnostics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_validation_diagnostics_total",
			Help: "Validation diagnostics by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	UpdatesDetermined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_record_updates_total",
			Help: "Record field updates by field and decision",
		},
		[]string{"field", "decision"}, // applied | blocked
	)
)
