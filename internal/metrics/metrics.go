// Package metrics holds the Prometheus collectors shared by the pipeline,
// the LLM gateway, the publish coordinator and the webhook handlers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the application collectors. A nil *Metrics is valid and
// records nothing, so tests and tools can skip registration.
type Metrics struct {
	PipelineRuns       *prometheus.CounterVec
	StageLatency       *prometheus.HistogramVec
	LLMCalls           *prometheus.CounterVec
	DeductionFailures  prometheus.Counter
	PublishResults     *prometheus.CounterVec
	WebhookUpdates     *prometheus.CounterVec
	RateLimitRejected  prometheus.Counter
	ScheduledJobErrors *prometheus.CounterVec
}

// New registers the collectors on reg. Use prometheus.DefaultRegisterer in
// the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botsmith_pipeline_runs_total",
			Help: "Pipeline runs by intent and outcome",
		}, []string{"intent", "outcome"}),

		// LLM stages dominate, so buckets go up to two minutes.
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botsmith_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),

		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botsmith_llm_calls_total",
			Help: "LLM gateway calls by schema and outcome",
		}, []string{"schema", "outcome"}),

		DeductionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "botsmith_credit_deduction_failures_total",
			Help: "Successful runs whose credit deduction failed",
		}),

		PublishResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botsmith_publish_results_total",
			Help: "Publish attempts by final phase and outcome",
		}, []string{"phase", "outcome"}),

		WebhookUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botsmith_webhook_updates_total",
			Help: "Inbound chat updates by target and type",
		}, []string{"target", "type"}),

		RateLimitRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "botsmith_rate_limit_rejected_total",
			Help: "Webhook requests rejected by the rate limiter",
		}),

		ScheduledJobErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botsmith_scheduled_job_errors_total",
			Help: "Scheduled job failures by job name",
		}, []string{"job"}),
	}
}

// RecordPipelineRun counts one finished pipeline run.
func (m *Metrics) RecordPipelineRun(intent, outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(intent, outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordLLMCall counts one gateway call.
func (m *Metrics) RecordLLMCall(schema, outcome string) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(schema, outcome).Inc()
}

func (m *Metrics) RecordDeductionFailure() {
	if m == nil {
		return
	}
	m.DeductionFailures.Inc()
}

// RecordPublish counts a publish attempt ending at phase.
func (m *Metrics) RecordPublish(phase string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.PublishResults.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) RecordWebhookUpdate(target, updateType string) {
	if m == nil {
		return
	}
	m.WebhookUpdates.WithLabelValues(target, updateType).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejected.Inc()
}

func (m *Metrics) RecordJobError(job string) {
	if m == nil {
		return
	}
	m.ScheduledJobErrors.WithLabelValues(job).Inc()
}
