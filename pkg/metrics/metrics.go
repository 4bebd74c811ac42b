// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RunsTotal tracks agent runs by disposition: completed, suspended,
	// failed, or silent (trigger runs that produced the no-reply sentinel).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_runs_total",
			Help: "Total agent runs by disposition",
		},
		[]string{"disposition"},
	)

	// RunDuration tracks end-to-end agent run duration.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// ActionsTotal tracks action executions by name and outcome.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_total",
			Help: "Total action executions by outcome",
		},
		[]string{"action", "outcome"},
	)

	// ApprovalsTotal tracks resolved approval decisions.
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_total",
			Help: "Total resolved approval decisions",
		},
		[]string{"decision"},
	)

	// PendingApprovals tracks conversations currently awaiting decisions.
	PendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_approvals",
			Help: "Conversations with unresolved pending action calls",
		},
	)

	// CompactionsTotal tracks history compaction attempts by stage and result.
	CompactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_compactions_total",
			Help: "History compaction attempts by stage and result",
		},
		[]string{"stage", "result"},
	)

	// TriggersTotal tracks trigger events by gate outcome.
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triggers_total",
			Help: "Trigger events by rate-limiter outcome",
		},
		[]string{"source", "outcome"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// LLMRequestDuration tracks model call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for a model invocation.
func RecordLLMCall(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordCompaction records one compaction attempt.
func RecordCompaction(stage string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	CompactionsTotal.WithLabelValues(stage, result).Inc()
}
