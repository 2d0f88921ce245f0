// Package observability collects Prometheus counters for task outcomes,
// governance decisions, tool executions, LLM usage, and redactions.
// Exposition is the embedder's choice; the collectors register against any
// prometheus.Registerer and work without an HTTP endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central collector set. A nil *Metrics records nothing, so
// callers hold it unconditionally.
type Metrics struct {
	// TaskCounter tracks finished tasks.
	// Labels: status (succeeded|failed|awaiting_approval|...), agent
	TaskCounter *prometheus.CounterVec

	// TaskDuration measures end-to-end task latency in seconds.
	// Labels: agent
	TaskDuration *prometheus.HistogramVec

	// GovernanceCounter tracks tool invocations by governance verdict.
	// Labels: tool, action (execute|auto_approve|require_approval|deny)
	GovernanceCounter *prometheus.CounterVec

	// ToolCounter counts dispatched tool executions.
	// Labels: tool, status (success|error)
	ToolCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// LLMCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMCounter *prometheus.CounterVec

	// LLMDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokens *prometheus.CounterVec

	// ApprovalCounter tracks approval records seen by the runtime.
	// Labels: event (created|approved|rejected)
	ApprovalCounter *prometheus.CounterVec

	// RedactionCounter counts redactions applied to tool output and task
	// text. Labels: category (password|api_key|bearer|...)
	RedactionCounter *prometheus.CounterVec
}

// NewMetrics registers the collector set with the default registry. Call
// once at startup.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New registers the collector set with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tasks_total",
				Help: "Total number of tasks by final status and primary agent",
			},
			[]string{"status", "agent"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_task_duration_seconds",
				Help:    "End-to-end task duration in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"agent"},
		),

		GovernanceCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_governance_decisions_total",
				Help: "Total number of tool invocations by governance action",
			},
			[]string{"tool", "action"},
		),

		ToolCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		LLMCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_llm_tokens_total",
				Help: "Total number of tokens by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_approvals_total",
				Help: "Total number of approval events observed by the runtime",
			},
			[]string{"event"},
		),

		RedactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_redactions_total",
				Help: "Total number of redactions by pattern category",
			},
			[]string{"category"},
		),
	}
}

// RecordTask records a finished (or parked) task.
func (m *Metrics) RecordTask(status, agent string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TaskCounter.WithLabelValues(status, agent).Inc()
	m.TaskDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordGovernance records one governance verdict for a tool invocation.
func (m *Metrics) RecordGovernance(tool, action string) {
	if m == nil {
		return
	}
	m.GovernanceCounter.WithLabelValues(tool, action).Inc()
}

// RecordToolExecution records one dispatched tool execution.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolCounter.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records one LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	m.LLMCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordApproval records an approval lifecycle event as the runtime sees
// it: created on park, approved or rejected on resume.
func (m *Metrics) RecordApproval(event string) {
	if m == nil {
		return
	}
	m.ApprovalCounter.WithLabelValues(event).Inc()
}

// RecordRedaction records n redactions of one pattern category.
func (m *Metrics) RecordRedaction(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RedactionCounter.WithLabelValues(category).Add(float64(n))
}
