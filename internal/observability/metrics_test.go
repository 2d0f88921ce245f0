package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTask(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTask("succeeded", "docker", 1.5)
	m.RecordTask("succeeded", "docker", 0.3)
	m.RecordTask("failed", "general", 0.1)

	expected := `
		# HELP warden_tasks_total Total number of tasks by final status and primary agent
		# TYPE warden_tasks_total counter
		warden_tasks_total{agent="docker",status="succeeded"} 2
		warden_tasks_total{agent="general",status="failed"} 1
	`
	if err := testutil.CollectAndCompare(m.TaskCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected task counter state: %v", err)
	}
	if got := testutil.CollectAndCount(m.TaskDuration); got != 2 {
		t.Errorf("task duration label combinations = %d, want 2", got)
	}
}

func TestRecordGovernance(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordGovernance("docker_restart", "require_approval")
	m.RecordGovernance("docker_ps", "execute")
	m.RecordGovernance("docker_ps", "execute")

	expected := `
		# HELP warden_governance_decisions_total Total number of tool invocations by governance action
		# TYPE warden_governance_decisions_total counter
		warden_governance_decisions_total{action="execute",tool="docker_ps"} 2
		warden_governance_decisions_total{action="require_approval",tool="docker_restart"} 1
	`
	if err := testutil.CollectAndCompare(m.GovernanceCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected governance counter state: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 1.2, 1000, 200)
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "error", 0.4, 0, 0)

	expected := `
		# HELP warden_llm_tokens_total Total number of tokens by provider, model, and type
		# TYPE warden_llm_tokens_total counter
		warden_llm_tokens_total{model="claude-sonnet-4-5",provider="anthropic",type="input"} 1000
		warden_llm_tokens_total{model="claude-sonnet-4-5",provider="anthropic",type="output"} 200
	`
	if err := testutil.CollectAndCompare(m.LLMTokens, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected token counter state: %v", err)
	}
	if got := testutil.CollectAndCount(m.LLMCounter); got != 2 {
		t.Errorf("llm counter label combinations = %d, want 2", got)
	}
}

func TestRecordRedaction(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRedaction("password", 2)
	m.RecordRedaction("api_key", 1)
	m.RecordRedaction("email", 0)

	expected := `
		# HELP warden_redactions_total Total number of redactions by pattern category
		# TYPE warden_redactions_total counter
		warden_redactions_total{category="api_key"} 1
		warden_redactions_total{category="password"} 2
	`
	if err := testutil.CollectAndCompare(m.RedactionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected redaction counter state: %v", err)
	}
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics

	// All helpers must be safe on a nil receiver.
	m.RecordTask("succeeded", "docker", 1.0)
	m.RecordGovernance("docker_ps", "execute")
	m.RecordToolExecution("docker_ps", "success", 0.1)
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 1.0, 10, 10)
	m.RecordApproval("created")
	m.RecordRedaction("password", 1)
}
