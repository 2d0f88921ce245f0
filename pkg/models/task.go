// Package models defines the shared data types exchanged between the
// orchestrator, router, agent runtime, governance layer, and stores.
package models

import "time"

// Environment identifies where a task's side effects land.
type Environment string

const (
	// EnvDev is a development environment.
	EnvDev Environment = "dev"
	// EnvStaging is a pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment. It is the default when
	// nothing else is configured, so the most restrictive rules apply.
	EnvProduction Environment = "production"
	// EnvLocal is the operator's own machine.
	EnvLocal Environment = "local"
)

// IsProduction reports whether the environment is production.
func (e Environment) IsProduction() bool {
	return e == EnvProduction || e == ""
}

// ParseEnvironment normalizes an environment string, defaulting to
// production for anything unrecognized.
func ParseEnvironment(s string) Environment {
	switch Environment(s) {
	case EnvDev, EnvStaging, EnvLocal:
		return Environment(s)
	case "development":
		return EnvDev
	default:
		return EnvProduction
	}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskQueued            TaskStatus = "queued"
	TaskRunning           TaskStatus = "running"
	TaskAwaitingApproval  TaskStatus = "awaiting_approval"
	TaskAwaitingHuman     TaskStatus = "awaiting_human_input"
	TaskSucceeded         TaskStatus = "succeeded"
	TaskFailed            TaskStatus = "failed"
	TaskStopped           TaskStatus = "stopped"
	TaskBudgetExhausted   TaskStatus = "budget_exhausted"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskStopped, TaskBudgetExhausted:
		return true
	}
	return false
}

// Task is an immutable unit of work submitted to the orchestrator.
type Task struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Environment Environment `json:"environment"`
	ParentID    string      `json:"parent_id,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// TaskResult is the orchestrator's answer for a task. Reason is a stable
// machine-readable code on non-success ("iteration_cap", "repeated_error",
// "empty_task", ...); Summary is the human-readable outcome.
type TaskResult struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	ApprovalID string     `json:"approval_id,omitempty"`
	// Clarification carries the question to put to the human when the
	// router asked for more detail; the caller re-invokes Execute with the
	// amended task text.
	Clarification string `json:"clarification,omitempty"`
}

// RouteDecision is the router's classification of a task.
type RouteDecision struct {
	Primary         string   `json:"primary_agent"`
	Secondaries     []string `json:"secondary_agents,omitempty"`
	Complexity      string   `json:"complexity"`
	NeedsClarify    bool     `json:"needs_clarification"`
	ClarifyQuestion string   `json:"clarification_question,omitempty"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning,omitempty"`
}

// Complexity tiers for RouteDecision.Complexity.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)
