// Package governance grades every tool invocation before it runs. The rule
// table is small and closed: green executes, yellow auto-approves outside
// production, yellow-in-production and red park the task behind a pending
// approval, and a tool invoked outside its allowed contexts is denied.
// Shell invocations are re-graded per command string. Any internal failure
// degrades to RequireApproval so the system fails closed.
package governance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wardenhq/warden/internal/approvals"
	"github.com/wardenhq/warden/internal/sanitize"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/internal/tools/security"
	"github.com/wardenhq/warden/pkg/models"
)

// ReasonUnavailable marks a decision produced while governance itself was
// failing. The caller parks the task; no approval record exists yet.
const ReasonUnavailable = "governance unavailable"

// Action is what the runtime must do with the invocation.
type Action string

const (
	// ActionExecute proceeds immediately.
	ActionExecute Action = "execute"
	// ActionAutoApprove proceeds immediately, recorded as auto-approved.
	ActionAutoApprove Action = "auto_approve"
	// ActionRequireApproval parks the task behind a pending approval.
	ActionRequireApproval Action = "require_approval"
	// ActionDeny refuses the invocation outright.
	ActionDeny Action = "deny"
)

// Decision is the outcome of grading one invocation.
type Decision struct {
	Action Action
	// Risk is the tag after per-invocation overrides.
	Risk   models.RiskLevel
	Reason string
	// ApprovalID is set when Action is ActionRequireApproval and the
	// approval record was persisted.
	ApprovalID string
	// Prompt is the operator-facing question for approval-bound calls.
	Prompt string
}

// Proceed reports whether the invocation may run now.
func (d Decision) Proceed() bool {
	return d.Action == ActionExecute || d.Action == ActionAutoApprove
}

// Engine evaluates invocations against the rule table. Decisions are a pure
// function of the request, the registry entry, and the environment; the only
// side effect is persisting an approval record on RequireApproval.
type Engine struct {
	registry   *tools.Registry
	store      *approvals.Store
	sanitizer  *sanitize.Sanitizer
	logger     *slog.Logger
	shellTools map[string]struct{}
	dryRun     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSanitizer sets the sanitizer used on approval summaries.
func WithSanitizer(s *sanitize.Sanitizer) Option {
	return func(e *Engine) { e.sanitizer = s }
}

// WithDryRun turns every approval-requiring call into a denial and persists
// nothing. Green and auto-approved calls are unaffected.
func WithDryRun() Option {
	return func(e *Engine) { e.dryRun = true }
}

// WithShellTools names the tools whose command argument is re-graded per
// invocation. Default: run_shell.
func WithShellTools(names ...string) Option {
	return func(e *Engine) {
		e.shellTools = make(map[string]struct{}, len(names))
		for _, name := range names {
			e.shellTools[name] = struct{}{}
		}
	}
}

// NewEngine creates a governance engine over a registry and approval store.
func NewEngine(registry *tools.Registry, store *approvals.Store, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		store:      store,
		sanitizer:  sanitize.New(),
		logger:     slog.Default(),
		shellTools: map[string]struct{}{"run_shell": {}},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide grades one invocation. It never returns an error: internal
// failures become RequireApproval with ReasonUnavailable.
func (e *Engine) Decide(req models.InvocationRequest) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("governance failure", "tool", req.Tool, "panic", rec)
			decision = Decision{Action: ActionRequireApproval, Risk: models.RiskRed, Reason: ReasonUnavailable}
		}
	}()

	entry, ok := e.registry.Lookup(req.Tool)
	if !ok {
		return Decision{Action: ActionDeny, Risk: models.RiskRed, Reason: "unknown tool"}
	}

	risk := entry.Risk()
	var overrideReason string
	if _, isShell := e.shellTools[req.Tool]; isShell {
		risk, overrideReason = reclassifyShell(req.Args, risk)
	}

	if contexts := entry.AllowedContexts(); len(contexts) > 0 && !containsEnv(contexts, req.Environment) {
		return Decision{Action: ActionDeny, Risk: risk, Reason: "context not permitted"}
	}

	switch risk {
	case models.RiskGreen:
		reason := overrideReason
		if reason == "" {
			reason = "read-only operation"
		}
		return Decision{Action: ActionExecute, Risk: risk, Reason: reason}
	case models.RiskYellow:
		if nonProduction(req.Environment) {
			return Decision{Action: ActionAutoApprove, Risk: risk, Reason: "non-prod yellow"}
		}
	}

	return e.requireApproval(entry, req, risk, overrideReason)
}

func (e *Engine) requireApproval(entry *tools.Entry, req models.InvocationRequest, risk models.RiskLevel, overrideReason string) Decision {
	reason := overrideReason
	if reason == "" {
		if risk == models.RiskYellow {
			reason = "production yellow"
		} else {
			reason = "red risk"
		}
	}
	prompt := entry.ApprovalPrompt()
	if prompt == "" {
		prompt = fmt.Sprintf("Tool %s requires approval (%s risk)", req.Tool, risk)
	}

	if e.dryRun {
		return Decision{Action: ActionDeny, Risk: risk, Reason: "dry run: " + reason, Prompt: prompt}
	}
	if e.store == nil {
		return Decision{Action: ActionRequireApproval, Risk: risk, Reason: ReasonUnavailable, Prompt: prompt}
	}

	approval, err := e.store.Create(approvals.Request{
		Tool:        req.Tool,
		ArgsDigest:  req.Digest(),
		Summary:     e.changePlan(req, prompt),
		Agent:       req.Agent,
		TaskID:      req.TaskID,
		Environment: req.Environment,
		Reason:      reason,
	})
	if err != nil {
		e.logger.Error("approval create failed", "tool", req.Tool, "error", err)
		return Decision{Action: ActionRequireApproval, Risk: risk, Reason: ReasonUnavailable, Prompt: prompt}
	}

	e.logger.Info("approval required",
		"tool", req.Tool,
		"approval_id", approval.ID,
		"risk", risk,
		"environment", req.Environment,
		"reason", reason)
	return Decision{Action: ActionRequireApproval, Risk: risk, Reason: reason, ApprovalID: approval.ID, Prompt: prompt}
}

// changePlan renders the operator-facing summary of what the agent wants to
// do. Arguments are sanitized before they touch the ledger.
func (e *Engine) changePlan(req models.InvocationRequest, prompt string) string {
	args := strings.TrimSpace(string(req.Args))
	if args == "" {
		args = "{}"
	}
	args = e.sanitizer.Truncate(e.sanitizer.Sanitize(args).Text)

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Tool: %s\nAgent: %s\nEnvironment: %s\nArguments: %s", req.Tool, req.Agent, req.Environment, args)
	return sb.String()
}

// reclassifyShell re-grades a shell invocation by its command string.
// Destructive commands pin red and cannot be downgraded; read-only commands
// earn green; everything else keeps the registered tag.
func reclassifyShell(args json.RawMessage, registered models.RiskLevel) (models.RiskLevel, string) {
	var input struct {
		Command string `json:"command"`
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &input)
	}

	c := security.Classify(input.Command)
	switch c.Class {
	case security.ClassDestructive:
		return models.RiskRed, c.Reason
	case security.ClassReadOnly:
		return models.RiskGreen, "read-only command"
	default:
		return registered, ""
	}
}

func nonProduction(env models.Environment) bool {
	switch env {
	case models.EnvDev, models.EnvStaging, models.EnvLocal:
		return true
	}
	return false
}

func containsEnv(list []models.Environment, env models.Environment) bool {
	for _, e := range list {
		if e == env {
			return true
		}
	}
	return false
}
