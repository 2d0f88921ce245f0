// Package agent is the shared cooperative loop behind every agent kind:
// ask the LLM, dispatch the tool it requests under governance, feed the
// sanitized result back, and finish on a plain-text answer or a tripped
// budget. Kinds differ only in system prompt and preferred tools; the
// runtime is identical for all of them.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/approvals"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/compaction"
	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/internal/emergency"
	"github.com/wardenhq/warden/internal/facts"
	"github.com/wardenhq/warden/internal/governance"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/sanitize"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

const (
	// DefaultMaxToolTurns caps tool-invoking turns per run.
	DefaultMaxToolTurns = 5
	// DefaultMaxWallTime caps one whole run.
	DefaultMaxWallTime = 10 * time.Minute
	// DefaultLLMTimeout caps a single completion call.
	DefaultLLMTimeout = 60 * time.Second

	// maxRepeatedErrors aborts the run once one error signature has been
	// seen this many times.
	maxRepeatedErrors = 3
)

// Result is one agent run's outcome. Reason is a stable machine-readable
// code on non-success; Summary is for humans.
type Result struct {
	Status        models.TaskStatus
	Summary       string
	Reason        string
	ApprovalID    string
	Clarification string
	ToolTurns     int
}

// Runtime executes agent runs. Safe for concurrent use across tasks.
type Runtime struct {
	provider  llm.Provider
	registry  *tools.Registry
	gov       *governance.Engine
	store     *approvals.Store
	sanitizer *sanitize.Sanitizer
	pruner    *compaction.Pruner
	tracker   *costs.Tracker
	ledger    *facts.Ledger
	stop      *emergency.Stop
	broker    *auth.Broker
	logger    *slog.Logger
	metrics   *observability.Metrics

	model        string
	maxToolTurns int
	maxWallTime  time.Duration
	llmTimeout   time.Duration
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithApprovalStore lets parked runs resume against operator verdicts.
func WithApprovalStore(s *approvals.Store) Option {
	return func(r *Runtime) { r.store = s }
}

// WithSanitizer overrides the tool-output sanitizer.
func WithSanitizer(s *sanitize.Sanitizer) Option {
	return func(r *Runtime) { r.sanitizer = s }
}

// WithPruner overrides the context pruner.
func WithPruner(p *compaction.Pruner) Option {
	return func(r *Runtime) { r.pruner = p }
}

// WithTracker enables cost accounting and budget enforcement.
func WithTracker(t *costs.Tracker) Option {
	return func(r *Runtime) { r.tracker = t }
}

// WithLedger enables failure memory and fix suggestions.
func WithLedger(l *facts.Ledger) Option {
	return func(r *Runtime) { r.ledger = l }
}

// WithEmergencyStop wires the kill switch into every yield point.
func WithEmergencyStop(s *emergency.Stop) Option {
	return func(r *Runtime) { r.stop = s }
}

// WithAuthBroker gates identity-requiring tools on host credentials.
func WithAuthBroker(b *auth.Broker) Option {
	return func(r *Runtime) { r.broker = b }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithMetrics enables Prometheus counters for LLM calls, governance
// decisions, tool executions, and redactions.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithModel sets the completion model.
func WithModel(model string) Option {
	return func(r *Runtime) { r.model = model }
}

// WithMaxToolTurns overrides the tool-turn cap.
func WithMaxToolTurns(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxToolTurns = n
		}
	}
}

// WithWallClock overrides the per-run wall-clock budget.
func WithWallClock(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.maxWallTime = d
		}
	}
}

// WithLLMTimeout overrides the per-completion timeout.
func WithLLMTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.llmTimeout = d
		}
	}
}

// NewRuntime builds a runtime over a provider, a tool registry, and a
// governance engine.
func NewRuntime(provider llm.Provider, registry *tools.Registry, gov *governance.Engine, opts ...Option) *Runtime {
	r := &Runtime{
		provider:     provider,
		registry:     registry,
		gov:          gov,
		sanitizer:    sanitize.New(),
		pruner:       compaction.NewPruner(),
		logger:       slog.Default(),
		maxToolTurns: DefaultMaxToolTurns,
		maxWallTime:  DefaultMaxWallTime,
		llmTimeout:   DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runState is the per-run loop-detector memory.
type runState struct {
	toolTurns int
	// errorCounts tracks occurrences of each error signature.
	errorCounts map[string]int
	// attempted maps tool+digest to the error signature it produced, so a
	// failed call is never retried verbatim in the same run.
	attempted map[string]string
}

// Run executes one task with the given agent definition. Extra messages
// (for example, a primary agent's summary handed to a secondary) precede
// the task text in the conversation.
func (r *Runtime) Run(ctx context.Context, def Definition, task models.Task, extra ...models.Message) Result {
	runCtx, cancel := context.WithTimeout(ctx, r.maxWallTime)
	defer cancel()

	system := systemPrompt(def, r.registry)
	conv := make([]models.Message, 0, len(extra)+1)
	conv = append(conv, extra...)
	conv = append(conv, models.Message{Role: models.RoleUser, Content: task.Text})

	run := &runState{
		errorCounts: make(map[string]int),
		attempted:   make(map[string]string),
	}

	r.logger.Info("agent run started",
		"agent", def.Name,
		"task_id", task.ID,
		"environment", string(task.Environment),
	)

	for {
		if res, halted := r.checkYield(ctx, runCtx, task, run); halted {
			return res
		}

		// Reasoning: prune, complete, account.
		pruned := r.pruner.Prune(conv)
		conv = pruned.Messages
		if pruned.Pruned {
			r.logger.Debug("conversation pruned",
				"task_id", task.ID,
				"dropped_messages", pruned.DroppedMessages,
				"dropped_tokens", pruned.DroppedTokens,
			)
		}

		llmCtx, cancelLLM := context.WithTimeout(runCtx, r.llmTimeout)
		llmStart := time.Now()
		resp, err := r.provider.Complete(llmCtx, &llm.Request{
			Model:    r.model,
			System:   system,
			Messages: conv,
		})
		cancelLLM()
		if err != nil {
			r.metrics.RecordLLMRequest(r.provider.Name(), r.model, "error", time.Since(llmStart).Seconds(), 0, 0)
			if runCtx.Err() != nil {
				return r.deadlineResult(ctx, run)
			}
			r.logger.Error("llm call failed", "agent", def.Name, "task_id", task.ID, "error", err)
			return Result{
				Status:    models.TaskFailed,
				Reason:    "llm_error",
				Summary:   "LLM call failed: " + err.Error(),
				ToolTurns: run.toolTurns,
			}
		}
		r.metrics.RecordLLMRequest(r.provider.Name(), r.model, "success", time.Since(llmStart).Seconds(), resp.InputTokens, resp.OutputTokens)
		if r.tracker != nil {
			r.tracker.Record(task.ID, "agent:"+def.Name, resp.InputTokens, resp.OutputTokens, r.provider.Rates(r.model))
		}
		conv = append(conv, models.Message{Role: models.RoleAssistant, Content: resp.Content})

		call, isCall := parseToolCall(resp.Content)
		if !isCall && !looksLikeCall(resp.Content) {
			// Final answer.
			return Result{
				Status:    models.TaskSucceeded,
				Summary:   strings.TrimSpace(resp.Content),
				ToolTurns: run.toolTurns,
			}
		}

		run.toolTurns++
		if run.toolTurns > r.maxToolTurns {
			return Result{
				Status:    models.TaskFailed,
				Reason:    "iteration_cap",
				Summary:   fmt.Sprintf("no final answer after %d tool turns", r.maxToolTurns),
				ToolTurns: run.toolTurns,
			}
		}

		if !isCall {
			conv = append(conv, toolError("", "",
				`malformed tool call; end the reply with exactly one object of the form {"tool": "<name>", "args": {...}}`))
			continue
		}

		msg, res, halted := r.dispatch(runCtx, def, task, call, run)
		if halted {
			return res
		}
		conv = append(conv, msg)
	}
}

// checkYield runs the per-iteration suspension checks: wall clock,
// emergency stop, budget. Order matters only in that the stop wins.
func (r *Runtime) checkYield(parent, runCtx context.Context, task models.Task, run *runState) (Result, bool) {
	if runCtx.Err() != nil {
		return r.deadlineResult(parent, run), true
	}
	if r.stop != nil {
		if err := r.stop.Check(); err != nil {
			return Result{
				Status:    models.TaskStopped,
				Reason:    "emergency_stop",
				Summary:   err.Error(),
				ToolTurns: run.toolTurns,
			}, true
		}
	}
	if r.tracker != nil {
		if err := r.tracker.EnsureWithinLimits(task.ID); err != nil {
			return Result{
				Status:    models.TaskBudgetExhausted,
				Reason:    "cost_limit",
				Summary:   err.Error(),
				ToolTurns: run.toolTurns,
			}, true
		}
	}
	return Result{}, false
}

func (r *Runtime) deadlineResult(parent context.Context, run *runState) Result {
	if parent.Err() != nil {
		return Result{
			Status:    models.TaskFailed,
			Reason:    "cancelled",
			Summary:   "run cancelled",
			ToolTurns: run.toolTurns,
		}
	}
	return Result{
		Status:    models.TaskFailed,
		Reason:    "wall_clock",
		Summary:   fmt.Sprintf("run exceeded its %s wall-clock budget", r.maxWallTime),
		ToolTurns: run.toolTurns,
	}
}

// dispatch runs the ToolDispatch state for one call. It returns either a
// conversation message to append (the call completed, was denied, or was
// rejected) or a halting Result (approval park, stop, repeated error).
func (r *Runtime) dispatch(runCtx context.Context, def Definition, task models.Task, call models.ToolCall, run *runState) (models.Message, Result, bool) {
	digest := call.ArgsDigest()

	entry, known := r.registry.Lookup(call.Name)
	if !known {
		// Unknown tools fail the call immediately; they never reach
		// governance or an approval.
		return toolError(call.Name, digest, fmt.Sprintf(
			"unknown tool %q; available tools: %s",
			call.Name, strings.Join(r.registry.Names(), ", "),
		)), Result{}, false
	}
	if err := entry.ValidateArgs(call.Args); err != nil {
		return toolError(call.Name, digest, "invalid arguments: "+err.Error()), Result{}, false
	}

	// A call that already failed in this run is never retried verbatim.
	key := call.Name + ":" + digest
	if sig, tried := run.attempted[key]; tried {
		content := "this exact call already failed in this run; take a different approach"
		if r.ledger != nil {
			if fix := r.ledger.SuggestedFix(sig); fix != "" {
				content += ". Suggested fix: " + fix
			}
		}
		return toolError(call.Name, digest, content), Result{}, false
	}

	if r.stop != nil {
		if err := r.stop.Check(); err != nil {
			return models.Message{}, Result{
				Status:    models.TaskStopped,
				Reason:    "emergency_stop",
				Summary:   err.Error(),
				ToolTurns: run.toolTurns,
			}, true
		}
	}

	// Resume path: an operator may already have ruled on this invocation
	// in an earlier run of the same task.
	if r.store != nil {
		if prior, err := r.store.Match(task.ID, call.Name, digest); err == nil {
			switch prior.Verdict {
			case approvals.VerdictApproved:
				r.logger.Info("resuming approved call",
					"task_id", task.ID, "tool", call.Name, "approval_id", prior.ID)
				r.metrics.RecordApproval("approved")
				return r.invoke(runCtx, def, task, call, entry, run)
			case approvals.VerdictRejected:
				reason := prior.Note
				if reason == "" {
					reason = "operator rejected this call"
				}
				r.metrics.RecordApproval("rejected")
				return toolError(call.Name, digest, "rejected: "+reason), Result{}, false
			default:
				return models.Message{}, Result{
					Status:     models.TaskAwaitingApproval,
					Reason:     prior.Reason,
					Summary:    prior.Summary,
					ApprovalID: prior.ID,
					ToolTurns:  run.toolTurns,
				}, true
			}
		}
	}

	decision := r.gov.Decide(models.InvocationRequest{
		Tool:        call.Name,
		Args:        call.Args,
		Agent:       def.Name,
		TaskID:      task.ID,
		Environment: task.Environment,
	})
	r.metrics.RecordGovernance(call.Name, string(decision.Action))
	switch decision.Action {
	case governance.ActionExecute, governance.ActionAutoApprove:
		if decision.Action == governance.ActionAutoApprove {
			r.logger.Info("auto-approved",
				"tool", call.Name, "task_id", task.ID, "reason", decision.Reason)
		}
		return r.invoke(runCtx, def, task, call, entry, run)
	case governance.ActionRequireApproval:
		r.metrics.RecordApproval("created")
		return models.Message{}, Result{
			Status:     models.TaskAwaitingApproval,
			Reason:     decision.Reason,
			Summary:    decision.Prompt,
			ApprovalID: decision.ApprovalID,
			ToolTurns:  run.toolTurns,
		}, true
	default:
		return toolError(call.Name, digest, "denied: "+decision.Reason), Result{}, false
	}
}

// invoke performs the tool call and normalizes its outcome into a sanitized
// conversation message, feeding the loop detector on errors.
func (r *Runtime) invoke(runCtx context.Context, def Definition, task models.Task, call models.ToolCall, entry *tools.Entry, run *runState) (models.Message, Result, bool) {
	if r.broker != nil {
		if id := entry.Identity(); id != "" {
			st := r.broker.Require(runCtx, id)
			if !st.Ready {
				return models.Message{}, Result{
					Status:        models.TaskAwaitingHuman,
					Reason:        "credentials_needed",
					Summary:       st.Prompt,
					Clarification: st.Prompt,
					ToolTurns:     run.toolTurns,
				}, true
			}
		}
	}

	dispatchStart := time.Now()
	outcome := r.registry.Dispatch(runCtx, call)
	digest := call.ArgsDigest()

	raw := outcome.Data
	isErr := !outcome.OK()
	if isErr {
		raw = outcome.Error
	}
	status := "success"
	if isErr {
		status = "error"
	}
	r.metrics.RecordToolExecution(call.Name, status, time.Since(dispatchStart).Seconds())

	// Sanitize before anything touches the conversation.
	sanitized := r.sanitizer.Sanitize(raw)
	content := r.sanitizer.Truncate(sanitized.Text)
	if len(sanitized.Redactions) > 0 {
		r.logger.Info("redacted tool output",
			"tool", call.Name, "task_id", task.ID, "redactions", len(sanitized.Redactions))
		for _, red := range sanitized.Redactions {
			r.metrics.RecordRedaction(red.Category, red.Count)
		}
	}
	if r.sanitizer.HasSecrets(content) {
		r.logger.Warn("tool output still looks secret-bearing after sanitizing",
			"tool", call.Name, "task_id", task.ID)
	}
	if content == "" {
		content = "(no output)"
	}

	if isErr {
		sig := facts.ErrorSignature(call.Name, outcome.Error)
		run.errorCounts[sig]++
		run.attempted[call.Name+":"+digest] = sig

		if r.ledger != nil {
			// Tool-level failures carry the signature but not the task
			// text: only task-level outcomes feed the known-failure
			// pre-abort.
			r.ledger.RecordFailure("", def.Name, string(task.Environment), firstLine(content), sig)
			if run.errorCounts[sig] == 1 {
				r.ledger.RecordSolution(sig, suggestFix(call.Name, outcome.Error))
			}
			if fix := r.ledger.SuggestedFix(sig); fix != "" {
				content += "\nSuggested fix: " + fix
			}
		}

		if run.errorCounts[sig] >= maxRepeatedErrors {
			return models.Message{}, Result{
				Status:    models.TaskFailed,
				Reason:    "repeated_error",
				Summary:   fmt.Sprintf("error repeated %d times: %s", run.errorCounts[sig], firstLine(content)),
				ToolTurns: run.toolTurns,
			}, true
		}
	}

	return models.Message{
		Role:       models.RoleTool,
		ToolName:   call.Name,
		ArgsDigest: digest,
		Content:    content,
		IsError:    isErr,
	}, Result{}, false
}

func toolError(tool, digest, text string) models.Message {
	return models.Message{
		Role:       models.RoleTool,
		ToolName:   tool,
		ArgsDigest: digest,
		Content:    text,
		IsError:    true,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
