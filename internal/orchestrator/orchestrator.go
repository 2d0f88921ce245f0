// Package orchestrator accepts natural-language tasks, routes each to an
// agent kind, drives the run, and feeds the outcome back into the fact
// ledger so routing improves over time. Execute blocks until the task is
// terminal or parked; parked tasks resume by re-invoking Execute with the
// same text.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/internal/emergency"
	"github.com/wardenhq/warden/internal/facts"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/router"
	"github.com/wardenhq/warden/internal/sanitize"
	"github.com/wardenhq/warden/pkg/models"
)

// Orchestrator executes tasks end to end. Safe for concurrent use; tasks
// share the process-wide stores but own their runs.
type Orchestrator struct {
	router  *router.Router
	runtime *agent.Runtime
	defs    []agent.Definition

	ledger    *facts.Ledger
	tracker   *costs.Tracker
	stop      *emergency.Stop
	sanitizer *sanitize.Sanitizer
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger enables fact recording and the known-failure pre-abort.
func WithLedger(l *facts.Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithTracker releases per-task cost accumulation once tasks go terminal.
// Parked tasks keep their usage so a resume cannot reset the budget.
func WithTracker(t *costs.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithEmergencyStop wires the kill switch into the entry check.
func WithEmergencyStop(s *emergency.Stop) Option {
	return func(o *Orchestrator) { o.stop = s }
}

// WithSanitizer overrides the task-text sanitizer.
func WithSanitizer(s *sanitize.Sanitizer) Option {
	return func(o *Orchestrator) { o.sanitizer = s }
}

// WithMetrics enables the per-task Prometheus counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator over a router, a shared agent runtime, and the
// agent definitions it may select from.
func New(rtr *router.Router, rt *agent.Runtime, defs []agent.Definition, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:    rtr,
		runtime:   rt,
		defs:      defs,
		sanitizer: sanitize.New(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TaskID derives the stable id for one (environment, text) pair. Parked
// tasks resume by re-invoking Execute with the same text; the derived id is
// the rendezvous with their approval records.
func TaskID(env models.Environment, text string) string {
	h := sha256.Sum256([]byte(string(env) + "\x00" + text))
	return "t-" + hex.EncodeToString(h[:6])
}

// Descriptors exposes agent definitions to the router.
func Descriptors(defs []agent.Definition) []router.Descriptor {
	out := make([]router.Descriptor, 0, len(defs))
	for _, d := range defs {
		out = append(out, router.Descriptor{Name: d.Name, Description: d.Description})
	}
	return out
}

// Execute runs one task to a terminal or parked state and reports it.
func (o *Orchestrator) Execute(ctx context.Context, text string, env models.Environment) models.TaskResult {
	if o.stop != nil {
		if err := o.stop.Check(); err != nil {
			return models.TaskResult{Status: models.TaskStopped, Reason: "emergency_stop", Summary: err.Error()}
		}
	}

	// Credentials never enter through task text; scrub before anything is
	// derived from it.
	scrubbed := o.sanitizer.Sanitize(strings.TrimSpace(text))
	text = scrubbed.Text
	if text == "" {
		return models.TaskResult{Status: models.TaskFailed, Reason: "empty_task", Summary: "task text is empty"}
	}

	started := o.now()
	task := models.Task{
		ID:          TaskID(env, text),
		Text:        text,
		Environment: env,
		SubmittedAt: started,
	}
	logger := o.logger.With("task_id", task.ID, "environment", string(env))
	if len(scrubbed.Redactions) > 0 {
		logger.Warn("task text carried credentials; redacted before execution",
			"redactions", len(scrubbed.Redactions))
	}
	logger.Info("task accepted", "text", text)

	route := o.router.Analyze(ctx, task.Text)
	logger.Info("task routed",
		"primary", route.Primary,
		"secondaries", strings.Join(route.Secondaries, ","),
		"complexity", route.Complexity,
		"confidence", route.Confidence,
	)

	if route.NeedsClarify {
		return models.TaskResult{
			TaskID:        task.ID,
			Status:        models.TaskAwaitingHuman,
			Reason:        "needs_input",
			Summary:       "more detail needed before this task can run",
			Clarification: route.ClarifyQuestion,
		}
	}

	if res, aborted := o.knownFailureAbort(task); aborted {
		logger.Warn("task aborted before execution", "reason", res.Reason)
		return res
	}

	def, ok := agent.Find(o.defs, route.Primary)
	if !ok {
		logger.Warn("routed agent not configured, falling back", "agent", route.Primary)
		if def, ok = agent.Find(o.defs, "general"); !ok {
			return models.TaskResult{
				TaskID:  task.ID,
				Status:  models.TaskFailed,
				Reason:  "no_agent",
				Summary: fmt.Sprintf("no agent available for %q and no general fallback", route.Primary),
			}
		}
	}

	primary := o.runtime.Run(ctx, def, task)
	result := toTaskResult(task.ID, primary)

	if primary.Status == models.TaskSucceeded && len(route.Secondaries) > 0 {
		result = o.runSecondaries(ctx, task, def.Name, route, primary)
	}

	o.record(task, route, result)
	if o.tracker != nil && result.Status.Terminal() {
		o.tracker.ForgetTask(task.ID)
	}
	o.metrics.RecordTask(string(result.Status), route.Primary, o.now().Sub(started).Seconds())
	logger.Info("task finished", "status", string(result.Status), "reason", result.Reason)
	return result
}

// knownFailureAbort refuses tasks whose fingerprint keeps failing, carrying
// the remembered suggestion so the operator can change approach.
func (o *Orchestrator) knownFailureAbort(task models.Task) (models.TaskResult, bool) {
	if o.ledger == nil || !o.ledger.KnownFailure(task.Text) {
		return models.TaskResult{}, false
	}

	summary := "similar tasks failed repeatedly; try a different approach or break the task into smaller steps"
	if sims := o.ledger.SimilarFailures(task.Text, 1); len(sims) > 0 {
		summary = fmt.Sprintf("similar tasks failed repeatedly (last: %s)", firstLine(sims[0].Detail))
		if fix := o.ledger.SuggestedFix(sims[0].Signature); fix != "" {
			summary += "; suggested fix: " + fix
		}
	}
	return models.TaskResult{
		TaskID:  task.ID,
		Status:  models.TaskFailed,
		Reason:  "known_failure",
		Summary: summary,
	}, true
}

// runSecondaries drives the route's secondary agents sequentially, each
// seeded with the primary's summary, and merges their outputs. A secondary
// that parks or halts takes over the task result; a plain failure is noted
// in the merged summary without failing the task.
func (o *Orchestrator) runSecondaries(ctx context.Context, task models.Task, primaryName string, route models.RouteDecision, primary agent.Result) models.TaskResult {
	var sb strings.Builder
	sb.WriteString(primary.Summary)

	for _, name := range route.Secondaries {
		def, ok := agent.Find(o.defs, name)
		if !ok {
			o.logger.Warn("secondary agent not configured, skipping", "agent", name, "task_id", task.ID)
			continue
		}

		seed := models.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("Result from the %s agent: %s", primaryName, primary.Summary),
		}
		res := o.runtime.Run(ctx, def, task, seed)

		switch res.Status {
		case models.TaskSucceeded:
			fmt.Fprintf(&sb, "\n\n[%s] %s", name, res.Summary)
			if o.ledger != nil {
				o.ledger.RecordRouting(name, true)
			}
		case models.TaskFailed:
			fmt.Fprintf(&sb, "\n\n[%s] failed: %s", name, firstLine(res.Summary))
			if o.ledger != nil {
				o.ledger.RecordRouting(name, false)
			}
		default:
			// Parked or halted: the secondary's state is now the task's
			// state. Resume re-runs the primary and lands back here.
			return toTaskResult(task.ID, res)
		}
	}

	return models.TaskResult{
		TaskID:  task.ID,
		Status:  models.TaskSucceeded,
		Summary: sb.String(),
	}
}

// record writes the terminal verdict and routing feedback. Parked, stopped,
// and budget-exhausted runs say nothing about whether the approach works,
// so they record nothing.
func (o *Orchestrator) record(task models.Task, route models.RouteDecision, result models.TaskResult) {
	if o.ledger == nil {
		return
	}
	switch result.Status {
	case models.TaskSucceeded:
		o.ledger.RecordSuccess(task.Text, route.Primary, string(task.Environment), firstLine(result.Summary))
		o.ledger.RecordRouting(route.Primary, true)
	case models.TaskFailed:
		o.ledger.RecordFailure(task.Text, route.Primary, string(task.Environment), firstLine(result.Summary), "")
		o.ledger.RecordRouting(route.Primary, false)
	}
}

func toTaskResult(taskID string, res agent.Result) models.TaskResult {
	return models.TaskResult{
		TaskID:        taskID,
		Status:        res.Status,
		Reason:        res.Reason,
		Summary:       res.Summary,
		ApprovalID:    res.ApprovalID,
		Clarification: res.Clarification,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
