// Package costs tracks token usage and estimated spend for LLM operations,
// enforcing per-task and rolling per-hour ceilings as a circuit breaker
// against runaway autonomous execution.
package costs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrCostLimit is the sentinel raised at an agent yield point when any
// ceiling is reached. Callers convert it to a budget_exhausted task status,
// never to a plain failure.
var ErrCostLimit = errors.New("cost limit exceeded")

// LimitError describes which ceiling tripped. It unwraps to ErrCostLimit.
type LimitError struct {
	Kind   string // "cost_per_task", "tokens_per_task", "cost_per_hour"
	Detail string
}

func (e *LimitError) Error() string { return "cost limit exceeded: " + e.Detail }

func (e *LimitError) Unwrap() error { return ErrCostLimit }

// Limits configures the circuit breaker ceilings.
type Limits struct {
	MaxCostPerTask   float64 `json:"max_cost_per_task" yaml:"max_cost_per_task"`
	MaxCostPerHour   float64 `json:"max_cost_per_hour" yaml:"max_cost_per_hour"`
	MaxTokensPerTask int64   `json:"max_tokens_per_task" yaml:"max_tokens_per_task"`
	WarnAtPercent    float64 `json:"warn_at_percent" yaml:"warn_at_percent"`
}

// DefaultLimits mirrors the conservative defaults for unattended runs.
func DefaultLimits() Limits {
	return Limits{
		MaxCostPerTask:   0.50,
		MaxCostPerHour:   10.0,
		MaxTokensPerTask: 100_000,
		WarnAtPercent:    0.8,
	}
}

// Rates is the provider price card per 1k tokens.
type Rates struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Estimate prices a single call.
func (r Rates) Estimate(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1000*r.InputPer1K + float64(outputTokens)/1000*r.OutputPer1K
}

// Usage accumulates token counts for one task.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Total returns input+output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Record is one priced LLM call, kept for the persisted history tail.
type Record struct {
	TaskID       string    `json:"task_id"`
	Operation    string    `json:"operation,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

const historyTail = 1000

type hourly struct {
	Cost   float64 `json:"cost"`
	Tokens int64   `json:"tokens"`
}

type historyFile struct {
	Hourly  map[string]hourly `json:"hourly"`
	Records []Record          `json:"records"`
}

// Tracker is the process-wide cost accountant. Per-task counters are
// memory-only; hourly aggregates and the record tail are persisted for
// crash resilience.
type Tracker struct {
	mu      sync.Mutex
	limits  Limits
	path    string
	logger  *slog.Logger
	byTask  map[string]*Usage
	hourly  map[string]hourly
	records []Record
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the warning logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker persisting to path ("" disables
// persistence). Existing history is loaded so hourly ceilings survive
// restarts.
func NewTracker(limits Limits, path string, opts ...Option) *Tracker {
	t := &Tracker{
		limits: limits,
		path:   path,
		logger: slog.Default(),
		byTask: make(map[string]*Usage),
		hourly: make(map[string]hourly),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.load()
	return t
}

func (t *Tracker) hourKey() string {
	return t.now().UTC().Format("2006-01-02-15")
}

// Record prices and accumulates one LLM call for the given task.
func (t *Tracker) Record(taskID, operation string, inputTokens, outputTokens int64, rates Rates) Usage {
	cost := rates.Estimate(inputTokens, outputTokens)

	t.mu.Lock()
	usage := t.byTask[taskID]
	if usage == nil {
		usage = &Usage{}
		t.byTask[taskID] = usage
	}
	usage.InputTokens += inputTokens
	usage.OutputTokens += outputTokens
	usage.Cost += cost

	key := t.hourKey()
	h := t.hourly[key]
	h.Cost += cost
	h.Tokens += inputTokens + outputTokens
	t.hourly[key] = h

	t.records = append(t.records, Record{
		TaskID:       taskID,
		Operation:    operation,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Timestamp:    t.now(),
	})
	if len(t.records) > historyTail {
		t.records = t.records[len(t.records)-historyTail:]
	}
	snapshot := *usage
	t.mu.Unlock()

	t.persist()
	t.warnIfNear(taskID, snapshot)
	return snapshot
}

// EnsureWithinLimits returns a *LimitError when the task or the rolling
// hour has crossed a ceiling, nil otherwise.
func (t *Tracker) EnsureWithinLimits(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	usage := t.byTask[taskID]
	if usage == nil {
		usage = &Usage{}
	}
	if t.limits.MaxCostPerTask > 0 && usage.Cost >= t.limits.MaxCostPerTask {
		return &LimitError{
			Kind:   "cost_per_task",
			Detail: fmt.Sprintf("task cost $%.4f >= $%.2f", usage.Cost, t.limits.MaxCostPerTask),
		}
	}
	if t.limits.MaxTokensPerTask > 0 && usage.Total() >= t.limits.MaxTokensPerTask {
		return &LimitError{
			Kind:   "tokens_per_task",
			Detail: fmt.Sprintf("task tokens %d >= %d", usage.Total(), t.limits.MaxTokensPerTask),
		}
	}
	if h := t.hourly[t.hourKey()]; t.limits.MaxCostPerHour > 0 && h.Cost >= t.limits.MaxCostPerHour {
		return &LimitError{
			Kind:   "cost_per_hour",
			Detail: fmt.Sprintf("hourly cost $%.4f >= $%.2f", h.Cost, t.limits.MaxCostPerHour),
		}
	}
	return nil
}

// TaskUsage returns a snapshot of the task's accumulated usage.
func (t *Tracker) TaskUsage(taskID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u := t.byTask[taskID]; u != nil {
		return *u
	}
	return Usage{}
}

// ForgetTask drops the in-memory counters once a task is terminal.
func (t *Tracker) ForgetTask(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byTask, taskID)
}

func (t *Tracker) warnIfNear(taskID string, usage Usage) {
	warn := t.limits.WarnAtPercent
	if warn <= 0 {
		warn = 0.8
	}
	if t.limits.MaxCostPerTask > 0 && usage.Cost >= t.limits.MaxCostPerTask*warn && usage.Cost < t.limits.MaxCostPerTask {
		t.logger.Warn("approaching task cost ceiling",
			"task_id", taskID,
			"cost", usage.Cost,
			"ceiling", t.limits.MaxCostPerTask,
		)
	}
	if t.limits.MaxTokensPerTask > 0 && usage.Total() >= int64(float64(t.limits.MaxTokensPerTask)*warn) && usage.Total() < t.limits.MaxTokensPerTask {
		t.logger.Warn("approaching task token ceiling",
			"task_id", taskID,
			"tokens", usage.Total(),
			"ceiling", t.limits.MaxTokensPerTask,
		)
	}
}

func (t *Tracker) load() {
	if t.path == "" {
		return
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	var hist historyFile
	if err := json.Unmarshal(data, &hist); err != nil {
		t.logger.Warn("cost history unreadable, starting fresh", "path", t.path, "error", err)
		return
	}
	t.mu.Lock()
	if hist.Hourly != nil {
		t.hourly = hist.Hourly
	}
	t.records = hist.Records
	t.mu.Unlock()
}

func (t *Tracker) persist() {
	if t.path == "" {
		return
	}
	t.mu.Lock()
	hist := historyFile{
		Hourly:  make(map[string]hourly, len(t.hourly)),
		Records: append([]Record(nil), t.records...),
	}
	for k, v := range t.hourly {
		hist.Hourly[k] = v
	}
	t.mu.Unlock()

	data, err := json.MarshalIndent(hist, "", "  ")
	if err != nil {
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.logger.Warn("could not write cost history", "path", t.path, "error", err)
		return
	}
	if err := os.Rename(tmp, t.path); err != nil {
		t.logger.Warn("could not replace cost history", "path", t.path, "error", err)
		_ = os.Remove(tmp)
	}
}
