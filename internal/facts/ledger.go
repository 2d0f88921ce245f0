// Package facts is the orchestrator's long-term memory: a JSON ledger of
// task outcomes, known fixes, and routing feedback. It lets the system
// refuse tasks that keep failing, surface a fix the second time an error
// repeats, and bias routing toward agents that historically succeed.
package facts

import (
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// outcomeTail bounds each outcome list; oldest entries rotate out.
	outcomeTail = 500

	// routingTail bounds the routing feedback history.
	routingTail = 1000

	// similarityThreshold is the token-overlap ratio above which two task
	// texts are treated as the same task.
	similarityThreshold = 0.5

	// knownFailureCount is how many similar failures, with no similar
	// success after them, mark a task as a known failure.
	knownFailureCount = 3

	// suggestFixAfter is how many occurrences of one error signature it
	// takes before a recorded solution is volunteered.
	suggestFixAfter = 2
)

// Outcome records one finished task attempt.
type Outcome struct {
	TaskText    string    `json:"task_text"`
	Agent       string    `json:"agent"`
	Environment string    `json:"environment"`
	Detail      string    `json:"detail,omitempty"` // summary on success, error on failure
	Signature   string    `json:"signature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Solution is a remembered fix for an error signature.
type Solution struct {
	Fix       string    `json:"fix"`
	Seen      int       `json:"seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoutingRecord is one piece of routing feedback.
type RoutingRecord struct {
	Agent     string    `json:"agent"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

type ledgerFile struct {
	Successes []Outcome           `json:"successes"`
	Failures  []Outcome           `json:"failures"`
	Solutions map[string]Solution `json:"solutions"`
	Routing   []RoutingRecord     `json:"routing_history"`
}

// Ledger is the persistent fact store. All methods are safe for concurrent
// use; every mutation is flushed to disk.
type Ledger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	data   ledgerFile
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger at path, starting empty when the file is missing or
// unreadable ("" keeps the ledger memory-only).
func Open(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
		data:   ledgerFile{Solutions: make(map[string]Solution)},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.load()
	return l
}

var digitsRe = regexp.MustCompile(`\d+`)

// ErrorSignature normalizes a tool error into a stable key: tool name plus
// the lowercased first line with numbers collapsed, so "exit code 137" and
// "exit code 139" share a signature.
func ErrorSignature(tool, errText string) string {
	line := errText
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.ToLower(strings.TrimSpace(line))
	line = digitsRe.ReplaceAllString(line, "N")
	if len(line) > 160 {
		line = line[:160]
	}
	return tool + ": " + line
}

// RecordSuccess appends a successful outcome.
func (l *Ledger) RecordSuccess(taskText, agent, environment, summary string) {
	l.mu.Lock()
	l.data.Successes = appendBounded(l.data.Successes, Outcome{
		TaskText:    taskText,
		Agent:       agent,
		Environment: environment,
		Detail:      summary,
		Timestamp:   l.now(),
	}, outcomeTail)
	l.mu.Unlock()
	l.persist()
}

// RecordFailure appends a failed outcome and bumps the signature's seen
// count when a solution for it exists.
func (l *Ledger) RecordFailure(taskText, agent, environment, errText, signature string) {
	l.mu.Lock()
	l.data.Failures = appendBounded(l.data.Failures, Outcome{
		TaskText:    taskText,
		Agent:       agent,
		Environment: environment,
		Detail:      errText,
		Signature:   signature,
		Timestamp:   l.now(),
	}, outcomeTail)
	if sol, ok := l.data.Solutions[signature]; ok {
		sol.Seen++
		sol.UpdatedAt = l.now()
		l.data.Solutions[signature] = sol
	}
	l.mu.Unlock()
	l.persist()
}

// RecordSolution remembers a fix for an error signature.
func (l *Ledger) RecordSolution(signature, fix string) {
	if signature == "" || fix == "" {
		return
	}
	l.mu.Lock()
	sol := l.data.Solutions[signature]
	sol.Fix = fix
	sol.Seen++
	sol.UpdatedAt = l.now()
	l.data.Solutions[signature] = sol
	l.mu.Unlock()
	l.persist()
}

// SuggestedFix returns a remembered fix once the signature has been seen
// enough times to trust it, "" otherwise.
func (l *Ledger) SuggestedFix(signature string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	sol, ok := l.data.Solutions[signature]
	if !ok || sol.Seen < suggestFixAfter {
		return ""
	}
	return sol.Fix
}

// KnownFailure reports whether similar tasks have failed knownFailureCount
// times with no similar success recorded after the last failure. Such tasks
// are aborted before execution rather than burned through again.
func (l *Ledger) KnownFailure(taskText string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	taskTokens := tokenize(taskText)
	if len(taskTokens) == 0 {
		return false
	}

	failures := 0
	var lastFailure time.Time
	for _, f := range l.data.Failures {
		if overlap(taskTokens, tokenize(f.TaskText)) >= similarityThreshold {
			failures++
			if f.Timestamp.After(lastFailure) {
				lastFailure = f.Timestamp
			}
		}
	}
	if failures < knownFailureCount {
		return false
	}
	for _, s := range l.data.Successes {
		if s.Timestamp.After(lastFailure) && overlap(taskTokens, tokenize(s.TaskText)) >= similarityThreshold {
			return false
		}
	}
	return true
}

// SimilarFailures returns past failures whose task text overlaps the given
// text, most recent first.
func (l *Ledger) SimilarFailures(taskText string, limit int) []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	taskTokens := tokenize(taskText)
	var out []Outcome
	for i := len(l.data.Failures) - 1; i >= 0 && len(out) < limit; i-- {
		f := l.data.Failures[i]
		if overlap(taskTokens, tokenize(f.TaskText)) >= similarityThreshold {
			out = append(out, f)
		}
	}
	return out
}

// RecordRouting stores routing feedback for one dispatched task.
func (l *Ledger) RecordRouting(agent string, success bool) {
	l.mu.Lock()
	l.data.Routing = append(l.data.Routing, RoutingRecord{
		Agent:     agent,
		Success:   success,
		Timestamp: l.now(),
	})
	if len(l.data.Routing) > routingTail {
		l.data.Routing = l.data.Routing[len(l.data.Routing)-routingTail:]
	}
	l.mu.Unlock()
	l.persist()
}

// AgentSuccessRate returns the historical success ratio for an agent, or
// -1 when there is no history to judge by.
func (l *Ledger) AgentSuccessRate(agent string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total, wins := 0, 0
	for _, r := range l.data.Routing {
		if r.Agent != agent {
			continue
		}
		total++
		if r.Success {
			wins++
		}
	}
	if total == 0 {
		return -1
	}
	return float64(wins) / float64(total)
}

// Stats summarizes the ledger for operator display.
type Stats struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Solutions int `json:"solutions"`
	Routing   int `json:"routing_records"`
}

// Stats returns current ledger counts.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Successes: len(l.data.Successes),
		Failures:  len(l.data.Failures),
		Solutions: len(l.data.Solutions),
		Routing:   len(l.data.Routing),
	}
}

func appendBounded(list []Outcome, o Outcome, limit int) []Outcome {
	list = append(list, o)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

// overlap is the fraction of a's tokens also present in b.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

func (l *Ledger) load() {
	if l.path == "" {
		return
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		l.logger.Warn("fact ledger unreadable, starting fresh", "path", l.path, "error", err)
		return
	}
	if file.Solutions == nil {
		file.Solutions = make(map[string]Solution)
	}
	l.mu.Lock()
	l.data = file
	l.mu.Unlock()
}

func (l *Ledger) persist() {
	if l.path == "" {
		return
	}
	l.mu.Lock()
	data, err := json.MarshalIndent(l.data, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.logger.Warn("could not write fact ledger", "path", l.path, "error", err)
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.logger.Warn("could not replace fact ledger", "path", l.path, "error", err)
		_ = os.Remove(tmp)
	}
}
