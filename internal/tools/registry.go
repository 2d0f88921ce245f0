package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wardenhq/warden/internal/tools/security"
	"github.com/wardenhq/warden/pkg/models"
)

// DefaultDispatchTimeout caps a single tool invocation.
const DefaultDispatchTimeout = 5 * time.Minute

// Entry is a registered tool plus its governance metadata. Entries are
// immutable after registration.
type Entry struct {
	tool            Tool
	schema          *jsonschema.Schema
	risk            models.RiskLevel
	mutating        bool
	identity        string
	allowedContexts []models.Environment
	commands        []string
	approvalPrompt  string
	dynamic         bool
}

// Name returns the tool name.
func (e *Entry) Name() string { return e.tool.Name() }

// Description returns the tool description.
func (e *Entry) Description() string { return e.tool.Description() }

// Risk returns the registered traffic-light tag.
func (e *Entry) Risk() models.RiskLevel { return e.risk }

// Identity returns the auth broker identity the tool needs, or "".
func (e *Entry) Identity() string { return e.identity }

// AllowedContexts returns the context restriction, nil when unrestricted.
func (e *Entry) AllowedContexts() []models.Environment {
	if e.allowedContexts == nil {
		return nil
	}
	out := make([]models.Environment, len(e.allowedContexts))
	copy(out, e.allowedContexts)
	return out
}

// ApprovalPrompt returns the question shown when an invocation parks.
func (e *Entry) ApprovalPrompt() string { return e.approvalPrompt }

// Dynamic reports whether the tool was registered after the registry sealed.
func (e *Entry) Dynamic() bool { return e.dynamic }

// Schema returns the raw argument schema.
func (e *Entry) Schema() json.RawMessage { return e.tool.Schema() }

// ValidateArgs checks args against the tool's compiled schema. Missing args
// validate as an empty object.
func (e *Entry) ValidateArgs(args json.RawMessage) error {
	var decoded any = map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
	}
	if err := e.schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

// Registry holds every registered tool. Registration is gated; lookup and
// dispatch are safe for concurrent use.
type Registry struct {
	mu              sync.RWMutex
	entries         map[string]*Entry
	sealed          bool
	permitDangerous bool
	timeout         time.Duration
	logger          *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDangerousTools permits registration of tools whose declared commands
// trip the unsafe-pattern scan, provided they are explicitly red.
func WithDangerousTools() RegistryOption {
	return func(r *Registry) { r.permitDangerous = true }
}

// WithDispatchTimeout sets the default per-invocation deadline.
func WithDispatchTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		timeout: DefaultDispatchTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates a candidate and adds it to the registry. After Seal,
// every registration is treated as dynamic and pinned red.
func (r *Registry) Register(reg Registration) error {
	if reg.Tool == nil {
		return fmt.Errorf("register: nil tool")
	}
	name := reg.Tool.Name()
	if name == "" {
		return fmt.Errorf("register: tool has empty name")
	}

	schema, err := compileSchema(name, reg.Tool.Schema())
	if err != nil {
		return fmt.Errorf("register %s: schema does not compile: %w", name, err)
	}

	risk := reg.Risk
	if risk != "" {
		risk = models.ParseRiskLevel(string(risk))
	}
	for _, cmd := range reg.Commands {
		if reason := security.CheckDeclared(cmd); reason != "" {
			if !(reg.Risk == models.RiskRed && r.permitDangerous) {
				return fmt.Errorf("register %s: declared command %q rejected: %s", name, cmd, reason)
			}
		}
	}
	if risk == "" {
		risk = inferRisk(reg)
	}

	entry := &Entry{
		tool:            reg.Tool,
		schema:          schema,
		risk:            risk,
		mutating:        reg.Mutating,
		identity:        reg.Identity,
		allowedContexts: reg.AllowedContexts,
		commands:        reg.Commands,
		approvalPrompt:  reg.ApprovalPrompt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("register %s: name already registered", name)
	}
	if r.sealed {
		entry.dynamic = true
		entry.risk = models.RiskRed
	}
	r.entries[name] = entry
	r.logger.Debug("tool registered", "tool", name, "risk", entry.risk, "dynamic", entry.dynamic)
	return nil
}

// Seal marks the end of startup registration. Tools added afterwards are
// dynamic and always red.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all entries sorted by name.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns all tool names sorted.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

// Dispatch runs a tool call under the registry deadline (or the tighter
// caller deadline already on ctx) and normalizes the result. Tool panics,
// tool errors, and timeouts all come back as error outcomes, never as Go
// errors: the conversation must always receive something to react to.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) *models.ToolOutcome {
	entry, ok := r.Lookup(call.Name)
	if !ok {
		return Errorf("unknown tool: %s", call.Name)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()

	type dispatchResult struct {
		outcome *models.ToolOutcome
		err     error
	}
	resultCh := make(chan dispatchResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool panicked", "tool", call.Name, "panic", rec, "stack", string(debug.Stack()))
				resultCh <- dispatchResult{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		outcome, err := entry.tool.Execute(execCtx, call.Args)
		resultCh <- dispatchResult{outcome: outcome, err: err}
	}()

	var outcome *models.ToolOutcome
	select {
	case res := <-resultCh:
		switch {
		case res.err != nil:
			outcome = Errorf("%v", res.err)
		case res.outcome == nil:
			outcome = Errorf("tool %s returned no outcome", call.Name)
		default:
			outcome = res.outcome
		}
	case <-execCtx.Done():
		if ctx.Err() != nil {
			outcome = Errorf("tool %s cancelled: %v", call.Name, ctx.Err())
		} else {
			outcome = Errorf("tool %s timed out after %s", call.Name, r.timeout)
		}
		outcome.Metadata = map[string]string{"timeout": "true"}
	}

	if outcome.Metadata == nil {
		outcome.Metadata = map[string]string{}
	}
	outcome.Metadata["duration_ms"] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
	if outcome.Status == "" {
		outcome.Status = "error"
	}
	return outcome
}

// inferRisk derives a default tag from the registration: destructive or
// opaque commands pin red, read-only commands and pure readers stay green,
// local mutation lands yellow.
func inferRisk(reg Registration) models.RiskLevel {
	for _, cmd := range reg.Commands {
		switch security.Classify(cmd).Class {
		case security.ClassReadOnly:
		default:
			return models.RiskRed
		}
	}
	if reg.Mutating {
		return models.RiskYellow
	}
	return models.RiskGreen
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}
