// Package router decides which agent runs a task. The primary strategy asks
// the LLM for a structured decision; parse or transport failures degrade to
// a token-overlap match against agent descriptions, and when that scores
// zero the task lands on the fallback agent. Analyze never returns an
// error: a router that can throw would take the whole orchestrator down
// with it.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/facts"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/pkg/models"
)

// Descriptor names one routable agent.
type Descriptor struct {
	Name        string
	Description string
}

const (
	defaultTimeout = 60 * time.Second

	// tieMargin is how close two semantic scores must be before the
	// ledger's historical success rate breaks the tie.
	tieMargin = 0.05
)

// clarifyEssentials is asked when a from-scratch build gives no sizing
// information.
const clarifyEssentials = "Before I design this, I need a few essentials: " +
	"expected scale (users or requests), availability target, resource or " +
	"budget envelope, and which credentials are available."

// Router classifies tasks. Safe for concurrent use.
type Router struct {
	provider llm.Provider
	model    string
	agents   []Descriptor
	ledger   *facts.Ledger
	logger   *slog.Logger
	timeout  time.Duration
	fallback string
	semOnly  bool
}

// Option configures a Router.
type Option func(*Router)

// WithModel sets the routing model.
func WithModel(model string) Option {
	return func(r *Router) { r.model = model }
}

// WithLedger enables success-rate tie-breaking from the fact ledger.
func WithLedger(l *facts.Ledger) Option {
	return func(r *Router) { r.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithTimeout bounds the routing LLM call.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// WithSemanticOnly skips the LLM strategy entirely.
func WithSemanticOnly() Option {
	return func(r *Router) { r.semOnly = true }
}

// New builds a router over the given agents. A nil provider routes
// semantically.
func New(provider llm.Provider, agents []Descriptor, opts ...Option) *Router {
	r := &Router{
		provider: provider,
		agents:   agents,
		logger:   slog.Default(),
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.fallback = pickFallback(agents)
	return r
}

// pickFallback prefers an explicit general agent, then consulting, then the
// first registered agent.
func pickFallback(agents []Descriptor) string {
	for _, want := range []string{"general", "consulting"} {
		for _, a := range agents {
			if a.Name == want {
				return want
			}
		}
	}
	if len(agents) > 0 {
		return agents[0].Name
	}
	return "general"
}

// Analyze routes one task. It always produces a usable decision.
func (r *Router) Analyze(ctx context.Context, taskText string) models.RouteDecision {
	if r.provider != nil && !r.semOnly {
		if d, ok := r.analyzeLLM(ctx, taskText); ok {
			return r.normalize(d)
		}
	}
	return r.normalize(r.analyzeSemantic(taskText))
}

type routePayload struct {
	TaskType        string   `json:"task_type"`
	PrimaryAgent    string   `json:"primary_agent"`
	SecondaryAgents []string `json:"secondary_agents"`
	Complexity      string   `json:"complexity"`
	NeedsClarify    bool     `json:"needs_clarification"`
	ClarifyQuestion string   `json:"clarification_question"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
}

func (r *Router) analyzeLLM(ctx context.Context, taskText string) (models.RouteDecision, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.provider.Complete(ctx, &llm.Request{
		Model:     r.model,
		System:    r.routingPrompt(),
		Messages:  []models.Message{{Role: models.RoleUser, Content: taskText}},
		MaxTokens: 512,
	})
	if err != nil {
		r.logger.Warn("routing llm failed, falling back", "error", err)
		return models.RouteDecision{}, false
	}

	raw, ok := extractJSON(resp.Content)
	if !ok {
		r.logger.Warn("routing response had no json, falling back")
		return models.RouteDecision{}, false
	}
	var p routePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.logger.Warn("routing response unparseable, falling back", "error", err)
		return models.RouteDecision{}, false
	}

	return models.RouteDecision{
		Primary:         p.PrimaryAgent,
		Secondaries:     p.SecondaryAgents,
		Complexity:      p.Complexity,
		NeedsClarify:    p.NeedsClarify,
		ClarifyQuestion: p.ClarifyQuestion,
		Confidence:      p.Confidence,
		Reasoning:       p.Reasoning,
	}, true
}

func (r *Router) routingPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a task router. Pick the agent that should handle the task.\n\nAgents:\n")
	for _, a := range r.agents {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name, a.Description)
	}
	sb.WriteString(`
Rules:
- Questions, comparisons, and analysis go to consulting.
- Building a system from scratch goes to design with needs_clarification
  true; ask for expected scale, availability target, resource envelope,
  and available credentials unless the task already states them.
- Execution requests go to the most specific agent.
- Never combine needs_clarification with secondary_agents.

Respond with only a JSON object:
{"primary_agent": "...", "secondary_agents": [], "complexity": "simple|medium|complex", "needs_clarification": false, "clarification_question": null, "confidence": 0.0, "reasoning": "..."}`)
	return sb.String()
}

// analyzeSemantic scores the task against each agent description by token
// overlap. Ties go to the agent with the better historical success rate.
func (r *Router) analyzeSemantic(taskText string) models.RouteDecision {
	if design, ok := r.designClarification(taskText); ok {
		return design
	}

	taskTokens := tokenize(taskText)
	type scored struct {
		name  string
		score float64
	}
	var ranked []scored
	for _, a := range r.agents {
		ranked = append(ranked, scored{a.Name, overlap(taskTokens, tokenize(a.Name+" "+a.Description))})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) == 0 || ranked[0].score == 0 {
		// Nothing matched; park the task on the fallback agent.
		return models.RouteDecision{
			Primary:    r.fallback,
			Complexity: models.ComplexitySimple,
			Confidence: 0,
			Reasoning:  "no semantic match",
		}
	}

	best := ranked[0]
	if r.ledger != nil && len(ranked) > 1 && best.score-ranked[1].score < tieMargin {
		if r.ledger.AgentSuccessRate(ranked[1].name) > r.ledger.AgentSuccessRate(best.name) {
			best = ranked[1]
		}
	}

	return models.RouteDecision{
		Primary:    best.name,
		Complexity: models.ComplexityMedium,
		Confidence: best.score,
		Reasoning:  "semantic match",
	}
}

var buildVerbs = []string{"build", "design", "set up", "create", "stand up"}

var systemNouns = []string{
	"system", "cluster", "platform", "infrastructure", "application",
	"assistant", "pipeline", "architecture", "service",
}

var essentialHints = []string{
	"users", "requests per second", "rps", "qps", "uptime", "availability",
	"budget", "instances", "nodes", "gb", "cores", "sla",
}

// designClarification detects a from-scratch build request and, when the
// task does not already answer the sizing essentials, routes it to the
// design agent with a clarifying question. Requires a design agent to be
// registered.
func (r *Router) designClarification(taskText string) (models.RouteDecision, bool) {
	if !r.hasAgent("design") {
		return models.RouteDecision{}, false
	}
	lower := strings.ToLower(taskText)
	if !containsAny(lower, buildVerbs) || !containsAny(lower, systemNouns) {
		return models.RouteDecision{}, false
	}
	if containsAny(lower, essentialHints) {
		return models.RouteDecision{
			Primary:    "design",
			Complexity: models.ComplexityComplex,
			Confidence: 0.6,
			Reasoning:  "build request with sizing details",
		}, true
	}
	return models.RouteDecision{
		Primary:         "design",
		Complexity:      models.ComplexityComplex,
		NeedsClarify:    true,
		ClarifyQuestion: clarifyEssentials,
		Confidence:      0.6,
		Reasoning:       "build request without sizing details",
	}, true
}

// normalize enforces the decision invariants regardless of which strategy
// produced it: the primary must exist, clarification excludes secondaries,
// and the design agent carries the default question when the strategy set
// the flag without one.
func (r *Router) normalize(d models.RouteDecision) models.RouteDecision {
	d.Primary = strings.ToLower(strings.TrimSpace(d.Primary))
	if !r.hasAgent(d.Primary) {
		if d.Primary != "" {
			r.logger.Warn("router picked unknown agent, using fallback", "agent", d.Primary)
		}
		d.Primary = r.fallback
	}

	switch d.Complexity {
	case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex:
	default:
		d.Complexity = models.ComplexityMedium
	}

	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}

	if d.NeedsClarify {
		d.Secondaries = nil
		if d.ClarifyQuestion == "" {
			d.ClarifyQuestion = clarifyEssentials
		}
	} else {
		d.ClarifyQuestion = ""
		d.Secondaries = r.filterSecondaries(d.Primary, d.Secondaries)
	}
	return d
}

func (r *Router) filterSecondaries(primary string, names []string) []string {
	var out []string
	seen := map[string]bool{primary: true}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] || !r.hasAgent(n) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func (r *Router) hasAgent(name string) bool {
	for _, a := range r.agents {
		if a.Name == name {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractJSON pulls the outermost JSON object out of a completion that may
// wrap it in prose or a code fence.
func extractJSON(s string) ([]byte, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(s[start : end+1]), true
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		if len(tok) < 3 {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// overlap is the share of a's tokens present in b.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return float64(n) / float64(len(a))
}
