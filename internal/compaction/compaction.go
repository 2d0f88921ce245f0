// Package compaction keeps an agent conversation within its token budget.
// Pruning is deterministic and local: the system prompt is pinned, the most
// recent exchanges are kept verbatim, older tool output is dropped with a
// visible marker, and everything older than the keep window collapses into a
// single synthetic summary message.
package compaction

import (
	"fmt"
	"strings"

	"github.com/wardenhq/warden/pkg/models"
)

const (
	// CharsPerToken is the estimation ratio. Counting characters keeps the
	// pruner independent of any provider tokenizer.
	CharsPerToken = 4

	// DefaultMaxContextTokens is the budget when none is configured.
	DefaultMaxContextTokens = 100_000

	// DefaultKeepLastExchanges is how many trailing user/assistant messages
	// of each role survive pruning verbatim.
	DefaultKeepLastExchanges = 3

	// droppedToolMarker replaces tool output removed by pruning so the
	// conversation still shows that the tool ran.
	droppedToolMarker = "[tool output pruned]"

	summaryLineLimit = 120
)

// EstimateTokens approximates the token count of one message.
func EstimateTokens(msg models.Message) int {
	chars := len(msg.Content) + len(msg.ToolName)
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateTotal approximates the token count of a whole conversation.
func EstimateTotal(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return total
}

// Pruner applies the compaction policy to conversations.
type Pruner struct {
	maxTokens      int
	keepUsers      int
	keepAssistants int
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithMaxTokens sets the token budget that triggers pruning.
func WithMaxTokens(n int) Option {
	return func(p *Pruner) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithKeepLast sets how many trailing messages per role stay verbatim.
func WithKeepLast(n int) Option {
	return func(p *Pruner) {
		if n > 0 {
			p.keepUsers = n
			p.keepAssistants = n
		}
	}
}

// WithKeepLastUsers sets the verbatim window for user messages only.
func WithKeepLastUsers(n int) Option {
	return func(p *Pruner) {
		if n > 0 {
			p.keepUsers = n
		}
	}
}

// WithKeepLastAssistants sets the verbatim window for assistant messages only.
func WithKeepLastAssistants(n int) Option {
	return func(p *Pruner) {
		if n > 0 {
			p.keepAssistants = n
		}
	}
}

// NewPruner builds a pruner with the default budget and keep window.
func NewPruner(opts ...Option) *Pruner {
	p := &Pruner{
		maxTokens:      DefaultMaxContextTokens,
		keepUsers:      DefaultKeepLastExchanges,
		keepAssistants: DefaultKeepLastExchanges,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result reports what one Prune call did.
type Result struct {
	Messages        []models.Message
	Pruned          bool
	DroppedMessages int
	DroppedTokens   int
	KeptTokens      int
}

// Prune returns a conversation that fits the budget. Conversations already
// under budget are returned unchanged. The input slice is never mutated.
//
// Ordering within the kept window is preserved exactly; the synthetic summary
// (when present) sits directly after the system prompt.
func (p *Pruner) Prune(messages []models.Message) Result {
	total := EstimateTotal(messages)
	if total <= p.maxTokens || len(messages) == 0 {
		return Result{Messages: messages, KeptTokens: total}
	}

	// Pass 1: strip old tool output, keeping a marker in its place. Tool
	// results are the bulkiest and least load-bearing part of old context.
	working := make([]models.Message, len(messages))
	copy(working, messages)

	cutoff := p.keepWindowStart(working)
	for i := 0; i < cutoff; i++ {
		if working[i].Role == models.RoleTool && working[i].Content != droppedToolMarker {
			working[i].Content = droppedToolMarker
		}
	}

	if EstimateTotal(working) <= p.maxTokens {
		return p.finish(messages, working)
	}

	// Pass 2: collapse everything before the keep window into one summary,
	// pinning the system prompt.
	var kept []models.Message
	var summarized []models.Message
	for i, msg := range working {
		switch {
		case msg.Role == models.RoleSystem && i == 0:
			kept = append(kept, msg)
		case i >= cutoff:
			kept = append(kept, msg)
		default:
			summarized = append(summarized, msg)
		}
	}

	if len(summarized) > 0 {
		summary := models.Message{
			Role:    models.RoleSystem,
			Content: summarize(summarized),
		}
		insertAt := 0
		if len(kept) > 0 && kept[0].Role == models.RoleSystem {
			insertAt = 1
		}
		kept = append(kept[:insertAt], append([]models.Message{summary}, kept[insertAt:]...)...)
	}

	return p.finish(messages, kept)
}

func (p *Pruner) finish(original, pruned []models.Message) Result {
	keptTokens := EstimateTotal(pruned)
	originalTokens := EstimateTotal(original)
	return Result{
		Messages:        pruned,
		Pruned:          true,
		DroppedMessages: len(original) - len(pruned),
		DroppedTokens:   originalTokens - keptTokens,
		KeptTokens:      keptTokens,
	}
}

// keepWindowStart returns the index of the first message inside the verbatim
// keep window: the last keepUsers user messages and last keepAssistants
// assistant messages, plus any tool results interleaved with them.
func (p *Pruner) keepWindowStart(messages []models.Message) int {
	users, assistants := 0, 0
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case models.RoleUser:
			users++
		case models.RoleAssistant:
			assistants++
		}
		if users >= p.keepUsers && assistants >= p.keepAssistants {
			return i
		}
	}
	// Whole conversation fits in the window; pin only the system prompt.
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		return 1
	}
	return 0
}

// summarize produces a deterministic digest of dropped messages: one line per
// message with its role and the head of its content. No LLM call is involved,
// so pruning can never itself consume budget.
func summarize(dropped []models.Message) string {
	var sb strings.Builder
	sb.WriteString("Earlier context (summarized):\n")
	for _, msg := range dropped {
		line := firstLine(msg.Content)
		if msg.Role == models.RoleTool {
			if msg.ToolName != "" {
				line = fmt.Sprintf("%s -> %s", msg.ToolName, line)
			}
			if msg.IsError {
				line = "FAILED " + line
			}
		}
		fmt.Fprintf(&sb, "- %s: %s\n", msg.Role, line)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > summaryLineLimit {
		s = s[:summaryLineLimit] + "..."
	}
	return s
}
