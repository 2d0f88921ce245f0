package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/pkg/models"
)

// DefaultAnthropicModel is used when a request does not name a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider calls the Anthropic Messages API. Safe for concurrent
// use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicProvider builds the provider, applying defaults for optional
// config fields.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultAnthropicModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete runs one non-streaming Messages call with retries on transient
// failures.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	var msg *anthropic.Message
	err := withRetries(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:      sb.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// Rates returns the Anthropic price card per 1k tokens.
func (p *AnthropicProvider) Rates(model string) costs.Rates {
	switch {
	case strings.Contains(model, "haiku"):
		return costs.Rates{InputPer1K: 0.0008, OutputPer1K: 0.004}
	case strings.Contains(model, "opus"):
		return costs.Rates{InputPer1K: 0.015, OutputPer1K: 0.075}
	default:
		return costs.Rates{InputPer1K: 0.003, OutputPer1K: 0.015}
	}
}

// convertAnthropicMessages maps the conversation to API messages. The role
// prompt travels in params.System; synthetic system messages inserted by
// compaction mid-conversation become user turns so summaries survive, and
// tool results become user turns since the tool protocol is text based.
func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			content := m.Content
			if m.Role == models.RoleTool {
				content = toolResultText(m)
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	return out
}

// toolResultText frames a tool result so the model can attribute it.
func toolResultText(m models.Message) string {
	var sb strings.Builder
	sb.WriteString("Tool result")
	if m.ToolName != "" {
		sb.WriteString(" from ")
		sb.WriteString(m.ToolName)
	}
	if m.IsError {
		sb.WriteString(" (error)")
	}
	sb.WriteString(":\n")
	sb.WriteString(m.Content)
	return sb.String()
}
