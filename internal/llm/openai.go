package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/pkg/models"
)

// DefaultOpenAIModel is used when a request does not name a model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI-compatible provider. BaseURL points it
// at any compatible backend (vLLM, Ollama, LM Studio, proxies); those often
// accept an empty API key.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider calls a Chat Completions endpoint. Safe for concurrent
// use.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIProvider builds the provider. An API key is required unless a
// custom BaseURL is set.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if cfg.APIKey == "" && baseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultOpenAIModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete runs one non-streaming chat completion with retries on transient
// failures.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertOpenAIMessages(req.System, req.Messages),
		MaxTokens: maxTokens,
	}

	var resp openai.ChatCompletionResponse
	err := withRetries(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	// Local backends frequently omit usage; estimate so cost tracking
	// never sees zeros.
	if out.InputTokens == 0 {
		out.InputTokens = EstimateTokens(req.System, req.Messages)
	}
	if out.OutputTokens == 0 {
		out.OutputTokens = int64(len(out.Content) / 4)
	}
	return out, nil
}

// Rates returns the price card per 1k tokens. Unknown and self-hosted
// models fall back to the gpt-4o card, which overestimates rather than
// undercounts.
func (p *OpenAIProvider) Rates(model string) costs.Rates {
	switch {
	case strings.Contains(model, "gpt-4o-mini"):
		return costs.Rates{InputPer1K: 0.00015, OutputPer1K: 0.0006}
	case strings.Contains(model, "gpt-4.1-mini"):
		return costs.Rates{InputPer1K: 0.0004, OutputPer1K: 0.0016}
	case strings.Contains(model, "gpt-4.1"):
		return costs.Rates{InputPer1K: 0.002, OutputPer1K: 0.008}
	case strings.Contains(model, "o3"), strings.Contains(model, "o1"):
		return costs.Rates{InputPer1K: 0.002, OutputPer1K: 0.008}
	default:
		return costs.Rates{InputPer1K: 0.0025, OutputPer1K: 0.01}
	}
}

// convertOpenAIMessages maps the conversation onto chat roles. Synthetic
// system messages inserted by compaction stay system turns; tool results
// become user turns since the tool protocol is text based.
func convertOpenAIMessages(system string, messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		case models.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			})
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: toolResultText(m),
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		}
	}
	return out
}
