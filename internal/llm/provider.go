// Package llm abstracts the model providers behind a single non-streaming
// completion interface. Tool calls travel inside the assistant text as a
// trailing JSON object, so providers only need plain text conversations and
// the whole agent loop stays provider-agnostic.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/pkg/models"
)

// Request is a single completion call.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	MaxTokens int
}

// Response is the provider's answer with token accounting for the cost
// tracker. Providers that do not report usage fill in estimates.
type Response struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// Provider is one LLM backend.
type Provider interface {
	// Name is the stable lowercase provider identifier.
	Name() string

	// Complete runs one completion. Implementations honor ctx cancellation
	// and retry transient failures internally.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Rates returns the price card for a model.
	Rates(model string) costs.Rates
}

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)

// EstimateTokens approximates request size at ~4 characters per token, used
// when a provider does not report input usage.
func EstimateTokens(system string, messages []models.Message) int64 {
	chars := len(system)
	for _, m := range messages {
		chars += len(m.Content) + len(m.Role)
	}
	return int64(chars / 4)
}

// retryable reports whether an error is worth another attempt: rate limits,
// server errors, timeouts, and connection failures.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "rate limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetries runs call with exponential backoff on retryable errors.
func withRetries(ctx context.Context, maxRetries int, baseDelay time.Duration, call func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = call()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt < maxRetries {
			backoff := baseDelay << attempt
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return err
}
