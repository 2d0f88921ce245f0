package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenhq/warden/internal/costs"
)

// ScriptedProvider replays a fixed sequence of completions. Tests drive the
// agent loop with it; production code never constructs one.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []*Request

	inputTokens  int64
	outputTokens int64
	rates        costs.Rates
}

type scriptStep struct {
	content string
	err     error
}

// NewScriptedProvider builds a provider that answers with each response in
// order and errors once the script runs out.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	p := &ScriptedProvider{}
	for _, r := range responses {
		p.steps = append(p.steps, scriptStep{content: r})
	}
	return p
}

// AddResponse appends a successful completion to the script.
func (p *ScriptedProvider) AddResponse(content string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, scriptStep{content: content})
	return p
}

// AddError appends a failing completion to the script.
func (p *ScriptedProvider) AddError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, scriptStep{err: err})
	return p
}

// SetUsage fixes the token usage reported by every completion. Zero values
// fall back to size estimates.
func (p *ScriptedProvider) SetUsage(input, output int64) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputTokens = input
	p.outputTokens = output
	return p
}

// SetRates fixes the price card returned by Rates.
func (p *ScriptedProvider) SetRates(r costs.Rates) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates = r
	return p
}

func (p *ScriptedProvider) Name() string { return "scripted" }

// Complete replays the next scripted step.
func (p *ScriptedProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if len(p.requests) > len(p.steps) {
		return nil, fmt.Errorf("scripted provider exhausted after %d completions", len(p.steps))
	}
	step := p.steps[len(p.requests)-1]
	if step.err != nil {
		return nil, step.err
	}
	if step.content == "" {
		return nil, ErrEmptyResponse
	}

	in, out := p.inputTokens, p.outputTokens
	if in == 0 {
		in = EstimateTokens(req.System, req.Messages)
	}
	if out == 0 {
		out = int64(len(step.content) / 4)
	}
	return &Response{Content: step.content, InputTokens: in, OutputTokens: out}, nil
}

// Rates returns the configured price card (zero by default, so scripted
// runs cost nothing unless a test says otherwise).
func (p *ScriptedProvider) Rates(model string) costs.Rates {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rates
}

// Calls reports how many completions ran.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// RequestAt returns the i-th completion request for assertions.
func (p *ScriptedProvider) RequestAt(i int) *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.requests) {
		return nil
	}
	return p.requests[i]
}
