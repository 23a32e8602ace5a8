package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockProvider replays scripted responses for tests. Responses are consumed
// in order; running past the script is an error so tests fail loudly when the
// loop makes more calls than expected.
type MockProvider struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	requests  []Request
	calls     int

	// ChatFunc overrides scripted behavior entirely when set.
	ChatFunc func(ctx context.Context, req Request) (*Response, error)
}

// NewMockProvider returns an empty scripted provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// EnqueueToolCall scripts a response containing a single tool call.
func (p *MockProvider) EnqueueToolCall(name string, args string) {
	p.EnqueueResponse(&Response{
		StopReason: "tool_use",
		ToolCalls: []ToolCall{{
			ID:   fmt.Sprintf("call-%d", len(p.responses)+1),
			Name: name,
			Args: json.RawMessage(args),
		}},
		Usage: Usage{InputTokens: 100, OutputTokens: 20},
	})
}

// EnqueueToolCalls scripts a response containing several tool calls.
func (p *MockProvider) EnqueueToolCalls(calls ...ToolCall) {
	p.EnqueueResponse(&Response{
		StopReason: "tool_use",
		ToolCalls:  calls,
		Usage:      Usage{InputTokens: 100, OutputTokens: 20},
	})
}

// EnqueueText scripts a plain-text response with no tool calls.
func (p *MockProvider) EnqueueText(content string) {
	p.EnqueueResponse(&Response{Content: content, StopReason: "end_turn", Usage: Usage{InputTokens: 50, OutputTokens: 10}})
}

// EnqueueResponse scripts a full response.
func (p *MockProvider) EnqueueResponse(resp *Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	p.errs = append(p.errs, nil)
}

// EnqueueError scripts a provider failure.
func (p *MockProvider) EnqueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, nil)
	p.errs = append(p.errs, err)
}

// Chat implements Provider.
func (p *MockProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.ChatFunc != nil {
		return p.ChatFunc(ctx, req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("mock provider exhausted after %d calls", p.calls)
	}
	resp, err := p.responses[p.calls], p.errs[p.calls]
	p.calls++
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Requests returns the requests seen so far.
func (p *MockProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// CallCount returns how many Chat calls were made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
