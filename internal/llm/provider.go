// Package llm wraps provider-specific chat APIs behind one message/tool-call
// abstraction. Forced single-tool-call and multi-tool-call provider responses
// both normalize into a flat list of tool calls with raw JSON arguments;
// argument validation belongs to the tools package at the coordinator
// boundary.
package llm

import (
	"context"
	"encoding/json"

	"github.com/graphweave/researcher/internal/tools"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool choice modes. Any other value forces that specific tool by name.
const (
	ToolChoiceRequired = "required"
	ToolChoiceAuto     = "auto"
)

// Message is one turn of conversation in provider-neutral shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one structured tool invocation emitted by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Usage is per-call token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Metadata tags a call for the usage ledger.
type Metadata struct {
	TaskName string `json:"task_name"`
	StepID   string `json:"step_id"`
}

// Request is a provider-neutral chat request.
type Request struct {
	System     string             `json:"system"`
	Messages   []Message          `json:"messages"`
	Tools      []tools.Definition `json:"tools,omitempty"`
	ToolChoice string             `json:"tool_choice,omitempty"`
	MaxTokens  int                `json:"max_tokens,omitempty"`
	Metadata   Metadata           `json:"metadata"`
}

// Response is a provider-neutral chat response.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model"`
}

// Provider is a chat-completion backend. A returned error is fatal to the
// caller's current step; retries, if any, belong to the surrounding workflow
// engine, not this layer.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
