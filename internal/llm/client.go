// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
)

// ChatMessage represents a chat message for an LLM request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls are the calls an assistant message proposed.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// CallID links a tool-result message to the call it answers.
	CallID string `json:"call_id,omitempty"`
}

// ToolCall is a model-proposed invocation of a declared tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest represents a plain text completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// ToolRequest is a completion request that declares callable tools.
type ToolRequest struct {
	Model     string
	Messages  []ChatMessage
	Tools     []ToolSpec
	MaxTokens int
}

// ToolResponse is a completion response that may carry tool calls.
type ToolResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for plain completions. The history compactor uses
// it for its cheap summarization passes.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// ToolClient is the interface the agent runner drives. It extends plain
// completion with tool declaration and tool-call outputs.
type ToolClient interface {
	Client

	// CompleteWithTools sends a request with declared tools and returns the
	// response, which may propose tool calls instead of (or alongside) text.
	CompleteWithTools(ctx context.Context, req *ToolRequest) (*ToolResponse, error)
}
