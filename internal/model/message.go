package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation's append-only message list.
// Messages are immutable once written, with a single exception: the in-place
// transition of an assistant message's action calls from requested to a
// terminal state when approvals are resolved.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`

	// Content is the textual part of the message. For RoleTool messages it
	// is the action's result text.
	Content string `json:"content"`

	// Calls are the action invocations proposed by an assistant message.
	Calls []ActionCall `json:"calls,omitempty"`

	// CallID links a RoleTool result message back to the assistant call
	// that produced it.
	CallID string `json:"call_id,omitempty"`

	// Summary marks a synthetic message produced by whole-history
	// compaction in place of the older half of a conversation.
	Summary bool `json:"summary,omitempty"`

	// LLM metadata, recorded on assistant messages when known.
	Model     *string `json:"model,omitempty"`
	TokensIn  *int    `json:"tokens_in,omitempty"`
	TokensOut *int    `json:"tokens_out,omitempty"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Tokens returns the message's recorded usage, or a character-based estimate
// when the model reported none.
func (m *Message) Tokens() int {
	total := 0
	if m.TokensIn != nil {
		total += *m.TokensIn
	}
	if m.TokensOut != nil {
		total += *m.TokensOut
	}
	if total > 0 {
		return total
	}
	// Rough estimate: ~4 characters per token.
	return len(m.Content) / 4
}
