// Package model defines data structures for the conversation and approval engine.
package model

import (
	"strings"
	"time"
)

// Modality is the input surface a conversation originated from.
type Modality string

const (
	ModalitySMS     Modality = "sms"
	ModalityEmail   Modality = "email"
	ModalityWebChat Modality = "web_chat"
)

// SystemOwner is the sentinel identity that owns trigger-originated
// conversations. Conversations it owns are visible to every authorized human.
const SystemOwner = "system"

// Conversation is a durable thread of messages identified by an opaque id,
// independent of which surface produced it.
type Conversation struct {
	ID       string            `json:"id"`
	Modality Modality          `json:"modality"`
	OwnerID  string            `json:"owner_id"`
	Messages []Message         `json:"messages"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// TokenEstimate is the running estimate of cumulative token usage,
	// updated from model responses. Drives whole-history compaction.
	TokenEstimate int `json:"token_estimate,omitempty"`

	// CompactedAt records when whole-history compaction last fired.
	CompactedAt *time.Time `json:"compacted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Revision is the store revision observed at load time. Populated on
	// read, used for optimistic writes when resolving approvals.
	Revision uint64 `json:"-"`
}

// LastAssistant returns the most recent assistant message, or nil.
func (c *Conversation) LastAssistant() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return &c.Messages[i]
		}
	}
	return nil
}

// PendingCalls returns the unresolved requested calls. Only the latest
// assistant message may hold requested state, so nothing older is consulted.
func (c *Conversation) PendingCalls() []ActionCall {
	last := c.LastAssistant()
	if last == nil {
		return nil
	}
	var pending []ActionCall
	for _, call := range last.Calls {
		if call.State == CallStateRequested {
			pending = append(pending, call)
		}
	}
	return pending
}

// Preview derives a short summary line from the first user message.
func (c *Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.Content)
		if len(text) > 120 {
			text = text[:117] + "..."
		}
		return text
	}
	return ""
}

// Summary converts the conversation into its listing form.
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Modality:     c.Modality,
		OwnerID:      c.OwnerID,
		Preview:      c.Preview(),
		HasPending:   len(c.PendingCalls()) > 0,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Modality     Modality  `json:"modality"`
	OwnerID      string    `json:"owner_id"`
	Preview      string    `json:"preview,omitempty"`
	HasPending   bool      `json:"has_pending"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
