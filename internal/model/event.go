package model

import (
	"time"
)

// Metadata keys persisted on trigger-originated conversations. Presentation
// layers consume them; the engine treats them as opaque.
const (
	MetaTriggerSource  = "trigger_source"
	MetaTriggerOrigin  = "trigger_origin"
	MetaTriggerPreview = "trigger_preview"
	MetaTriggerEventID = "trigger_event_id"
)

// TriggerEvent is an externally sourced event (inbound message, scheduled
// scan) that may start a background run, subject to rate limiting.
type TriggerEvent struct {
	// Key is the caller-chosen rate-limit key, e.g. a phone number or an
	// inbox identifier.
	Key string `json:"key"`

	// Source names the event source, e.g. "sms_webhook" or "inbox_scan".
	Source string `json:"source"`

	// Prompt is the synthetic context describing the triggering event.
	Prompt string `json:"prompt"`

	// Origin is the originating identifier (phone number, inbox id).
	Origin string `json:"origin,omitempty"`

	// EventID correlates the run back to the upstream event.
	EventID string `json:"event_id,omitempty"`
}

// Notification is the out-of-band record published when a background run
// surfaces a new conversation.
type Notification struct {
	ConversationID string    `json:"conversation_id"`
	Source         string    `json:"source"`
	Preview        string    `json:"preview,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
