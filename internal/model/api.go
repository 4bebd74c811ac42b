package model

// SendMessageRequest is the request to start or continue a conversation.
type SendMessageRequest struct {
	Content  string   `json:"content"`
	Modality Modality `json:"modality,omitempty"`
}

// RunResponse is returned after an agent turn. Either Output is the finished
// assistant text, or Pending holds the calls awaiting human decisions.
type RunResponse struct {
	ConversationID string       `json:"conversation_id"`
	Output         string       `json:"output,omitempty"`
	Pending        []ActionCall `json:"pending,omitempty"`
}

// ResolveRequest carries the decision batch for a conversation's pending calls.
type ResolveRequest struct {
	Decisions []Decision `json:"decisions"`
}

// ResolveResponse is returned after a decision batch resumes the run.
type ResolveResponse struct {
	ConversationID string            `json:"conversation_id"`
	Output         string            `json:"output,omitempty"`
	Results        map[string]string `json:"results"`
	Pending        []ActionCall      `json:"pending,omitempty"`
}

// ConversationResponse is the full fetch view: ordered history plus the
// current pending calls (empty if none).
type ConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
	Pending      []ActionCall  `json:"pending"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}

// TriggerRequest is the fire-and-forget trigger entry payload.
type TriggerRequest struct {
	Key     string `json:"key"`
	Source  string `json:"source"`
	Prompt  string `json:"prompt"`
	Origin  string `json:"origin,omitempty"`
	EventID string `json:"event_id,omitempty"`
}
