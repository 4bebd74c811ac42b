package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/concierge-hq/concierge/internal/model"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateModality validates an input surface name. Empty defaults upstream.
func ValidateModality(m model.Modality) error {
	switch m {
	case "", model.ModalitySMS, model.ModalityEmail, model.ModalityWebChat:
		return nil
	}
	return errors.New("unknown modality")
}

// ValidateDecisions checks the shape of a decision batch before it reaches
// the engine, which enforces completeness against the pending set.
func ValidateDecisions(decisions []model.Decision) error {
	if len(decisions) == 0 {
		return errors.New("decisions cannot be empty")
	}
	for _, d := range decisions {
		if d.CallID == "" {
			return errors.New("decision is missing call_id")
		}
		if !d.Approved && d.Override != nil {
			return errors.New("override_args are only valid on approval")
		}
	}
	return nil
}

// ValidateTriggerRequest checks the trigger entry payload.
func ValidateTriggerRequest(req *model.TriggerRequest) error {
	if req.Key == "" {
		return errors.New("key is required")
	}
	if req.Prompt == "" {
		return errors.New("prompt is required")
	}
	if req.Source == "" {
		return errors.New("source is required")
	}
	return nil
}
