package natsio

import (
	"encoding/json"
	"fmt"

	"github.com/concierge-hq/concierge/internal/model"
)

// Notifier publishes out-of-band notifications on a core NATS subject.
// Push-notification and chat-UI collaborators subscribe to it.
type Notifier struct {
	streams *StreamManager
	subject string
}

// NewNotifier creates a notifier publishing on the given subject.
func NewNotifier(streams *StreamManager, subject string) *Notifier {
	return &Notifier{
		streams: streams,
		subject: subject,
	}
}

// Notify delivers one notification record.
func (n *Notifier) Notify(notification *model.Notification) error {
	return n.streams.PublishNotification(n.subject, notification)
}

// PublishJSON publishes an arbitrary JSON payload on a core NATS subject.
// Outbound integration commands (SMS, email, tasks) go through here.
func (m *StreamManager) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := m.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
