package natsio

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/concierge-hq/concierge/internal/model"
)

const (
	// StreamName is the name of the conversation audit stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"

	// BucketName is the KV bucket holding conversation documents.
	BucketName = "conversations"
)

// StreamManager handles the JetStream audit stream and the conversations
// KV bucket.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the audit stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    100 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Append-ordered audit log of all conversation messages",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EnsureBucket ensures the conversations KV bucket exists and returns it.
func (m *StreamManager) EnsureBucket(ctx context.Context) (jetstream.KeyValue, error) {
	js := m.client.JetStream()

	kv, err := js.KeyValue(ctx, BucketName)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "Conversation documents, one entry per conversation id",
		Storage:     jetstream.FileStorage,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	return kv, nil
}

// MessageSubject returns the audit subject for a message.
func MessageSubject(ownerID, conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, ownerID, conversationID, role)
}

// PublishMessage publishes a message copy to the audit stream. Best-effort:
// the KV document remains authoritative.
func (m *StreamManager) PublishMessage(ctx context.Context, ownerID, conversationID string, msg *model.Message) (uint64, error) {
	subject := MessageSubject(ownerID, conversationID, msg.Role)

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// PublishNotification delivers an out-of-band notification record on a core
// NATS subject for presentation-layer consumers.
func (m *StreamManager) PublishNotification(subject string, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := m.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}
