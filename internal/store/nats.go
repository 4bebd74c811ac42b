package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/natsio"
	"github.com/concierge-hq/concierge/pkg/logger"
)

// NATSStore persists conversation documents in a JetStream KV bucket and
// mirrors every newly appended message onto the audit stream.
type NATSStore struct {
	kv      jetstream.KeyValue
	streams *natsio.StreamManager
	logger  *logger.Logger

	// audited tracks how many messages per conversation have already been
	// mirrored to the audit stream in this process.
	audited   map[string]int
	auditedMu sync.Mutex
}

// NewNATSStore creates a store backed by the given KV bucket.
func NewNATSStore(kv jetstream.KeyValue, streams *natsio.StreamManager, log *logger.Logger) *NATSStore {
	return &NATSStore{
		kv:      kv,
		streams: streams,
		logger:  log.Named("store"),
		audited: make(map[string]int),
	}
}

// Load retrieves a conversation by id.
func (s *NATSStore) Load(ctx context.Context, id string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	conv.Revision = entry.Revision()

	return &conv, nil
}

// Upsert writes the conversation document, last-writer-wins.
func (s *NATSStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	rev, err := s.kv.Put(ctx, conv.ID, data)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	conv.Revision = rev

	s.auditNewMessages(ctx, conv)
	return nil
}

// UpsertRev writes the conversation only if the stored revision matches.
func (s *NATSStore) UpsertRev(ctx context.Context, conv *model.Conversation, expected uint64) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	rev, err := s.kv.Update(ctx, conv.ID, data, expected)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return ErrRevisionConflict
		}
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	conv.Revision = rev

	s.auditNewMessages(ctx, conv)
	return nil
}

// List returns conversation summaries, optionally filtered by owner.
func (s *NATSStore) List(ctx context.Context, owner string) ([]model.ConversationSummary, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var summaries []model.ConversationSummary
	for key := range lister.Keys() {
		conv, err := s.Load(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // deleted between list and load
			}
			return nil, err
		}
		if owner != "" && conv.OwnerID != owner {
			continue
		}
		summaries = append(summaries, conv.Summary())
	}

	return summaries, nil
}

// Delete removes the conversation and its KV history.
func (s *NATSStore) Delete(ctx context.Context, id string) error {
	if _, err := s.kv.Get(ctx, id); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := s.kv.Purge(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.auditedMu.Lock()
	delete(s.audited, id)
	s.auditedMu.Unlock()

	return nil
}

// auditNewMessages mirrors messages appended since the last write to the
// audit stream. Best-effort: audit failures are logged, never surfaced.
func (s *NATSStore) auditNewMessages(ctx context.Context, conv *model.Conversation) {
	if s.streams == nil {
		return
	}

	s.auditedMu.Lock()
	start := s.audited[conv.ID]
	if start > len(conv.Messages) {
		// Compaction or restart shrank the list; resync without replaying.
		start = len(conv.Messages)
	}
	s.audited[conv.ID] = len(conv.Messages)
	s.auditedMu.Unlock()

	for i := start; i < len(conv.Messages); i++ {
		msg := conv.Messages[i]
		if _, err := s.streams.PublishMessage(ctx, conv.OwnerID, conv.ID, &msg); err != nil {
			s.logger.Warn("audit publish failed",
				zap.String("conversation_id", conv.ID),
				zap.Error(err),
			)
			return
		}
	}
}
