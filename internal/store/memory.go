package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/concierge-hq/concierge/internal/model"
)

// MemoryStore is an in-memory ConversationStore. Used by tests and by local
// development without a NATS server; state is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Conversation
	revisions map[string]uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.Conversation),
		revisions: make(map[string]uint64),
	}
}

// Load retrieves a conversation by id.
func (s *MemoryStore) Load(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}

	out := cloneConversation(conv)
	out.Revision = s.revisions[id]
	return out, nil
}

// Upsert creates or overwrites the conversation, last-writer-wins.
func (s *MemoryStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[conv.ID] = cloneConversation(conv)
	s.revisions[conv.ID]++
	conv.Revision = s.revisions[conv.ID]
	return nil
}

// UpsertRev writes only if the stored revision matches expected.
func (s *MemoryStore) UpsertRev(ctx context.Context, conv *model.Conversation, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revisions[conv.ID] != expected {
		return ErrRevisionConflict
	}

	s.documents[conv.ID] = cloneConversation(conv)
	s.revisions[conv.ID]++
	conv.Revision = s.revisions[conv.ID]
	return nil
}

// List returns summaries, optionally filtered by owner.
func (s *MemoryStore) List(ctx context.Context, owner string) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summaries []model.ConversationSummary
	for _, conv := range s.documents {
		if owner != "" && conv.OwnerID != owner {
			continue
		}
		summaries = append(summaries, conv.Summary())
	}
	return summaries, nil
}

// Delete removes the conversation.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	delete(s.revisions, id)
	return nil
}

// cloneConversation deep-copies a conversation so callers never share
// message slices with the stored document.
func cloneConversation(in *model.Conversation) *model.Conversation {
	data, err := json.Marshal(in)
	if err != nil {
		dup := *in
		return &dup
	}
	var out model.Conversation
	if err := json.Unmarshal(data, &out); err != nil {
		dup := *in
		return &dup
	}
	return &out
}
