// Package store provides durable persistence for conversations.
//
// The store is authoritative: a suspended run is reconstructed entirely from
// the persisted conversation document, never from in-memory state.
package store

import (
	"context"
	"errors"

	"github.com/concierge-hq/concierge/internal/model"
)

// ErrNotFound is returned when a conversation id is unknown.
var ErrNotFound = errors.New("conversation not found")

// ErrRevisionConflict is returned by UpsertRev when the stored revision no
// longer matches the one the caller loaded. Used to reject stale decision
// batches instead of silently overwriting a concurrent resolution.
var ErrRevisionConflict = errors.New("conversation revision conflict")

// ConversationStore persists conversation documents.
type ConversationStore interface {
	// Load returns the full conversation, with Revision populated.
	// Unknown ids return ErrNotFound.
	Load(ctx context.Context, id string) (*model.Conversation, error)

	// Upsert creates or overwrites the conversation document in place.
	// Last-writer-wins at conversation granularity.
	Upsert(ctx context.Context, conv *model.Conversation) error

	// UpsertRev writes only if the stored revision equals expected,
	// otherwise returns ErrRevisionConflict.
	UpsertRev(ctx context.Context, conv *model.Conversation, expected uint64) error

	// List returns summaries. An empty owner returns every conversation
	// regardless of owner; authorization is enforced at the boundary, not
	// per row.
	List(ctx context.Context, owner string) ([]model.ConversationSummary, error)

	// Delete removes the conversation. Terminal.
	Delete(ctx context.Context, id string) error
}
