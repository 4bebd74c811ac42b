// Package handler provides HTTP handlers for the API.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/engine"
	"github.com/concierge-hq/concierge/internal/middleware"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/store"
	"github.com/concierge-hq/concierge/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	engine *engine.Engine
	store  store.ConversationStore
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(e *engine.Engine, st store.ConversationStore, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		engine: e,
		store:  st,
		logger: log,
	}
}

// Get handles GET /api/v1/conversations/:id
// Returns the full ordered history plus current pending calls.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, pending, err := h.engine.Fetch(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to fetch conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch conversation")
		return
	}

	if pending == nil {
		pending = []model.ActionCall{}
	}
	writeJSON(w, http.StatusOK, &model.ConversationResponse{
		Conversation: conv,
		Pending:      pending,
	})
}

// List handles GET /api/v1/conversations
// Without ?owner=, every conversation is returned: authorization is enforced
// once at the boundary and the team shares visibility.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := r.URL.Query().Get("owner")

	summaries, err := h.store.List(ctx, owner)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: summaries,
		Total:         len(summaries),
	})
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Delete(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to delete conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
