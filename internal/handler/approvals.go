package handler

import (
	"encoding/json"
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

// ApprovalHandler handles the decision-batch resolution endpoint.
type ApprovalHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(e *engine.Engine, log *logger.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		engine: e,
		logger: log,
	}
}

// Resolve handles POST /api/v1/conversations/:id/approvals
// The batch must cover every pending call. Incomplete or schema-invalid
// batches are rejected without mutating anything; a batch that lost a race
// against a concurrent resolution gets a conflict.
func (h *ApprovalHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateDecisions(req.Decisions); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Resolve(ctx, conversationID, req.Decisions)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case engine.IsValidation(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, store.ErrRevisionConflict):
			writeError(w, http.StatusConflict, "conversation was resolved concurrently")
		default:
			h.logger.Error("approval resolution failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "approval resolution failed")
		}
		return
	}

	resp := &model.ResolveResponse{
		ConversationID: result.Conversation.ID,
		Output:         result.Output,
		Results:        result.Results,
		Pending:        result.Pending,
	}
	if len(result.Pending) > 0 {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
