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
	"github.com/concierge-hq/concierge/pkg/logger"
)

// MessageHandler handles the start/continue conversation endpoint.
type MessageHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(e *engine.Engine, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		engine: e,
		logger: log,
	}
}

// Send handles POST /api/v1/conversations/:id/messages
// Runs one agent turn. Responds 200 with the finished output, or 202 with
// the pending action calls when the run suspended for approval.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateModality(req.Modality); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	modality := req.Modality
	if modality == "" {
		modality = model.ModalityWebChat
	}

	result, err := h.engine.Run(ctx, engine.RunInput{
		ConversationID: conversationID,
		OwnerID:        userID,
		Modality:       modality,
		Content:        req.Content,
	})
	if err != nil {
		if errors.Is(err, engine.ErrPendingApprovals) {
			writeError(w, http.StatusConflict, "conversation has unresolved pending approvals")
			return
		}
		h.logger.Error("agent run failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "agent run failed")
		return
	}

	resp := &model.RunResponse{
		ConversationID: result.Conversation.ID,
		Output:         result.Output,
		Pending:        result.Pending,
	}
	if len(result.Pending) > 0 {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
