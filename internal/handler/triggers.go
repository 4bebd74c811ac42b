package handler

import (
	"encoding/json"
	"net/http"

	"github.com/concierge-hq/concierge/internal/engine"
	"github.com/concierge-hq/concierge/internal/middleware"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/pkg/logger"
)

// TriggerHandler accepts externally sourced trigger events.
type TriggerHandler struct {
	runner *engine.TriggerRunner
	logger *logger.Logger
}

// NewTriggerHandler creates a new trigger handler.
func NewTriggerHandler(runner *engine.TriggerRunner, log *logger.Logger) *TriggerHandler {
	return &TriggerHandler{
		runner: runner,
		logger: log,
	}
}

// Fire handles POST /api/v1/triggers
// Fire-and-forget: the webhook gets its 202 immediately and the run proceeds
// detached. Rate limiting, silent disposition, and error containment all
// happen inside the runner.
func (h *TriggerHandler) Fire(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTriggerRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	go h.runner.Handle(model.TriggerEvent{
		Key:     req.Key,
		Source:  req.Source,
		Prompt:  req.Prompt,
		Origin:  req.Origin,
		EventID: req.EventID,
	})

	w.WriteHeader(http.StatusAccepted)
}
