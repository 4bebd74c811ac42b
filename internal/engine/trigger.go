package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/store"
	"github.com/concierge-hq/concierge/pkg/logger"
	"github.com/concierge-hq/concierge/pkg/metrics"
)

// triggerRunTimeout bounds one background run end to end.
const triggerRunTimeout = 5 * time.Minute

// Notifier delivers an out-of-band notification for a surfaced conversation.
type Notifier interface {
	Notify(n *model.Notification) error
}

// TriggerRunner is the entry point event sources call. It gates on the
// cooldown map, runs the agent under the system identity in a detached
// context, and dispositions the result: silent audit log when the output is
// the sentinel, otherwise a surfaced conversation plus a notification.
// Errors never propagate to the event source.
type TriggerRunner struct {
	engine   *Engine
	cooldown *Cooldown
	store    store.ConversationStore
	notifier Notifier
	sentinel string
	logger   *logger.Logger
}

// NewTriggerRunner creates a trigger runner.
func NewTriggerRunner(e *Engine, cooldown *Cooldown, st store.ConversationStore, notifier Notifier, sentinel string, log *logger.Logger) *TriggerRunner {
	if sentinel == "" {
		sentinel = "NO_REPLY"
	}
	return &TriggerRunner{
		engine:   e,
		cooldown: cooldown,
		store:    st,
		notifier: notifier,
		sentinel: sentinel,
		logger:   log.Named("trigger"),
	}
}

// Handle processes one trigger event. Callers fire and forget; the runner
// builds its own detached context and swallows every failure after logging
// it, because a webhook or scheduler tick must not fail when the run does.
func (t *TriggerRunner) Handle(event model.TriggerEvent) {
	log := t.logger.With(
		zap.String("key", event.Key),
		zap.String("source", event.Source),
		zap.String("prompt_preview", preview(event.Prompt)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("trigger run panicked", zap.Any("panic", r))
		}
	}()

	if !t.cooldown.Allow(event.Key) {
		metrics.TriggersTotal.WithLabelValues(event.Source, "rejected").Inc()
		log.Info("trigger rejected by cooldown")
		return
	}
	metrics.TriggersTotal.WithLabelValues(event.Source, "allowed").Inc()

	// Detached context: no inbound request is in flight when this runs.
	ctx, cancel := context.WithTimeout(context.Background(), triggerRunTimeout)
	defer cancel()

	result, err := t.engine.Run(ctx, RunInput{
		OwnerID:  model.SystemOwner,
		Modality: model.ModalityWebChat,
		Content:  event.Prompt,
		Metadata: map[string]string{
			model.MetaTriggerSource:  event.Source,
			model.MetaTriggerOrigin:  event.Origin,
			model.MetaTriggerPreview: preview(event.Prompt),
			model.MetaTriggerEventID: event.EventID,
		},
	})
	if err != nil {
		log.Error("trigger run failed", zap.Error(err))
		return
	}

	conv := result.Conversation
	log = log.With(zap.String("conversation_id", conv.ID))

	if len(result.Pending) == 0 && strings.EqualFold(strings.TrimSpace(result.Output), t.sentinel) {
		// Nothing to surface. The run stays in the audit stream; the
		// conversation row is withdrawn so humans never see it.
		metrics.RunsTotal.WithLabelValues("silent").Inc()
		log.Info("trigger run silent", zap.String("sentinel", t.sentinel))

		if err := t.store.Delete(ctx, conv.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to withdraw silent conversation", zap.Error(err))
		}
		return
	}

	if t.notifier != nil {
		n := &model.Notification{
			ConversationID: conv.ID,
			Source:         event.Source,
			Preview:        conv.Preview(),
			CreatedAt:      time.Now(),
		}
		if err := t.notifier.Notify(n); err != nil {
			log.Warn("notification delivery failed", zap.Error(err))
		}
	}

	log.Info("trigger run surfaced",
		zap.Bool("has_pending", len(result.Pending) > 0),
	)
}

// preview truncates text for log context.
func preview(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 80 {
		return text[:77] + "..."
	}
	return text
}
