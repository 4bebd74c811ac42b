package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/pkg/metrics"
)

// Resolve applies a batch of human decisions to a conversation's pending
// calls and resumes the run. The batch must cover every pending call; a
// partial or malformed batch fails validation with zero state mutation.
// The final write is revision-checked so a concurrently resolved batch is
// rejected rather than silently overwritten.
func (e *Engine) Resolve(ctx context.Context, conversationID string, decisions []model.Decision) (*RunResult, error) {
	conv, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	loadedRevision := conv.Revision

	pending := conv.PendingCalls()
	if len(pending) == 0 {
		return nil, validationErrorf("conversation has no pending approvals")
	}

	byID, err := e.validateBatch(pending, decisions)
	if err != nil {
		return nil, err
	}

	// Validation passed; apply decisions in call order. From here on the
	// conversation mutates and the resumed run owns the outcome.
	assistant := conv.LastAssistant()
	results := make(map[string]string, len(pending))

	for i := range assistant.Calls {
		call := &assistant.Calls[i]
		if call.State != model.CallStateRequested {
			continue
		}

		decision := byID[call.ID]
		if !decision.Approved {
			reason := decision.Reason
			if reason == "" {
				reason = "denied by user"
			}
			call.State = model.CallStateDenied
			call.Reason = reason
			metrics.ApprovalsTotal.WithLabelValues("denied").Inc()
		} else {
			if decision.Override != nil {
				call.Arguments = decision.Override
			}
			e.gate.Execute(ctx, call)
			metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
		}

		e.appendCallResult(conv, call)
		if call.State == model.CallStateDenied {
			results[call.ID] = "Denied by user: " + call.Reason
		} else {
			results[call.ID] = call.Result
		}
	}
	metrics.PendingApprovals.Dec()

	result, genErr := e.generate(ctx, conv)

	if err := e.persistRev(ctx, conv, loadedRevision); err != nil {
		if genErr == nil {
			return nil, err
		}
		e.logger.Error("persist failed after generation error",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
	if genErr != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, genErr
	}

	if len(result.Pending) > 0 {
		metrics.RunsTotal.WithLabelValues("suspended").Inc()
		metrics.PendingApprovals.Inc()
	} else {
		metrics.RunsTotal.WithLabelValues("completed").Inc()
	}

	result.Results = results
	return result, nil
}

// validateBatch checks the decision batch against the pending set before any
// mutation: exactly one decision per pending call, no strays, and overrides
// that match the action's declared schema.
func (e *Engine) validateBatch(pending []model.ActionCall, decisions []model.Decision) (map[string]model.Decision, error) {
	pendingByID := make(map[string]model.ActionCall, len(pending))
	for _, call := range pending {
		pendingByID[call.ID] = call
	}

	byID := make(map[string]model.Decision, len(decisions))
	for _, d := range decisions {
		if _, ok := pendingByID[d.CallID]; !ok {
			return nil, validationErrorf("decision references unknown call id %q", d.CallID)
		}
		if _, dup := byID[d.CallID]; dup {
			return nil, validationErrorf("duplicate decision for call id %q", d.CallID)
		}
		byID[d.CallID] = d
	}

	for _, call := range pending {
		d, ok := byID[call.ID]
		if !ok {
			return nil, validationErrorf("missing decision for pending call %q", call.ID)
		}
		if d.Approved && d.Override != nil {
			if err := e.gate.ValidateArgs(call.Name, d.Override); err != nil {
				return nil, validationErrorf("invalid override for call %q: %v", call.ID, err)
			}
		}
	}

	return byID, nil
}

// persistRev writes shielded from cancellation, rejecting stale revisions.
func (e *Engine) persistRev(ctx context.Context, conv *model.Conversation, expected uint64) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	conv.UpdatedAt = time.Now()
	return e.store.UpsertRev(pctx, conv, expected)
}
