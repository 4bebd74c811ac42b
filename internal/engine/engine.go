// Package engine implements the conversation and approval engine: the agent
// run loop, the approval resolver, the history compactor, and the trigger
// rate limiter. A suspended run is plain data in the conversation store; the
// engine never holds an in-memory continuation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/action"
	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/store"
	"github.com/concierge-hq/concierge/pkg/logger"
	"github.com/concierge-hq/concierge/pkg/metrics"
)

// persistTimeout bounds the shielded write that survives caller cancellation.
const persistTimeout = 15 * time.Second

// Config holds engine tuning.
type Config struct {
	// AgentModel is the model driving agent turns.
	AgentModel string

	// SystemPrompt is prepended to every model request.
	SystemPrompt string

	// MaxSteps bounds generate/execute cycles within one run.
	MaxSteps int
}

// Engine drives agent runs against the conversation store and action gate.
type Engine struct {
	store     store.ConversationStore
	gate      *action.Gate
	model     llm.ToolClient
	compactor *Compactor
	logger    *logger.Logger
	cfg       Config
}

// New creates an engine.
func New(st store.ConversationStore, gate *action.Gate, toolModel llm.ToolClient, compactor *Compactor, cfg Config, log *logger.Logger) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	return &Engine{
		store:     st,
		gate:      gate,
		model:     toolModel,
		compactor: compactor,
		logger:    log.Named("engine"),
		cfg:       cfg,
	}
}

// RunInput describes one user (or synthetic) turn.
type RunInput struct {
	// ConversationID continues an existing thread when set; empty starts a
	// fresh conversation with a generated id.
	ConversationID string

	OwnerID  string
	Modality model.Modality
	Content  string

	// Metadata is merged into the conversation's metadata map on create.
	Metadata map[string]string
}

// RunResult is the outcome of a run or a resumption.
type RunResult struct {
	Conversation *model.Conversation

	// Output is the final assistant text when the run finished.
	Output string

	// Pending is non-empty when the run suspended for approvals.
	Pending []model.ActionCall

	// Results maps call id to result text for calls resolved this turn.
	Results map[string]string
}

// Run executes one agent turn: append the user message, generate until the
// model finishes or suspends for approval, and persist the conversation.
// Persistence is shielded from cancellation of ctx.
func (e *Engine) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	start := time.Now()

	conv, err := e.loadOrCreate(ctx, in)
	if err != nil {
		return nil, err
	}

	if len(conv.PendingCalls()) > 0 {
		return nil, ErrPendingApprovals
	}

	conv.Messages = append(conv.Messages, model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Content:   in.Content,
		CreatedAt: time.Now(),
	})

	result, genErr := e.generate(ctx, conv)

	// Persist whatever state the run reached, even on generation failure,
	// shielded from the caller's cancellation.
	if err := e.persist(ctx, conv); err != nil {
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

	metrics.RunDuration.Observe(time.Since(start).Seconds())
	if len(result.Pending) > 0 {
		metrics.RunsTotal.WithLabelValues("suspended").Inc()
		metrics.PendingApprovals.Inc()
	} else {
		metrics.RunsTotal.WithLabelValues("completed").Inc()
	}

	return result, nil
}

// Fetch returns the full conversation plus current pending calls.
func (e *Engine) Fetch(ctx context.Context, conversationID string) (*model.Conversation, []model.ActionCall, error) {
	conv, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return conv, conv.PendingCalls(), nil
}

// loadOrCreate loads an existing conversation or builds a fresh one.
func (e *Engine) loadOrCreate(ctx context.Context, in RunInput) (*model.Conversation, error) {
	id := in.ConversationID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	conv, err := e.store.Load(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	return &model.Conversation{
		ID:        id,
		Modality:  in.Modality,
		OwnerID:   in.OwnerID,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// generate runs the model/action loop until the model produces a final text
// answer, the run suspends for approval, or MaxSteps is reached. It mutates
// conv in place and does not persist.
func (e *Engine) generate(ctx context.Context, conv *model.Conversation) (*RunResult, error) {
	for step := 0; step < e.cfg.MaxSteps; step++ {
		view := e.compactor.View(ctx, conv)

		resp, err := e.model.CompleteWithTools(ctx, &llm.ToolRequest{
			Model:    e.cfg.AgentModel,
			Messages: e.toChatMessages(view),
			Tools:    e.gate.Specs(),
		})
		if err != nil {
			metrics.RecordLLMCall(e.cfg.AgentModel, "error", 0, 0, 0)
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		metrics.RecordLLMCall(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
		conv.TokenEstimate += resp.TokensIn + resp.TokensOut

		assistant := e.appendAssistant(conv, resp)

		if len(assistant.Calls) == 0 {
			conv.UpdatedAt = time.Now()
			return &RunResult{Conversation: conv, Output: assistant.Content}, nil
		}

		suspended := false
		for i := range assistant.Calls {
			if e.gate.Invoke(ctx, &assistant.Calls[i]) {
				suspended = true
				continue
			}
			e.appendCallResult(conv, &assistant.Calls[i])
		}

		if suspended {
			conv.UpdatedAt = time.Now()
			return &RunResult{
				Conversation: conv,
				Pending:      conv.PendingCalls(),
			}, nil
		}
	}

	conv.UpdatedAt = time.Now()
	e.logger.Warn("run reached max steps",
		zap.String("conversation_id", conv.ID),
		zap.Int("max_steps", e.cfg.MaxSteps),
	)

	output := ""
	if last := conv.LastAssistant(); last != nil {
		output = last.Content
	}
	return &RunResult{Conversation: conv, Output: output}, nil
}

// appendAssistant converts a model response into an assistant message.
func (e *Engine) appendAssistant(conv *model.Conversation, resp *llm.ToolResponse) *model.Message {
	msg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleAssistant,
		Content:   resp.Content,
		Model:     &resp.Model,
		TokensIn:  &resp.TokensIn,
		TokensOut: &resp.TokensOut,
		LatencyMs: &resp.LatencyMs,
		CreatedAt: time.Now(),
	}

	for _, tc := range resp.ToolCalls {
		args := map[string]any{}
		if tc.Arguments != "" {
			// Unparsable arguments still produce a call; the gate fails it
			// with an observation the model can react to.
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
		}
		msg.Calls = append(msg.Calls, model.ActionCall{
			ID:               tc.ID,
			Name:             tc.Name,
			Arguments:        args,
			RequiresApproval: e.gate.RequiresApproval(tc.Name),
			State:            model.CallStateRequested,
		})
	}

	conv.Messages = append(conv.Messages, msg)
	return &conv.Messages[len(conv.Messages)-1]
}

// appendCallResult records an executed or denied call's observation as a
// tool message so the model sees it on the next step.
func (e *Engine) appendCallResult(conv *model.Conversation, call *model.ActionCall) {
	content := call.Result
	if call.State == model.CallStateDenied {
		content = "Denied by user: " + call.Reason
	}
	conv.Messages = append(conv.Messages, model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleTool,
		Content:   content,
		CallID:    call.ID,
		CreatedAt: time.Now(),
	})
}

// toChatMessages converts the model-facing view into LLM wire messages.
func (e *Engine) toChatMessages(view []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(view)+1)
	if e.cfg.SystemPrompt != "" {
		out = append(out, llm.ChatMessage{Role: string(model.RoleSystem), Content: e.cfg.SystemPrompt})
	}

	for _, msg := range view {
		cm := llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			CallID:  msg.CallID,
		}
		for _, call := range msg.Calls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, llm.ToolCall{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: string(args),
			})
		}
		out = append(out, cm)
	}
	return out
}

// persist writes the conversation shielded from the caller's cancellation,
// so a client closing its connection mid-run never leaves the thread
// half-written.
func (e *Engine) persist(ctx context.Context, conv *model.Conversation) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return e.store.Upsert(pctx, conv)
}
