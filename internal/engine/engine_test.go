package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concierge-hq/concierge/internal/action"
	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/store"
	"github.com/concierge-hq/concierge/pkg/logger"
)

// scriptedModel returns canned responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.ToolResponse
	requests  []*llm.ToolRequest
	err       error
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "summary", Model: "scripted"}, nil
}

func (m *scriptedModel) CompleteWithTools(ctx context.Context, req *llm.ToolRequest) (*llm.ToolResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.ToolResponse{Content: "done", Model: "scripted"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textResponse(content string) *llm.ToolResponse {
	return &llm.ToolResponse{Content: content, Model: "scripted", TokensIn: 10, TokensOut: 5}
}

func callResponse(calls ...llm.ToolCall) *llm.ToolResponse {
	return &llm.ToolResponse{ToolCalls: calls, Model: "scripted", TokensIn: 10, TokensOut: 5}
}

func newTestEngine(t *testing.T, m *scriptedModel, actions ...action.Action) (*Engine, *store.MemoryStore, *action.Gate) {
	t.Helper()

	log := logger.NewNop()
	gate := action.NewGate(log)
	for _, a := range actions {
		require.NoError(t, gate.Register(a))
	}

	st := store.NewMemoryStore()
	compactor := NewCompactor(m, CompactorConfig{}, log)
	eng := New(st, gate, m, compactor, Config{
		AgentModel:   "scripted",
		SystemPrompt: "You are a test assistant.",
		MaxSteps:     4,
	}, log)
	return eng, st, gate
}

func echoAction(name string, calls *int) action.Action {
	return action.Action{
		Name: name,
		Params: []action.Param{
			{Name: "value", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if calls != nil {
				*calls++
			}
			v, _ := args["value"].(string)
			return "echo: " + v, nil
		},
	}
}

func gatedAction(name string, calls *int) action.Action {
	a := echoAction(name, calls)
	a.RequiresApproval = true
	return a
}

func TestRunCreatesConversationAndCompletes(t *testing.T) {
	m := &scriptedModel{responses: []*llm.ToolResponse{textResponse("hello there")}}
	eng, st, _ := newTestEngine(t, m)

	result, err := eng.Run(context.Background(), RunInput{
		OwnerID:  "alice",
		Modality: model.ModalityWebChat,
		Content:  "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Output)
	assert.Empty(t, result.Pending)
	require.NotEmpty(t, result.Conversation.ID)

	stored, err := st.Load(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, model.RoleUser, stored.Messages[0].Role)
	assert.Equal(t, "hi", stored.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, stored.Messages[1].Role)
	assert.Equal(t, "alice", stored.OwnerID)
	assert.Positive(t, stored.TokenEstimate)
}

func TestRunContinuesExistingConversation(t *testing.T) {
	m := &scriptedModel{responses: []*llm.ToolResponse{
		textResponse("first"),
		textResponse("second"),
	}}
	eng, st, _ := newTestEngine(t, m)

	first, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "one"})
	require.NoError(t, err)

	second, err := eng.Run(context.Background(), RunInput{
		ConversationID: first.Conversation.ID,
		OwnerID:        "alice",
		Content:        "two",
	})
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	stored, err := st.Load(context.Background(), first.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
}

func TestRunExecutesAutoActionInline(t *testing.T) {
	handlerCalls := 0
	m := &scriptedModel{responses: []*llm.ToolResponse{
		callResponse(llm.ToolCall{ID: "call-1", Name: "lookup", Arguments: `{"value":"x"}`}),
		textResponse("the answer is x"),
	}}
	eng, st, _ := newTestEngine(t, m, echoAction("lookup", &handlerCalls))

	result, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "look up x"})
	require.NoError(t, err)

	assert.Equal(t, 1, handlerCalls)
	assert.Equal(t, "the answer is x", result.Output)
	assert.Empty(t, result.Pending)

	stored, err := st.Load(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	// user, assistant(call), tool result, assistant(final)
	require.Len(t, stored.Messages, 4)
	assert.Equal(t, model.CallStateCompleted, stored.Messages[1].Calls[0].State)
	assert.Equal(t, model.RoleTool, stored.Messages[2].Role)
	assert.Equal(t, "echo: x", stored.Messages[2].Content)
	assert.Equal(t, "call-1", stored.Messages[2].CallID)

	// The second model request must include the observation.
	require.Equal(t, 2, m.callCount())
	last := m.requests[1].Messages[len(m.requests[1].Messages)-1]
	assert.Equal(t, string(model.RoleTool), last.Role)
	assert.Equal(t, "echo: x", last.Content)
}

func TestRunSuspendsForApproval(t *testing.T) {
	handlerCalls := 0
	m := &scriptedModel{responses: []*llm.ToolResponse{
		callResponse(llm.ToolCall{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}),
	}}
	eng, st, _ := newTestEngine(t, m, gatedAction("send", &handlerCalls))

	result, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "send x"})
	require.NoError(t, err)

	assert.Equal(t, 0, handlerCalls, "gated handler must not run before approval")
	require.Len(t, result.Pending, 1)
	assert.Equal(t, model.CallStateRequested, result.Pending[0].State)
	assert.True(t, result.Pending[0].RequiresApproval)

	stored, err := st.Load(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, stored.PendingCalls(), 1)
	assert.Equal(t, 1, m.callCount(), "suspended run must not call the model again")
}

func TestRunMixedBatchExecutesAutoSuspendsGated(t *testing.T) {
	autoCalls, gatedCalls := 0, 0
	m := &scriptedModel{responses: []*llm.ToolResponse{
		callResponse(
			llm.ToolCall{ID: "call-a", Name: "lookup", Arguments: `{"value":"x"}`},
			llm.ToolCall{ID: "call-b", Name: "send", Arguments: `{"value":"y"}`},
		),
	}}
	eng, st, _ := newTestEngine(t, m, echoAction("lookup", &autoCalls), gatedAction("send", &gatedCalls))

	result, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "do both"})
	require.NoError(t, err)

	assert.Equal(t, 1, autoCalls)
	assert.Equal(t, 0, gatedCalls)
	require.Len(t, result.Pending, 1)
	assert.Equal(t, "call-b", result.Pending[0].ID)

	stored, err := st.Load(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	assistant := stored.LastAssistant()
	require.NotNil(t, assistant)
	assert.Equal(t, model.CallStateCompleted, assistant.Calls[0].State)
	assert.Equal(t, model.CallStateRequested, assistant.Calls[1].State)
}

func TestRunRejectsNewMessageWhilePending(t *testing.T) {
	m := &scriptedModel{responses: []*llm.ToolResponse{
		callResponse(llm.ToolCall{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}),
	}}
	eng, st, _ := newTestEngine(t, m, gatedAction("send", nil))

	first, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "send x"})
	require.NoError(t, err)
	require.NotEmpty(t, first.Pending)

	_, err = eng.Run(context.Background(), RunInput{
		ConversationID: first.Conversation.ID,
		OwnerID:        "alice",
		Content:        "another message",
	})
	require.ErrorIs(t, err, ErrPendingApprovals)

	stored, err := st.Load(context.Background(), first.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2, "rejected message must not be appended")
}

func TestRunPersistsUserMessageOnModelError(t *testing.T) {
	m := &scriptedModel{err: errors.New("model unavailable")}
	eng, st, _ := newTestEngine(t, m)

	_, err := eng.Run(context.Background(), RunInput{
		ConversationID: "0190d4a2-0000-7000-8000-000000000001",
		OwnerID:        "alice",
		Content:        "hi",
	})
	require.Error(t, err)

	stored, err := st.Load(context.Background(), "0190d4a2-0000-7000-8000-000000000001")
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, model.RoleUser, stored.Messages[0].Role)
}

func TestRunStopsAtMaxSteps(t *testing.T) {
	loop := callResponse(llm.ToolCall{ID: "call-x", Name: "lookup", Arguments: `{"value":"again"}`})
	m := &scriptedModel{responses: []*llm.ToolResponse{loop, loop, loop, loop, loop, loop}}
	eng, _, _ := newTestEngine(t, m, echoAction("lookup", nil))

	result, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "loop"})
	require.NoError(t, err)
	assert.Equal(t, 4, m.callCount(), "loop must stop at MaxSteps")
	assert.Empty(t, result.Pending)
}

func TestRunUnknownActionBecomesObservation(t *testing.T) {
	m := &scriptedModel{responses: []*llm.ToolResponse{
		callResponse(llm.ToolCall{ID: "call-1", Name: "no_such_action", Arguments: `{}`}),
		textResponse("I could not do that"),
	}}
	eng, st, _ := newTestEngine(t, m)

	result, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "try it"})
	require.NoError(t, err, "unknown action is an observation, not an engine error")
	assert.Equal(t, "I could not do that", result.Output)

	stored, err := st.Load(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStateFailed, stored.Messages[1].Calls[0].State)
	assert.Contains(t, stored.Messages[2].Content, "unknown action")
}

func TestFetchReturnsPendingCalls(t *testing.T) {
	m := &scriptedModel{responses: []*llm.ToolResponse{
		callResponse(llm.ToolCall{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}),
	}}
	eng, _, _ := newTestEngine(t, m, gatedAction("send", nil))

	result, err := eng.Run(context.Background(), RunInput{OwnerID: "alice", Content: "send x"})
	require.NoError(t, err)

	conv, pending, err := eng.Fetch(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Conversation.ID, conv.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, "call-1", pending[0].ID)
}

func TestFetchUnknownConversation(t *testing.T) {
	m := &scriptedModel{}
	eng, _, _ := newTestEngine(t, m)

	_, _, err := eng.Fetch(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
