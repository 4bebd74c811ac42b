package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concierge-hq/concierge/internal/action"
	"github.com/concierge-hq/concierge/internal/engine"
	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/internal/store"
	"github.com/concierge-hq/concierge/pkg/logger"
)

const testConvID = "0190d4a2-0000-7000-8000-000000000042"

// cannedModel replays tool responses in order.
type cannedModel struct {
	responses []*llm.ToolResponse
}

func (m *cannedModel) Name() string { return "canned" }

func (m *cannedModel) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "summary"}, nil
}

func (m *cannedModel) CompleteWithTools(ctx context.Context, req *llm.ToolRequest) (*llm.ToolResponse, error) {
	if len(m.responses) == 0 {
		return &llm.ToolResponse{Content: "done"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

type testAPI struct {
	router *chi.Mux
	store  *store.MemoryStore
}

func newTestAPI(t *testing.T, m *cannedModel) *testAPI {
	t.Helper()

	log := logger.NewNop()
	gate := action.NewGate(log)
	require.NoError(t, gate.Register(action.Action{
		Name:             "send",
		RequiresApproval: true,
		Params: []action.Param{
			{Name: "value", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "sent", nil
		},
	}))

	st := store.NewMemoryStore()
	compactor := engine.NewCompactor(m, engine.CompactorConfig{}, log)
	eng := engine.New(st, gate, m, compactor, engine.Config{AgentModel: "canned", MaxSteps: 4}, log)

	conversationHandler := NewConversationHandler(eng, st, log)
	messageHandler := NewMessageHandler(eng, log)
	approvalHandler := NewApprovalHandler(eng, log)

	r := chi.NewRouter()
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", conversationHandler.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", conversationHandler.Get)
			r.Delete("/", conversationHandler.Delete)
			r.Post("/messages", messageHandler.Send)
			r.Post("/approvals", approvalHandler.Resolve)
		})
	})

	return &testAPI{router: r, store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageCompletes(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{{Content: "hello back"}}}
	api := newTestAPI(t, m)

	rec := api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "hello"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testConvID, resp.ConversationID)
	assert.Equal(t, "hello back", resp.Output)
	assert.Empty(t, resp.Pending)
}

func TestSendMessageSuspendsWith202(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{{
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}},
	}}}
	api := newTestAPI(t, m)

	rec := api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "send x"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp model.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Pending, 1)
	assert.Equal(t, "call-1", resp.Pending[0].ID)
}

func TestSendMessageValidation(t *testing.T) {
	api := newTestAPI(t, &cannedModel{})

	rec := api.do(t, http.MethodPost, "/conversations/not-a-uuid/messages",
		model.SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "hi", Modality: "carrier_pigeon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageWhilePendingConflicts(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{{
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}},
	}}}
	api := newTestAPI(t, m)

	rec := api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "send x"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "another"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveApprovalsRoundTrip(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}}},
		{Content: "all sent"},
	}}
	api := newTestAPI(t, m)

	rec := api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "send x"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/approvals",
		model.ResolveRequest{Decisions: []model.Decision{{CallID: "call-1", Approved: true}}})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "all sent", resp.Output)
	assert.Equal(t, "sent", resp.Results["call-1"])
}

func TestResolveApprovalsErrors(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "send", Arguments: `{"value":"x"}`}}},
	}}
	api := newTestAPI(t, m)

	// Unknown conversation.
	rec := api.do(t, http.MethodPost, "/conversations/"+testConvID+"/approvals",
		model.ResolveRequest{Decisions: []model.Decision{{CallID: "call-1", Approved: true}}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed batch shape.
	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/approvals",
		model.ResolveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Suspend, then send a decision for the wrong call id.
	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "send x"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(t, http.MethodPost, "/conversations/"+testConvID+"/approvals",
		model.ResolveRequest{Decisions: []model.Decision{{CallID: "call-other", Approved: true}}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetConversation(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{{Content: "hi"}}}
	api := newTestAPI(t, m)

	rec := api.do(t, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/conversations/"+testConvID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testConvID, resp.Conversation.ID)
	assert.Len(t, resp.Conversation.Messages, 2)
	assert.NotNil(t, resp.Pending)
	assert.Empty(t, resp.Pending)

	rec = api.do(t, http.MethodGet, "/conversations/0190d4a2-0000-7000-8000-00000000ffff", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndDeleteConversations(t *testing.T) {
	m := &cannedModel{responses: []*llm.ToolResponse{{Content: "a"}, {Content: "b"}}}
	api := newTestAPI(t, m)

	first := "0190d4a2-0000-7000-8000-000000000001"
	second := "0190d4a2-0000-7000-8000-000000000002"
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost,
		"/conversations/"+first+"/messages", model.SendMessageRequest{Content: "one"}).Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost,
		"/conversations/"+second+"/messages", model.SendMessageRequest{Content: "two"}).Code)

	rec := api.do(t, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)

	rec = api.do(t, http.MethodDelete, "/conversations/"+first, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, "/conversations/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
