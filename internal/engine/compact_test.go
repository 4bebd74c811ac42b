package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/pkg/logger"
)

// fakeSummarizer is a canned llm.Client for compaction tests.
type fakeSummarizer struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	prompts []string
}

func (f *fakeSummarizer) Name() string { return "fake" }

func (f *fakeSummarizer) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(req.Messages) > 0 {
		f.prompts = append(f.prompts, req.Messages[0].Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Model: "fake"}, nil
}

func newTestCompactor(t *testing.T, s *fakeSummarizer, cfg CompactorConfig) *Compactor {
	t.Helper()
	return NewCompactor(s, cfg, logger.NewNop())
}

func msg(role model.Role, content string) model.Message {
	return model.Message{ID: "m-" + string(role) + "-" + content[:min(8, len(content))], Role: role, Content: content}
}

func TestViewLeavesSmallHistoryUntouched(t *testing.T) {
	s := &fakeSummarizer{content: "unused"}
	c := newTestCompactor(t, s, CompactorConfig{ShrinkThreshold: 100})

	conv := &model.Conversation{ID: "c1", Messages: []model.Message{
		msg(model.RoleUser, "question"),
		msg(model.RoleAssistant, "answer"),
	}}

	view := c.View(context.Background(), conv)
	assert.Equal(t, conv.Messages, view)
	assert.Equal(t, 0, s.calls)
}

func TestShrinkCondensesOldResultsOnly(t *testing.T) {
	s := &fakeSummarizer{content: "the gist"}
	c := newTestCompactor(t, s, CompactorConfig{ShrinkThreshold: 100})

	bigOld := strings.Repeat("x", 500)
	bigCurrent := strings.Repeat("y", 500)
	conv := &model.Conversation{ID: "c1", Messages: []model.Message{
		msg(model.RoleUser, "first"),
		msg(model.RoleAssistant, "calling"),
		msg(model.RoleTool, bigOld),
		msg(model.RoleUser, "second"),
		msg(model.RoleAssistant, "calling again"),
		msg(model.RoleTool, bigCurrent),
	}}

	view := c.View(context.Background(), conv)

	require.Len(t, view, 6)
	assert.Equal(t, "[condensed action result]\nthe gist", view[2].Content)
	assert.Equal(t, bigCurrent, view[5].Content, "current turn stays verbatim")
	assert.Equal(t, bigOld, conv.Messages[2].Content, "persisted history is untouched")
	assert.Equal(t, 1, s.calls)
}

func TestShrinkKeepsOriginalOnSummarizerError(t *testing.T) {
	s := &fakeSummarizer{err: errors.New("summarizer down")}
	c := newTestCompactor(t, s, CompactorConfig{ShrinkThreshold: 100})

	big := strings.Repeat("x", 500)
	conv := &model.Conversation{ID: "c1", Messages: []model.Message{
		msg(model.RoleUser, "first"),
		msg(model.RoleTool, big),
		msg(model.RoleUser, "second"),
	}}

	view := c.View(context.Background(), conv)
	assert.Equal(t, big, view[1].Content)
}

func TestWholeHistoryCompaction(t *testing.T) {
	s := &fakeSummarizer{content: "what happened earlier"}
	c := newTestCompactor(t, s, CompactorConfig{
		ShrinkThreshold:   10000,
		ContextWindow:     1000,
		HighWaterFraction: 0.5,
	})

	conv := &model.Conversation{
		ID:            "c1",
		TokenEstimate: 600,
		Messages: []model.Message{
			msg(model.RoleUser, "one "+strings.Repeat("a", 400)),
			msg(model.RoleAssistant, "reply one "+strings.Repeat("b", 400)),
			msg(model.RoleUser, "two "+strings.Repeat("c", 400)),
			msg(model.RoleAssistant, "reply two"),
			msg(model.RoleUser, "three"),
			msg(model.RoleAssistant, "reply three"),
		},
	}

	before := 0
	for i := range conv.Messages {
		before += conv.Messages[i].Tokens()
	}

	view := c.View(context.Background(), conv)

	after := 0
	for i := range view {
		after += view[i].Tokens()
	}
	assert.Less(t, after, before, "compacted view must estimate strictly below the original")

	// Older half collapses into one summary; the newer half is verbatim.
	require.Len(t, view, 4)
	assert.True(t, view[0].Summary)
	assert.Equal(t, model.RoleSystem, view[0].Role)
	assert.Equal(t, "Summary of the earlier conversation:\nwhat happened earlier", view[0].Content)
	assert.Equal(t, conv.Messages[3:], view[1:])
	assert.NotNil(t, conv.CompactedAt)
	assert.Len(t, conv.Messages, 6, "persisted history is untouched")
}

func TestWholeHistoryBelowHighWaterDoesNothing(t *testing.T) {
	s := &fakeSummarizer{content: "unused"}
	c := newTestCompactor(t, s, CompactorConfig{
		ContextWindow:     1000,
		HighWaterFraction: 0.5,
	})

	conv := &model.Conversation{
		ID:            "c1",
		TokenEstimate: 499,
		Messages: []model.Message{
			msg(model.RoleUser, "one"),
			msg(model.RoleAssistant, "reply"),
			msg(model.RoleUser, "two"),
			msg(model.RoleAssistant, "reply"),
		},
	}

	view := c.View(context.Background(), conv)
	assert.Equal(t, conv.Messages, view)
	assert.Equal(t, 0, s.calls)
	assert.Nil(t, conv.CompactedAt)
}

func TestWholeHistorySkipsOnSummarizerError(t *testing.T) {
	s := &fakeSummarizer{err: errors.New("summarizer down")}
	c := newTestCompactor(t, s, CompactorConfig{
		ContextWindow:     1000,
		HighWaterFraction: 0.5,
	})

	conv := &model.Conversation{
		ID:            "c1",
		TokenEstimate: 600,
		Messages: []model.Message{
			msg(model.RoleUser, "one"),
			msg(model.RoleAssistant, "reply"),
			msg(model.RoleUser, "two"),
			msg(model.RoleAssistant, "reply"),
		},
	}

	view := c.View(context.Background(), conv)
	assert.Equal(t, conv.Messages, view, "failed compaction keeps the full view")
	assert.Nil(t, conv.CompactedAt)
}

func TestWholeHistoryNeverCrossesCurrentTurn(t *testing.T) {
	s := &fakeSummarizer{content: "earlier"}
	c := newTestCompactor(t, s, CompactorConfig{
		ContextWindow:     1000,
		HighWaterFraction: 0.5,
	})

	// The latest user message is early, so the midpoint clamps to it.
	conv := &model.Conversation{
		ID:            "c1",
		TokenEstimate: 600,
		Messages: []model.Message{
			msg(model.RoleUser, "ask"),
			msg(model.RoleUser, "refine"),
			msg(model.RoleAssistant, "step one"),
			msg(model.RoleTool, "result"),
			msg(model.RoleAssistant, "step two"),
			msg(model.RoleTool, "result"),
		},
	}

	view := c.View(context.Background(), conv)
	require.Len(t, view, 6)
	assert.True(t, view[0].Summary)
	assert.Equal(t, conv.Messages[1:], view[1:], "messages from the current turn on are verbatim")
}

func TestWholeHistoryEstimatesWhenNoRecordedUsage(t *testing.T) {
	s := &fakeSummarizer{content: "earlier"}
	c := newTestCompactor(t, s, CompactorConfig{
		ContextWindow:     100,
		HighWaterFraction: 0.5,
	})

	// No TokenEstimate; 400 chars ~ 100 tokens crosses the 50-token mark.
	conv := &model.Conversation{ID: "c1", Messages: []model.Message{
		msg(model.RoleUser, strings.Repeat("a", 200)),
		msg(model.RoleAssistant, strings.Repeat("b", 200)),
		msg(model.RoleUser, "latest"),
		msg(model.RoleAssistant, "reply"),
	}}

	view := c.View(context.Background(), conv)
	require.Len(t, view, 3)
	assert.True(t, view[0].Summary)
}
