package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/pkg/logger"
	"github.com/concierge-hq/concierge/pkg/metrics"
)

// CompactorConfig tunes the two compaction stages.
type CompactorConfig struct {
	// ShrinkThreshold is the character size above which an action result in
	// an older turn is condensed. Stage A.
	ShrinkThreshold int

	// ContextWindow is the model's context size in tokens.
	ContextWindow int

	// HighWaterFraction of ContextWindow at which whole-history compaction
	// fires. Stage B.
	HighWaterFraction float64

	// SummaryModel is the model used for summarization passes.
	SummaryModel string
}

// Compactor keeps the model-facing view of a conversation inside the token
// budget. It operates on a read copy; the persisted history is untouched.
// Both stages are fail-safe: a failed summarization keeps the original.
type Compactor struct {
	summarizer llm.Client
	cfg        CompactorConfig
	logger     *logger.Logger
}

// NewCompactor creates a compactor using the given summarizer client.
func NewCompactor(summarizer llm.Client, cfg CompactorConfig, log *logger.Logger) *Compactor {
	if cfg.ShrinkThreshold <= 0 {
		cfg.ShrinkThreshold = 10000
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 128000
	}
	if cfg.HighWaterFraction <= 0 || cfg.HighWaterFraction > 1 {
		cfg.HighWaterFraction = 0.85
	}
	return &Compactor{
		summarizer: summarizer,
		cfg:        cfg,
		logger:     log.Named("compactor"),
	}
}

// View returns the bounded, model-facing copy of the conversation's history.
func (c *Compactor) View(ctx context.Context, conv *model.Conversation) []model.Message {
	view := make([]model.Message, len(conv.Messages))
	copy(view, conv.Messages)

	view = c.shrinkOldResults(ctx, view)
	view = c.compactWholeHistory(ctx, conv, view)
	return view
}

// currentTurnStart returns the index of the latest user message: everything
// from there on is the turn currently being generated and is never touched.
func currentTurnStart(view []model.Message) int {
	for i := len(view) - 1; i >= 0; i-- {
		if view[i].Role == model.RoleUser {
			return i
		}
	}
	return len(view)
}

// shrinkOldResults is stage A: condense oversized action results in turns
// older than the current one. The current turn stays verbatim so the model
// sees exactly what it just did.
func (c *Compactor) shrinkOldResults(ctx context.Context, view []model.Message) []model.Message {
	cutoff := currentTurnStart(view)

	for i := 0; i < cutoff; i++ {
		msg := &view[i]
		if msg.Role != model.RoleTool || len(msg.Content) <= c.cfg.ShrinkThreshold {
			continue
		}

		condensed, err := c.summarize(ctx, shrinkPrompt(msg.Content))
		if err != nil {
			// Fail-safe: the original result wins over a failed shrink.
			metrics.RecordCompaction("shrink", false)
			c.logger.Warn("result shrink failed, keeping original",
				zap.String("message_id", msg.ID),
				zap.Int("size", len(msg.Content)),
				zap.Error(err),
			)
			continue
		}

		msg.Content = "[condensed action result]\n" + condensed
		metrics.RecordCompaction("shrink", true)
	}

	return view
}

// compactWholeHistory is stage B: once cumulative usage crosses the high
// water mark, collapse the older half of the history into one synthetic
// summary message and keep the newer half verbatim.
func (c *Compactor) compactWholeHistory(ctx context.Context, conv *model.Conversation, view []model.Message) []model.Message {
	highWater := int(float64(c.cfg.ContextWindow) * c.cfg.HighWaterFraction)

	usage := conv.TokenEstimate
	if usage == 0 {
		for i := range view {
			usage += view[i].Tokens()
		}
	}
	if usage < highWater {
		return view
	}

	mid := len(view) / 2
	if cutoff := currentTurnStart(view); mid > cutoff {
		mid = cutoff
	}
	if mid < 1 {
		return view
	}

	summary, err := c.summarize(ctx, historyPrompt(view[:mid]))
	if err != nil {
		// Fail-safe: skip compaction this turn; a future turn retries.
		metrics.RecordCompaction("history", false)
		c.logger.Warn("history compaction failed, skipping",
			zap.String("conversation_id", conv.ID),
			zap.Int("usage", usage),
			zap.Error(err),
		)
		return view
	}

	now := time.Now()
	conv.CompactedAt = &now
	metrics.RecordCompaction("history", true)
	c.logger.Info("history compacted",
		zap.String("conversation_id", conv.ID),
		zap.Int("messages_summarized", mid),
		zap.Int("usage", usage),
	)

	compacted := make([]model.Message, 0, len(view)-mid+1)
	compacted = append(compacted, model.Message{
		ID:        "summary-" + conv.ID,
		Role:      model.RoleSystem,
		Content:   "Summary of the earlier conversation:\n" + summary,
		Summary:   true,
		CreatedAt: now,
	})
	compacted = append(compacted, view[mid:]...)
	return compacted
}

// summarize runs one cheap summarization pass.
func (c *Compactor) summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.summarizer.Complete(ctx, &llm.CompletionRequest{
		Model:     c.cfg.SummaryModel,
		Messages:  []llm.ChatMessage{{Role: string(model.RoleUser), Content: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}
	return resp.Content, nil
}

func shrinkPrompt(content string) string {
	return "Condense the following action result. Preserve key facts, figures, " +
		"identifiers, and anything a follow-up step might need. Reply with the " +
		"condensed result only.\n\n" + content
}

func historyPrompt(older []model.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation so it can replace the ")
	b.WriteString("original messages. Preserve decisions, commitments, and named ")
	b.WriteString("entities and dates. Discard pleasantries and repetition. Reply ")
	b.WriteString("with the summary only.\n\n")

	for _, msg := range older {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		for _, call := range msg.Calls {
			fmt.Fprintf(&b, "\n[called %s -> %s]", call.Name, call.State)
		}
		b.WriteString("\n")
	}
	return b.String()
}
