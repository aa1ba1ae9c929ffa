// Package compact shrinks long sessions by replacing the oldest messages
// with an LLM-generated summary, optionally flushing durable facts into
// memory before they leave the transcript.
package compact

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/contextbuild"
	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

const (
	summaryPrefix      = "[Conversation summary] "
	summaryTemperature = 0.3
	summaryMaxTokens   = 300
	defaultTimeout     = 60 * time.Second
)

const summaryPrompt = `Summarize the conversation below in under 200 words. Preserve decisions, open questions, and facts about the user. Write plain prose, no headings.

%s`

// Result reports what one compaction pass did.
type Result struct {
	MessagesRemoved int `json:"messages_removed"`
	SummaryTokens   int `json:"summary_tokens"`
	FactsExtracted  int `json:"facts_extracted"`
}

// Compactor watches session length and folds old messages into a summary
// once the threshold is crossed.
type Compactor struct {
	messages *store.MessageRepo
	memories *memory.Service // nil disables fact flushing
	provider providers.Provider
	model    string

	threshold   int
	fraction    float64
	flushMemory bool
	timeout     time.Duration
}

func New(messages *store.MessageRepo, memories *memory.Service, provider providers.Provider, model string,
	threshold int, fraction float64, flushMemory bool, timeout time.Duration) *Compactor {
	if threshold < 2 {
		threshold = 40
	}
	if fraction <= 0 || fraction >= 1 {
		fraction = 0.5
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Compactor{
		messages:    messages,
		memories:    memories,
		provider:    provider,
		model:       model,
		threshold:   threshold,
		fraction:    fraction,
		flushMemory: flushMemory,
		timeout:     timeout,
	}
}

// Threshold reports the message count at which compaction triggers.
func (c *Compactor) Threshold() int { return c.threshold }

// ShouldCompact reports whether the session has crossed the threshold.
func (c *Compactor) ShouldCompact(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.messages.Count(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return n > c.threshold, nil
}

// Compact summarizes the oldest fraction of the session and atomically
// replaces those messages with a single system summary. Returns nil result
// when the session is below threshold.
func (c *Compactor) Compact(ctx context.Context, sessionID, userID, channel string) (*Result, error) {
	n, err := c.messages.Count(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if n <= c.threshold {
		return nil, nil
	}

	remove := removeCount(n, c.fraction)
	// Need the first surviving message as the cutoff.
	oldest, err := c.messages.Oldest(ctx, sessionID, remove+1)
	if err != nil {
		return nil, fmt.Errorf("load oldest: %w", err)
	}
	if len(oldest) <= remove {
		return nil, nil
	}
	victims, cutoff := oldest[:remove], oldest[remove]

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	summary, tokens, err := c.summarize(sctx, victims)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	res := &Result{SummaryTokens: tokens}
	if c.flushMemory && c.memories != nil {
		facts, err := c.memories.FlushFacts(sctx, c.provider, c.model, userID, sessionID, channel, transcript(victims))
		if err != nil {
			slog.Warn("compact.flush_facts_failed", "session", sessionID, "error", err)
		} else {
			res.FactsExtracted = facts
		}
	}

	removed, err := c.messages.CompactTx(ctx, sessionID, cutoff.ID, summaryPrefix+summary)
	if err != nil {
		return nil, fmt.Errorf("apply compaction: %w", err)
	}
	res.MessagesRemoved = removed

	slog.Info("compact.done",
		"session", sessionID,
		"removed", res.MessagesRemoved,
		"summary_tokens", res.SummaryTokens,
		"facts", res.FactsExtracted)
	return res, nil
}

func (c *Compactor) summarize(ctx context.Context, msgs []*store.Message) (string, int, error) {
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(summaryPrompt, transcript(msgs))},
		},
		Options: map[string]any{
			providers.OptTemperature: summaryTemperature,
			providers.OptMaxTokens:   summaryMaxTokens,
		},
	})
	if err != nil {
		return "", 0, err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", 0, fmt.Errorf("model returned empty summary")
	}
	tokens := contextbuild.EstimateTokens(summary)
	if resp.Usage != nil && resp.Usage.CompletionTokens > 0 {
		tokens = resp.Usage.CompletionTokens
	}
	return summary, tokens, nil
}

// removeCount is ceil(fraction*n), at least one message and never the
// whole session.
func removeCount(n int, fraction float64) int {
	k := int(math.Ceil(fraction * float64(n)))
	if k < 1 {
		k = 1
	}
	if k >= n {
		k = n - 1
	}
	return k
}

func transcript(msgs []*store.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
