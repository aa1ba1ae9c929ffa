package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

const factExtractionPrompt = `Extract durable facts about the user from the conversation below.
Return a JSON array; each element is {"content": "...", "category": "preference|fact|correction|general", "tags": ["..."]}.
Only include facts worth remembering long-term. Return [] if there are none.

Conversation:
%s`

// ExtractedFact is one fact the model pulled out of a conversation.
type ExtractedFact struct {
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// ExtractFacts asks the model for durable facts in the given text.
func ExtractFacts(ctx context.Context, provider providers.Provider, model, text string) ([]ExtractedFact, error) {
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(factExtractionPrompt, text)},
		},
		Options: map[string]any{
			providers.OptTemperature: 0.1,
			providers.OptMaxTokens:   600,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fact extraction call: %w", err)
	}

	raw := resp.Content
	// Models often wrap JSON in a fence.
	if i := strings.Index(raw, "["); i >= 0 {
		if j := strings.LastIndex(raw, "]"); j > i {
			raw = raw[i : j+1]
		}
	}

	var facts []ExtractedFact
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return nil, fmt.Errorf("parse extracted facts: %w", err)
	}

	valid := facts[:0]
	for _, f := range facts {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		switch f.Category {
		case store.CategoryPreference, store.CategoryFact, store.CategoryCorrection, store.CategoryGeneral:
		default:
			f.Category = store.CategoryGeneral
		}
		valid = append(valid, f)
	}
	return valid, nil
}

// FlushFacts extracts facts from text and stores the novel ones for the
// user. Returns the number stored (duplicates skipped).
func (s *Service) FlushFacts(ctx context.Context, provider providers.Provider, model, userID, sessionID, channel, text string) (int, error) {
	facts, err := ExtractFacts(ctx, provider, model, text)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, f := range facts {
		m, err := s.Remember(ctx, &store.Memory{
			UserID:        userID,
			Category:      f.Category,
			Content:       f.Content,
			Tags:          f.Tags,
			SourceSession: sessionID,
			SourceChannel: channel,
		})
		if err != nil {
			return stored, err
		}
		if m != nil {
			stored++
		}
	}
	return stored, nil
}
