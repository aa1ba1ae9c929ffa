package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// LifeVersion is the life profile document version this build writes.
const LifeVersion = "1.0.0"

// LifeProfile is the portable per-user document of learned facts.
type LifeProfile struct {
	Version    string                   `json:"version"`
	Assistants map[string]LifeAssistant `json:"assistants"`
}

// LifeAssistant holds one persona's fact list.
type LifeAssistant struct {
	LearnedFacts []LearnedFact `json:"learnedFacts"`
}

// LearnedFact is one exported memory.
type LearnedFact struct {
	Fact       string  `json:"fact"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ExportLife builds a life profile for one persona from the user's
// memories. Confidence derives from pinned state and access count:
// pinned = 1.0, otherwise 0.5 plus 0.05 per access, capped at 0.95.
func (s *Service) ExportLife(ctx context.Context, userID, personaID string, limit int) (*LifeProfile, error) {
	if limit <= 0 {
		limit = 500
	}
	mems, err := s.repo.ListActive(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	facts := make([]LearnedFact, 0, len(mems))
	for _, m := range mems {
		facts = append(facts, LearnedFact{
			Fact:       m.Content,
			Confidence: factConfidence(m),
			Source:     m.SourceChannel,
		})
	}

	return &LifeProfile{
		Version: LifeVersion,
		Assistants: map[string]LifeAssistant{
			personaID: {LearnedFacts: facts},
		},
	}, nil
}

// ImportLife merges a life profile's facts for one persona into the user's
// memories, deduplicating by content hash. Re-importing the same document
// imports nothing.
func (s *Service) ImportLife(ctx context.Context, userID, personaID string, profile *LifeProfile) (*ImportResult, error) {
	assistant, ok := profile.Assistants[personaID]
	if !ok {
		return nil, fmt.Errorf("persona %q not present in profile", personaID)
	}

	res := &ImportResult{}
	for _, f := range assistant.LearnedFacts {
		if strings.TrimSpace(f.Fact) == "" {
			res.Skipped++
			continue
		}
		m := &store.Memory{
			UserID:   userID,
			Category: store.CategoryFact,
			Content:  f.Fact,
			Pinned:   f.Confidence >= 1,
		}
		stored, err := s.Remember(ctx, m)
		if err != nil {
			return res, err
		}
		if stored == nil {
			res.Skipped++
		} else {
			res.Imported++
		}
	}
	return res, nil
}

func factConfidence(m *store.Memory) float64 {
	if m.Pinned {
		return 1.0
	}
	c := 0.5 + 0.05*float64(m.AccessCount)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// ResolveProfile fetches a life profile by path or URL. An empty ref
// returns nil without error.
func ResolveProfile(ctx context.Context, ref string) (*LifeProfile, error) {
	if ref == "" {
		return nil, nil
	}

	var data []byte
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, "GET", ref, nil)
		if err != nil {
			return nil, fmt.Errorf("profile request: %w", err)
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch profile: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch profile: http %d", resp.StatusCode)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
	} else {
		var err error
		data, err = os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
	}

	profile := &LifeProfile{}
	if err := json.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return profile, nil
}
