package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

// Service is the memory subsystem: dedup-aware writes, hybrid retrieval,
// and context selection over the memories table plus the ANN index.
type Service struct {
	repo     *store.MemoryRepo
	index    *Index
	embedder providers.Embedder // nil = lexical only
	deviceID string
}

func NewService(repo *store.MemoryRepo, index *Index, embedder providers.Embedder, deviceID string) *Service {
	repo.SetMirror(index)
	return &Service{repo: repo, index: index, embedder: embedder, deviceID: deviceID}
}

// Start rebuilds the ANN index from the row table.
func (s *Service) Start(ctx context.Context) error {
	return s.index.Rebuild(ctx, s.repo)
}

// Remember stores a new memory unless an identical one (by content hash)
// already exists. Returns the stored memory, or nil when deduplicated.
func (s *Service) Remember(ctx context.Context, m *store.Memory) (*store.Memory, error) {
	hash := store.HashContent(m.Content)
	exists, err := s.repo.ExistsByContentHash(ctx, m.UserID, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	m.ContentHash = hash
	if m.DeviceID == "" {
		m.DeviceID = s.deviceID
	}
	if m.Embedding == nil && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			// Embeddings are device-local and recomputable; store the row anyway.
			slog.Warn("memory.embed_failed", "error", err)
		} else {
			m.Embedding = EncodeVector(vec)
		}
	}
	if err := s.repo.Add(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SearchHybrid merges vector and lexical retrieval: vector hits first in
// ascending distance, then lexical hits not already present in reverse
// accessed_at order, until k results are gathered.
func (s *Service) SearchHybrid(ctx context.Context, userID, query string, k int) ([]*store.Memory, error) {
	if k <= 0 {
		return nil, nil
	}

	var out []*store.Memory
	seen := make(map[string]bool)

	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, query); err != nil {
			slog.Warn("memory.query_embed_failed", "error", err)
		} else {
			hits := s.index.Search(vec, k)
			ids := make([]string, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			vecMems, err := s.repo.ListByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			for _, m := range vecMems {
				if m.UserID != userID || m.DeletedAt != nil {
					continue
				}
				out = append(out, m)
				seen[m.ID] = true
			}
		}
	}

	if len(out) < k {
		lex, err := s.repo.SearchLexical(ctx, userID, query, k)
		if err != nil {
			return nil, err
		}
		for _, m := range lex {
			if len(out) >= k {
				break
			}
			if !seen[m.ID] {
				out = append(out, m)
				seen[m.ID] = true
			}
		}
	}
	return out, nil
}

// SearchLexical exposes plain substring search for the memory tools.
func (s *Service) SearchLexical(ctx context.Context, userID, query string, k int) ([]*store.Memory, error) {
	return s.repo.SearchLexical(ctx, userID, query, k)
}

// ContextMemories returns the prompt-injection set (pinned first, then by
// use) and bumps access bookkeeping on the returned rows.
func (s *Service) ContextMemories(ctx context.Context, userID string, maxItems int) ([]*store.Memory, error) {
	mems, err := s.repo.GetContext(ctx, userID, maxItems)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
	}
	if err := s.repo.Touch(ctx, ids); err != nil {
		slog.Warn("memory.touch_failed", "error", err)
	}
	return mems, nil
}

// Forget soft-deletes a memory.
func (s *Service) Forget(ctx context.Context, id string) error {
	return s.repo.SoftDelete(ctx, id)
}

// EnsureEmbedded computes embeddings for rows that arrived without one
// (cloud-synced memories are re-embedded locally on first use).
func (s *Service) EnsureEmbedded(ctx context.Context, userID string) error {
	if s.embedder == nil {
		return nil
	}
	mems, err := s.repo.ListActive(ctx, userID, 1000)
	if err != nil {
		return err
	}
	for _, m := range mems {
		if m.Embedding != nil {
			continue
		}
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", m.ID, err)
		}
		if err := s.repo.SetEmbedding(ctx, m.ID, EncodeVector(vec)); err != nil {
			return err
		}
	}
	return nil
}

// Repo exposes the underlying repository for admin surfaces.
func (s *Service) Repo() *store.MemoryRepo { return s.repo }
