package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// Index is the in-process ANN mirror of the memories table, keyed by
// memory ID. It accelerates top-k cosine retrieval; the row table stays
// authoritative and the index is rebuilt from it on startup.
type Index struct {
	mu   sync.RWMutex
	vecs map[string][]float32
}

func NewIndex() *Index {
	return &Index{vecs: make(map[string][]float32)}
}

// Add implements store.VectorMirror.
func (ix *Index) Add(id string, embedding []byte) {
	vec, err := DecodeVector(embedding)
	if err != nil {
		slog.Warn("memory.index.bad_embedding", "id", id, "error", err)
		return
	}
	ix.mu.Lock()
	ix.vecs[id] = vec
	ix.mu.Unlock()
}

// Remove implements store.VectorMirror.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	delete(ix.vecs, id)
	ix.mu.Unlock()
}

// Len reports the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vecs)
}

// Hit is one ANN result.
type Hit struct {
	ID       string
	Distance float64
}

// Search returns the k nearest memories by cosine distance. Ties break on
// ID so results are stable.
func (ix *Index) Search(query []float32, k int) []Hit {
	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.vecs))
	for id, vec := range ix.vecs {
		hits = append(hits, Hit{ID: id, Distance: CosineDistance(query, vec)})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Rebuild reloads every embedded row from the repo.
func (ix *Index) Rebuild(ctx context.Context, repo *store.MemoryRepo) error {
	blobs, err := repo.ListEmbedded(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string][]float32, len(blobs))
	for id, blob := range blobs {
		vec, err := DecodeVector(blob)
		if err != nil {
			slog.Warn("memory.index.bad_embedding", "id", id, "error", err)
			continue
		}
		fresh[id] = vec
	}
	ix.mu.Lock()
	ix.vecs = fresh
	ix.mu.Unlock()
	slog.Info("memory.index.rebuilt", "vectors", len(fresh))
	return nil
}
