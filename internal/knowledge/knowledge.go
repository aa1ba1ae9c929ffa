package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/providers"
)

// Chunk is one retrievable fragment of a knowledge pack.
type Chunk struct {
	Text      string    `json:"text"`
	Priority  int       `json:"priority,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Pack      string    `json:"-"`
}

// Pack is a named collection of chunks, loaded from a file or URL.
type Pack struct {
	Name   string  `json:"name"`
	Chunks []Chunk `json:"chunks"`
}

// Library holds all resolved packs and answers relevance queries.
type Library struct {
	chunks   []Chunk
	embedder providers.Embedder // nil = lexical scoring only
}

// NewLibrary resolves the given pack references. Individual pack failures
// log and are skipped; knowledge is always best-effort.
func NewLibrary(ctx context.Context, refs []string, embedder providers.Embedder) *Library {
	lib := &Library{embedder: embedder}
	for _, ref := range refs {
		pack, err := loadPack(ctx, ref)
		if err != nil {
			slog.Warn("knowledge.pack.load_failed", "ref", ref, "error", err)
			continue
		}
		for _, c := range pack.Chunks {
			c.Pack = pack.Name
			lib.chunks = append(lib.chunks, c)
		}
		slog.Info("knowledge.pack.loaded", "pack", pack.Name, "chunks", len(pack.Chunks))
	}
	return lib
}

// Len reports the total number of chunks.
func (l *Library) Len() int { return len(l.chunks) }

// Select returns chunks relevant to the query, greedily filling the token
// budget in score order. Scoring is vector distance when embeddings exist
// on both sides, keyword overlap otherwise, with priority as tiebreak.
func (l *Library) Select(ctx context.Context, query string, tokenBudget int, estimate func(string) int) []Chunk {
	if len(l.chunks) == 0 || tokenBudget <= 0 {
		return nil
	}

	var queryVec []float32
	if l.embedder != nil {
		if vec, err := l.embedder.Embed(ctx, query); err == nil {
			queryVec = vec
		}
	}

	type scored struct {
		chunk Chunk
		score float64
	}
	candidates := make([]scored, 0, len(l.chunks))
	for _, c := range l.chunks {
		s := l.score(query, queryVec, c)
		if s <= 0 {
			continue
		}
		candidates = append(candidates, scored{chunk: c, score: s})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunk.Priority > candidates[j].chunk.Priority
	})

	var out []Chunk
	used := 0
	for _, c := range candidates {
		cost := estimate(c.chunk.Text)
		if used+cost > tokenBudget {
			continue
		}
		out = append(out, c.chunk)
		used += cost
	}
	return out
}

func (l *Library) score(query string, queryVec []float32, c Chunk) float64 {
	if queryVec != nil && c.Embedding != nil {
		d := memory.CosineDistance(queryVec, c.Embedding)
		return 2 - d // higher is better
	}

	// Keyword overlap fallback.
	words := strings.Fields(strings.ToLower(query))
	text := strings.ToLower(c.Text)
	matched := 0
	for _, w := range words {
		if len(w) >= 3 && strings.Contains(text, w) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched) / float64(len(words))
}

func loadPack(ctx context.Context, ref string) (*Pack, error) {
	var data []byte
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, "GET", ref, nil)
		if err != nil {
			return nil, err
		}
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http %d", resp.StatusCode)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		data, err = os.ReadFile(ref)
		if err != nil {
			return nil, err
		}
	}

	pack := &Pack{}
	if err := json.Unmarshal(data, pack); err != nil {
		return nil, fmt.Errorf("parse pack: %w", err)
	}
	if pack.Name == "" {
		pack.Name = ref
	}
	return pack, nil
}
