package memory

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

func TestVectorCodecRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", []float32{}},
		{"simple", []float32{1, 0, -1}},
		{"fractional", []float32{0.25, -0.125, 3.5, 1e-7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeVector(EncodeVector(tt.vec))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tt.vec) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.vec))
			}
			for i := range got {
				if got[i] != tt.vec[i] {
					t.Errorf("vec[%d] = %v, want %v", i, got[i], tt.vec[i])
				}
			}
		})
	}
}

func TestDecodeVectorBadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("want error for misaligned blob")
	}
}

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0}
	if d := CosineDistance(a, []float32{1, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("identical vectors distance = %v", d)
	}
	if d := CosineDistance(a, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal distance = %v", d)
	}
	if d := CosineDistance(a, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("opposite distance = %v", d)
	}
	if d := CosineDistance(a, []float32{0, 0}); d != 2 {
		t.Errorf("zero vector distance = %v", d)
	}
}

func TestIndexSearch(t *testing.T) {
	ix := NewIndex()
	ix.Add("a", EncodeVector([]float32{1, 0}))
	ix.Add("b", EncodeVector([]float32{0.9, 0.1}))
	ix.Add("c", EncodeVector([]float32{0, 1}))

	hits := ix.Search([]float32{1, 0}, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].ID != "a" || hits[1].ID != "b" {
		t.Errorf("order = %s, %s", hits[0].ID, hits[1].ID)
	}

	ix.Remove("a")
	hits = ix.Search([]float32{1, 0}, 2)
	if hits[0].ID != "b" {
		t.Errorf("after remove, nearest = %s", hits[0].ID)
	}
}

// stubEmbedder maps known strings to fixed vectors so retrieval order is
// deterministic without a model.
type stubEmbedder struct {
	vecs map[string][]float32
	dim  int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return make([]float32, s.dim), nil
}

func (s *stubEmbedder) Dimension() int { return s.dim }

func openService(t *testing.T, embedder *stubEmbedder) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "beacon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	// A typed nil must not reach the providers.Embedder interface.
	var svc *Service
	if embedder == nil {
		svc = NewService(st.Memories, NewIndex(), nil, "test-device")
	} else {
		svc = NewService(st.Memories, NewIndex(), embedder, "test-device")
	}
	return svc, st
}

func TestRememberDedupsByContentHash(t *testing.T) {
	svc, st := openService(t, nil)
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")

	m1, err := svc.Remember(ctx, &store.Memory{UserID: "u1", Content: "User loves coffee"})
	if err != nil {
		t.Fatal(err)
	}
	if m1 == nil {
		t.Fatal("first Remember deduplicated")
	}

	m2, err := svc.Remember(ctx, &store.Memory{UserID: "u1", Content: "user LOVES  coffee"})
	if err != nil {
		t.Fatal(err)
	}
	if m2 != nil {
		t.Error("duplicate content not deduplicated")
	}
}

func TestSearchHybridOrdering(t *testing.T) {
	emb := &stubEmbedder{dim: 2, vecs: map[string][]float32{
		"User loves coffee": {1, 0},
		"Meeting at 3pm":    {0, 1},
		"Prefers dark mode": {0.5, 0.5},
		"coffee":            {1, 0},
	}}
	svc, st := openService(t, emb)
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")

	seed := []*store.Memory{
		{UserID: "u1", Content: "User loves coffee"},
		{UserID: "u1", Content: "Meeting at 3pm", Tags: []string{"calendar"}},
		{UserID: "u1", Content: "Prefers dark mode", Tags: []string{"ui"}, Pinned: true},
	}
	for _, m := range seed {
		if _, err := svc.Remember(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.SearchHybrid(ctx, "u1", "coffee", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Content != "User loves coffee" {
		t.Errorf("nearest = %q", got[0].Content)
	}
	// The pinned memory must not displace the top vector hit just for
	// being pinned.
	for i, m := range got {
		if m.Content == "Prefers dark mode" && i == 0 {
			t.Error("pinned memory floated above vector match")
		}
	}
}

func TestSearchHybridLexicalFallback(t *testing.T) {
	svc, st := openService(t, nil) // no embedder: lexical only
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")
	svc.Remember(ctx, &store.Memory{UserID: "u1", Content: "Meeting at 3pm", Tags: []string{"calendar"}})
	svc.Remember(ctx, &store.Memory{UserID: "u1", Content: "Vim user"})

	got, err := svc.SearchHybrid(ctx, "u1", "calendar", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "Meeting at 3pm" {
		t.Errorf("tag search = %v", len(got))
	}
}

func TestLifeExportImportRoundtrip(t *testing.T) {
	svc, st := openService(t, nil)
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")
	st.Users.FindOrCreate(ctx, "u2")

	svc.Remember(ctx, &store.Memory{UserID: "u1", Content: "Knows Rust", Pinned: true})
	svc.Remember(ctx, &store.Memory{UserID: "u1", Content: "Vim user", Category: store.CategoryPreference})

	profile, err := svc.ExportLife(ctx, "u1", "orin", 0)
	if err != nil {
		t.Fatal(err)
	}
	facts := profile.Assistants["orin"].LearnedFacts
	if len(facts) != 2 {
		t.Fatalf("exported %d facts", len(facts))
	}
	if facts[0].Fact != "Knows Rust" || facts[0].Confidence != 1.0 {
		t.Errorf("pinned fact = %+v", facts[0])
	}

	// Import into a different user.
	res, err := svc.ImportLife(ctx, "u2", "orin", profile)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Skipped != 0 {
		t.Errorf("first import = %+v", res)
	}

	// Re-import is a no-op.
	res, err = svc.ImportLife(ctx, "u2", "orin", profile)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 || res.Skipped != 2 {
		t.Errorf("second import = %+v", res)
	}

	// Pinned survives through confidence 1.0.
	mems, _ := st.Memories.GetContext(ctx, "u2", 10)
	if len(mems) != 2 || !mems[0].Pinned {
		t.Errorf("imported memories = %d, first pinned = %v", len(mems), mems[0].Pinned)
	}
}

func TestImportLifeUnknownPersona(t *testing.T) {
	svc, st := openService(t, nil)
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")

	profile := &LifeProfile{Version: LifeVersion, Assistants: map[string]LifeAssistant{}}
	if _, err := svc.ImportLife(ctx, "u1", "ghost", profile); err == nil {
		t.Error("want error for missing persona")
	}
}
