package contextbuild

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{"empty", "", 0, 0},
		{"one word", "hello", 1, 2},
		{"sentence", "the quick brown fox jumps over the lazy dog.", 9, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.text)
			if got < tt.min || got > tt.max {
				t.Errorf("EstimateTokens(%q) = %d, want %d..%d", tt.text, got, tt.min, tt.max)
			}
		})
	}
}

func setup(t *testing.T, maxTokens int) (*Builder, *store.Store, *store.Session) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "beacon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := st.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "orin")

	svc := memory.NewService(st.Memories, memory.NewIndex(), nil, "dev")
	b := NewBuilder(st.Messages, svc, nil, "You are Orin.", maxTokens, 20, 10)
	return b, st, sess
}

func TestBuildIncludesHistoryAndMemory(t *testing.T) {
	b, st, sess := setup(t, 8000)
	ctx := context.Background()

	st.Messages.Add(ctx, sess.ID, "user", "hello", "")
	st.Messages.Add(ctx, sess.ID, "assistant", "hi there", "")
	st.Memories.Add(ctx, &store.Memory{UserID: "u1", Content: "Prefers dark mode", Pinned: true})

	user, _ := st.Users.Get(ctx, "u1")
	bc, err := b.Build(ctx, sess, user, "what's up?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if bc.System != "You are Orin." {
		t.Errorf("system = %q", bc.System)
	}
	if len(bc.History) != 2 {
		t.Errorf("history = %d messages", len(bc.History))
	}
	if !strings.Contains(bc.Memory, "Prefers dark mode") {
		t.Errorf("memory section = %q", bc.Memory)
	}
	if bc.EstimatedTokens <= 0 {
		t.Error("no token estimate")
	}
}

func TestBuildDropsOlderHistoryFirst(t *testing.T) {
	b, st, sess := setup(t, 60)
	ctx := context.Background()

	long := strings.Repeat("word ", 30)
	st.Messages.Add(ctx, sess.ID, "user", long, "")
	st.Messages.Add(ctx, sess.ID, "assistant", "short reply", "")

	user, _ := st.Users.Get(ctx, "u1")
	bc, err := b.Build(ctx, sess, user, "next question", nil)
	if err != nil {
		t.Fatal(err)
	}
	if bc.EstimatedTokens > 60 {
		t.Errorf("budget not enforced: %d tokens", bc.EstimatedTokens)
	}
	// The older long message goes first; the newer short one survives
	// if anything does.
	for _, m := range bc.History {
		if m.Content == long {
			t.Error("older message kept while over budget")
		}
	}
	if bc.System != "You are Orin." {
		t.Error("system prompt must never be dropped")
	}
}

func TestBuildPinnedMemorySurvivesTrim(t *testing.T) {
	b, st, sess := setup(t, 80)
	ctx := context.Background()

	st.Memories.Add(ctx, &store.Memory{UserID: "u1", Content: "pinned essential", Pinned: true})
	for i := 0; i < 8; i++ {
		st.Memories.Add(ctx, &store.Memory{
			UserID:  "u1",
			Content: strings.Repeat("filler ", 10) + string(rune('a'+i)),
		})
	}

	user, _ := st.Users.Get(ctx, "u1")
	bc, err := b.Build(ctx, sess, user, "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if bc.Memory != "" && !strings.Contains(bc.Memory, "pinned essential") {
		t.Errorf("pinned memory dropped: %q", bc.Memory)
	}
}

func TestBuildThreadScoping(t *testing.T) {
	b, st, sess := setup(t, 8000)
	ctx := context.Background()

	st.Messages.Add(ctx, sess.ID, "user", "root message", "")
	st.Messages.Add(ctx, sess.ID, "user", "thread message", "t9")

	user, _ := st.Users.Get(ctx, "u1")
	thread := "t9"
	bc, _ := b.Build(ctx, sess, user, "q", &thread)
	if len(bc.History) != 1 || bc.History[0].Content != "thread message" {
		t.Errorf("thread history = %+v", bc.History)
	}

	bc, _ = b.Build(ctx, sess, user, "q", nil)
	if len(bc.History) != 1 || bc.History[0].Content != "root message" {
		t.Errorf("root history = %+v", bc.History)
	}
}

func TestSystemContentJoins(t *testing.T) {
	bc := &BuiltContext{System: "sys", Memory: "mem"}
	got := bc.SystemContent()
	if got != "sys\n\nmem" {
		t.Errorf("SystemContent() = %q", got)
	}
}
