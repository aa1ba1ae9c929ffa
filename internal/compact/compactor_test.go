package compact

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

type fakeProvider struct {
	reply     string
	lastReq   providers.ChatRequest
	callCount int
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.lastReq = req
	f.callCount++
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestRemoveCount(t *testing.T) {
	tests := []struct {
		n        int
		fraction float64
		want     int
	}{
		{6, 0.5, 3},
		{7, 0.5, 4},  // ceil
		{2, 0.5, 1},  // minimum one
		{3, 0.99, 2}, // never the whole session
		{40, 0.5, 20},
		{5, 0.1, 1},
	}
	for _, tt := range tests {
		if got := removeCount(tt.n, tt.fraction); got != tt.want {
			t.Errorf("removeCount(%d, %v) = %d, want %d", tt.n, tt.fraction, got, tt.want)
		}
	}
}

func setup(t *testing.T) (*store.Store, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "beacon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	st.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := st.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "orin")
	return st, sess.ID
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	st, sessID := setup(t)
	ctx := context.Background()
	st.Messages.Add(ctx, sessID, "user", "hi", "")

	p := &fakeProvider{reply: "unused"}
	c := New(st.Messages, nil, p, "fake", 4, 0.5, false, time.Minute)

	res, err := c.Compact(ctx, sessID, "u1", "test")
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
	if p.callCount != 0 {
		t.Error("provider called below threshold")
	}
}

func TestCompactReplacesOldestHalf(t *testing.T) {
	st, sessID := setup(t)
	ctx := context.Background()
	turns := []struct{ role, content string }{
		{"user", "a"}, {"assistant", "b"},
		{"user", "c"}, {"assistant", "d"},
		{"user", "e"}, {"assistant", "f"},
	}
	for _, m := range turns {
		if _, err := st.Messages.Add(ctx, sessID, m.role, m.content, ""); err != nil {
			t.Fatal(err)
		}
	}

	p := &fakeProvider{reply: "They discussed a through d."}
	c := New(st.Messages, nil, p, "fake", 4, 0.5, false, time.Minute)

	res, err := c.Compact(ctx, sessID, "u1", "test")
	if err != nil {
		t.Fatal(err)
	}
	if res.MessagesRemoved != 3 {
		t.Errorf("MessagesRemoved = %d, want 3", res.MessagesRemoved)
	}
	if res.SummaryTokens <= 0 {
		t.Error("no summary token count")
	}

	left, err := st.Messages.Recent(ctx, sessID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 4 {
		t.Fatalf("session has %d messages, want 4", len(left))
	}
	if left[0].Role != "system" || !strings.HasPrefix(left[0].Content, "[Conversation summary] ") {
		t.Errorf("summary message = %s %q", left[0].Role, left[0].Content)
	}
	if left[1].Content != "d" || left[2].Content != "e" || left[3].Content != "f" {
		t.Errorf("surviving tail = %q %q %q", left[1].Content, left[2].Content, left[3].Content)
	}

	// The model saw the victims rendered as "role: content" lines with
	// the requested sampling knobs.
	prompt := p.lastReq.Messages[0].Content
	for _, want := range []string{"user: a", "assistant: b", "user: c"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "user: e") {
		t.Error("prompt includes surviving message")
	}
	if p.lastReq.Options[providers.OptTemperature] != 0.3 {
		t.Errorf("temperature = %v", p.lastReq.Options[providers.OptTemperature])
	}
	if p.lastReq.Options[providers.OptMaxTokens] != 300 {
		t.Errorf("max_tokens = %v", p.lastReq.Options[providers.OptMaxTokens])
	}
}

func TestCompactRepeatedRunsConverge(t *testing.T) {
	st, sessID := setup(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		st.Messages.Add(ctx, sessID, "user", strings.Repeat("x", i+1), "")
	}

	p := &fakeProvider{reply: "summary"}
	c := New(st.Messages, nil, p, "fake", 4, 0.5, false, time.Minute)

	if _, err := c.Compact(ctx, sessID, "u1", "test"); err != nil {
		t.Fatal(err)
	}
	// 8 -> removed 4, summary added: 5 remain. Still above threshold.
	n, _ := st.Messages.Count(ctx, sessID)
	if n != 5 {
		t.Fatalf("after first pass: %d messages", n)
	}
	if _, err := c.Compact(ctx, sessID, "u1", "test"); err != nil {
		t.Fatal(err)
	}
	n, _ = st.Messages.Count(ctx, sessID)
	if n != 3 {
		t.Errorf("after second pass: %d messages", n)
	}
}

func TestShouldCompactFiresStrictlyAboveThreshold(t *testing.T) {
	st, sessID := setup(t)
	ctx := context.Background()
	p := &fakeProvider{reply: "summary"}
	c := New(st.Messages, nil, p, "fake", 4, 0.5, false, time.Minute)

	// Up to and including the threshold count, nothing fires.
	for i := 0; i < 4; i++ {
		st.Messages.Add(ctx, sessID, "user", "m", "")
		if yes, _ := c.ShouldCompact(ctx, sessID); yes {
			t.Errorf("ShouldCompact at %d messages = true", i+1)
		}
	}
	if res, err := c.Compact(ctx, sessID, "u1", "test"); err != nil || res != nil {
		t.Errorf("Compact at threshold: res=%+v err=%v, want nil noop", res, err)
	}
	if p.callCount != 0 {
		t.Error("provider called at threshold")
	}

	// One past the threshold triggers.
	st.Messages.Add(ctx, sessID, "user", "m", "")
	if yes, _ := c.ShouldCompact(ctx, sessID); !yes {
		t.Error("ShouldCompact above threshold = false")
	}
}
