package channels

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/bus"
)

func TestEditRateLimiterWindow(t *testing.T) {
	now := time.Now()
	r := NewEditRateLimiter(2 * time.Second)
	r.now = func() time.Time { return now }

	if !r.Check("chat1") {
		t.Fatal("first check must pass")
	}
	if r.Check("chat1") {
		t.Error("second check within window must fail")
	}
	// Another chat is independent.
	if !r.Check("chat2") {
		t.Error("other chat blocked")
	}

	now = now.Add(2 * time.Second)
	if !r.Check("chat1") {
		t.Error("check after window must pass")
	}
}

func TestEditRateLimiterBackoff(t *testing.T) {
	now := time.Now()
	r := NewEditRateLimiter(time.Second)
	r.now = func() time.Time { return now }

	if !r.Check("c") {
		t.Fatal("first check must pass")
	}
	now = now.Add(time.Second)
	// Upstream throttled: the window shifts forward.
	r.Backoff("c")
	if r.Check("c") {
		t.Error("check after backoff within min_interval must fail")
	}
	now = now.Add(time.Second)
	if !r.Check("c") {
		t.Error("check after backoff window must pass")
	}
}

func TestWebhookRateLimiterBounds(t *testing.T) {
	r := NewWebhookRateLimiter()
	allowed := 0
	for i := 0; i < 50; i++ {
		if r.Allow("1.2.3.4") {
			allowed++
		}
	}
	if allowed == 0 || allowed == 50 {
		t.Errorf("allowed %d of 50, want a bounded burst", allowed)
	}
	if !r.Allow("5.6.7.8") {
		t.Error("fresh key must start allowed")
	}
}

type stubAdapter struct {
	name  string
	queue *bus.Queue
	sent  []*bus.OutgoingMessage
}

func newStubAdapter(name string) *stubAdapter {
	return &stubAdapter{name: name, queue: bus.NewQueue(4)}
}

func (a *stubAdapter) Name() string                { return a.name }
func (a *stubAdapter) Capabilities() CapabilitySet { return Caps(CapReactions) }
func (a *stubAdapter) Connect(context.Context) error {
	return nil
}
func (a *stubAdapter) Disconnect(context.Context) error { return nil }
func (a *stubAdapter) Send(_ context.Context, msg *bus.OutgoingMessage) error {
	a.sent = append(a.sent, msg)
	return nil
}
func (a *stubAdapter) SendTyping(context.Context, string) error              { return nil }
func (a *stubAdapter) AddReaction(context.Context, string, string, string) error { return nil }
func (a *stubAdapter) RemoveReaction(context.Context, string, string, string) error {
	return nil
}
func (a *stubAdapter) Queue() *bus.Queue { return a.queue }

func TestManagerRegisterAndSend(t *testing.T) {
	m := NewManager()
	a := newStubAdapter("telegram")
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newStubAdapter("telegram")); err == nil {
		t.Error("duplicate name must error")
	}

	ctx := context.Background()
	if err := m.ConnectAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Send(ctx, "telegram", "chat9", "hi"); err != nil {
		t.Fatal(err)
	}
	if len(a.sent) != 1 || a.sent[0].ChannelID != "chat9" {
		t.Errorf("sent = %+v", a.sent)
	}
	if err := m.Send(ctx, "missing", "x", "y"); err == nil {
		t.Error("unknown channel must error")
	}
}

func TestCapabilitySet(t *testing.T) {
	set := Caps(CapStreaming, CapMessageEdit)
	if !set.Has(CapStreaming) || set.Has(CapStickers) {
		t.Errorf("set = %v", set)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("no-op truncate = %q", got)
	}
	got := Truncate("abcdefghij", 4)
	if got != "abcd…(truncated)" {
		t.Errorf("truncate = %q", got)
	}
}
