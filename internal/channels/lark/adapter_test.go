package lark

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/beacon/internal/config"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(config.LarkConfig{
		AppID:             "cli_test",
		AppSecret:         "secret",
		VerificationToken: "vtok",
	})
	if err != nil {
		t.Fatal(err)
	}
	a.botID = "ou_bot"
	return a
}

func TestWebhookVerificationChallenge(t *testing.T) {
	a := newTestAdapter(t)
	body := []byte(`{"type":"url_verification","challenge":"c123","token":"vtok"}`)
	resp, err := a.HandleWebhook(context.Background(), body)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(resp, &got); err != nil {
		t.Fatal(err)
	}
	if got["challenge"] != "c123" {
		t.Errorf("challenge = %q", got["challenge"])
	}
}

func TestWebhookVerificationTokenMismatch(t *testing.T) {
	a := newTestAdapter(t)
	body := []byte(`{"type":"url_verification","challenge":"c123","token":"wrong"}`)
	if _, err := a.HandleWebhook(context.Background(), body); err == nil {
		t.Error("wrong token must be rejected")
	}
}

func messageEvent(eventID, chatType, content string, mentionBot bool) []byte {
	mentions := "[]"
	if mentionBot {
		mentions = `[{"key":"@_user_1","id":{"open_id":"ou_bot"},"name":"Orin"}]`
	}
	return []byte(`{
		"header": {"event_id": "` + eventID + `", "event_type": "im.message.receive_v1", "token": "vtok"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_alice"}},
			"message": {
				"message_id": "om_1", "chat_id": "oc_9", "chat_type": "` + chatType + `",
				"message_type": "text",
				"content": "{\"text\": \"` + content + `\"}",
				"mentions": ` + mentions + `
			}
		}
	}`)
}

func TestWebhookEnqueuesDM(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.HandleWebhook(context.Background(), messageEvent("ev1", "p2p", "hello", false)); err != nil {
		t.Fatal(err)
	}
	in, ok := a.Queue().TryPop()
	if !ok {
		t.Fatal("no message enqueued")
	}
	if in.Content != "hello" || !in.IsDM || in.SenderID != "ou_alice" || in.ChannelID != "oc_9" {
		t.Errorf("message = %+v", in)
	}
}

func TestWebhookDeduplicatesByEventID(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	a.HandleWebhook(ctx, messageEvent("ev2", "p2p", "once", false))
	a.HandleWebhook(ctx, messageEvent("ev2", "p2p", "once", false))
	a.Queue().TryPop()
	if _, ok := a.Queue().TryPop(); ok {
		t.Error("duplicate event enqueued twice")
	}
}

func TestGroupMessageRequiresMention(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a.HandleWebhook(ctx, messageEvent("ev3", "group", "no mention", false))
	if _, ok := a.Queue().TryPop(); ok {
		t.Error("unmentioned group message enqueued")
	}

	a.HandleWebhook(ctx, messageEvent("ev4", "group", "@_user_1 do it", true))
	in, ok := a.Queue().TryPop()
	if !ok {
		t.Fatal("mentioned group message dropped")
	}
	if in.Content != "do it" {
		t.Errorf("mention not stripped: %q", in.Content)
	}
	if in.IsDM {
		t.Error("group message flagged as DM")
	}
}

func TestReceiveIDType(t *testing.T) {
	tests := []struct{ id, want string }{
		{"oc_abc", "chat_id"},
		{"ou_abc", "open_id"},
		{"on_abc", "union_id"},
		{"other", "chat_id"},
	}
	for _, tt := range tests {
		if got := receiveIDType(tt.id); got != tt.want {
			t.Errorf("receiveIDType(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestChunkText(t *testing.T) {
	content := strings.Repeat("row\n", 30) // 120 chars
	chunks := chunkText(content, 50)
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d over limit", i)
		}
	}
	if strings.Join(chunks, "") != content {
		t.Error("chunks do not reassemble to original")
	}
}
