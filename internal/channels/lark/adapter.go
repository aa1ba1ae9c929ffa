// Package lark implements the Lark/Feishu channel using webhook ingress.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/config"
)

const (
	defaultBaseURL = "https://open.larksuite.com"
	textChunkLimit = 4000
	dedupTTL       = 5 * time.Minute
)

// Adapter receives Lark events over the gateway's webhook route and
// replies through the IM API using a cached tenant access token.
type Adapter struct {
	cfg   config.LarkConfig
	api   *client
	queue *bus.Queue
	botID string
	dedup sync.Map // event/message ID -> struct{}
}

func New(cfg config.LarkConfig) (*Adapter, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("lark app_id and app_secret are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		cfg:   cfg,
		api:   newClient(cfg.AppID, cfg.AppSecret, baseURL),
		queue: bus.NewQueue(bus.DefaultQueueCapacity),
	}, nil
}

func (a *Adapter) Name() string { return "lark" }

func (a *Adapter) Capabilities() channels.CapabilitySet {
	return channels.Caps(channels.CapMediaSend)
}

func (a *Adapter) Queue() *bus.Queue { return a.queue }

// Connect probes the bot identity. Ingress arrives via HandleWebhook,
// so there is no connection to hold open.
func (a *Adapter) Connect(ctx context.Context) error {
	openID, err := a.api.botOpenID(ctx)
	if err != nil {
		slog.Warn("lark.bot_probe_failed", "error", err)
		return nil
	}
	a.botID = openID
	slog.Info("lark.connected", "bot_open_id", openID)
	return nil
}

func (a *Adapter) Disconnect(_ context.Context) error { return nil }

func (a *Adapter) WebhookPath() string { return "/api/webhooks/lark" }

// webhookEvent covers the two payload shapes Lark posts: the one-time
// url_verification handshake and the v2 event envelope.
type webhookEvent struct {
	Type      string `json:"type,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	Token     string `json:"token,omitempty"`

	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message larkMessage `json:"message"`
	} `json:"event"`
}

type larkMessage struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	ChatType    string `json:"chat_type"` // "p2p" | "group"
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	ParentID    string `json:"parent_id,omitempty"`
	RootID      string `json:"root_id,omitempty"`
	Mentions    []struct {
		Key string `json:"key"`
		ID  struct {
			OpenID string `json:"open_id"`
		} `json:"id"`
		Name string `json:"name"`
	} `json:"mentions,omitempty"`
}

// HandleWebhook parses one platform payload. Verification handshakes
// echo the challenge; message events are deduplicated by event ID and
// enqueued.
func (a *Adapter) HandleWebhook(_ context.Context, body []byte) ([]byte, error) {
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse lark event: %w", err)
	}

	if event.Type == "url_verification" {
		if a.cfg.VerificationToken != "" && event.Token != a.cfg.VerificationToken {
			return nil, fmt.Errorf("lark verification token mismatch")
		}
		resp, _ := json.Marshal(map[string]string{"challenge": event.Challenge})
		return resp, nil
	}

	if a.cfg.VerificationToken != "" && event.Header.Token != a.cfg.VerificationToken {
		return nil, fmt.Errorf("lark verification token mismatch")
	}
	if event.Header.EventType != "im.message.receive_v1" {
		return nil, nil
	}
	if a.isDuplicate(event.Header.EventID) {
		return nil, nil
	}
	a.handleMessage(&event)
	return nil, nil
}

func (a *Adapter) handleMessage(event *webhookEvent) {
	msg := &event.Event.Message
	isDM := msg.ChatType == "p2p"

	content, mentionedBot := a.parseContent(msg)
	if !isDM && !mentionedBot {
		return
	}

	in := bus.IncomingMessage{
		ID:        msg.MessageID,
		Channel:   a.Name(),
		ChannelID: msg.ChatID,
		SenderID:  event.Event.Sender.SenderID.OpenID,
		Content:   content,
		IsDM:      isDM,
		ReplyTo:   msg.ParentID,
		ThreadID:  msg.RootID,
	}
	if in.Content == "" {
		return
	}
	a.queue.Push(in)
}

// parseContent extracts plain text from the typed content payload and
// strips the bot mention key when present.
func (a *Adapter) parseContent(msg *larkMessage) (string, bool) {
	var text string
	switch msg.MessageType {
	case "text":
		var tm struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(msg.Content), &tm); err == nil {
			text = tm.Text
		}
	case "image":
		text = "[image]"
	case "file":
		var fm struct {
			FileName string `json:"file_name"`
		}
		if err := json.Unmarshal([]byte(msg.Content), &fm); err == nil && fm.FileName != "" {
			text = "[file: " + fm.FileName + "]"
		} else {
			text = "[file]"
		}
	default:
		text = "[" + msg.MessageType + " message]"
	}

	mentionedBot := false
	for _, m := range msg.Mentions {
		if a.botID != "" && m.ID.OpenID == a.botID {
			mentionedBot = true
			if m.Key != "" {
				text = strings.ReplaceAll(text, m.Key, "")
			}
		}
	}
	return strings.TrimSpace(text), mentionedBot
}

// Send delivers outbound text, as an interactive card when the content
// carries code blocks and as chunked plain text otherwise.
func (a *Adapter) Send(ctx context.Context, msg *bus.OutgoingMessage) error {
	if msg.Content == "" {
		return nil
	}
	receiveIDType := receiveIDType(msg.ChannelID)

	if msg.HasCodeBlocks() {
		card, _ := json.Marshal(markdownCard(msg.Content))
		if _, err := a.api.sendMessage(ctx, receiveIDType, msg.ChannelID, "interactive", string(card)); err != nil {
			return channels.Errf(a.Name(), "send", err)
		}
		return nil
	}

	for _, chunk := range chunkText(msg.Content, textChunkLimit) {
		content, _ := json.Marshal(map[string]string{"text": chunk})
		if _, err := a.api.sendMessage(ctx, receiveIDType, msg.ChannelID, "text", string(content)); err != nil {
			return channels.Errf(a.Name(), "send", err)
		}
	}
	return nil
}

// SendTyping is a no-op; Lark has no typing indicator API.
func (a *Adapter) SendTyping(context.Context, string) error { return nil }

func (a *Adapter) AddReaction(context.Context, string, string, string) error    { return nil }
func (a *Adapter) RemoveReaction(context.Context, string, string, string) error { return nil }

func (a *Adapter) isDuplicate(id string) bool {
	if id == "" {
		return false
	}
	_, loaded := a.dedup.LoadOrStore(id, struct{}{})
	if !loaded {
		time.AfterFunc(dedupTTL, func() { a.dedup.Delete(id) })
	}
	return loaded
}

// receiveIDType maps a Lark ID prefix to the receive_id_type parameter.
func receiveIDType(id string) string {
	switch {
	case strings.HasPrefix(id, "ou_"):
		return "open_id"
	case strings.HasPrefix(id, "on_"):
		return "union_id"
	default:
		return "chat_id"
	}
}

func markdownCard(text string) map[string]interface{} {
	return map[string]interface{}{
		"schema": "2.0",
		"config": map[string]interface{}{"wide_screen_mode": true},
		"body": map[string]interface{}{
			"elements": []map[string]interface{}{
				{"tag": "markdown", "content": text},
			},
		},
	}
}

func chunkText(text string, limit int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cutAt := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > limit/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
