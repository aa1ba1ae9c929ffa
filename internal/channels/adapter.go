// Package channels provides the adapter abstraction connecting external
// messaging platforms (Telegram, Discord, Lark) to the gateway pipeline.
// Adapters are pure producers/consumers: they push normalized inbound
// messages onto their queue and never call back into the pipeline.
package channels

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/beacon/internal/bus"
)

// Capability is a declared feature of an adapter. The pipeline checks
// the set before calling optional operations.
type Capability string

const (
	CapStreaming       Capability = "streaming"
	CapReactions       Capability = "reactions"
	CapInlineKeyboards Capability = "inline_keyboards"
	CapMediaSend       Capability = "media_send"
	CapMessageEdit     Capability = "message_edit"
	CapMessageDelete   Capability = "message_delete"
	CapVoiceTranscribe Capability = "voice_transcribe"
	CapForumTopics     Capability = "forum_topics"
	CapStickers        Capability = "stickers"
)

// CapabilitySet is the declared subset of capabilities.
type CapabilitySet map[Capability]bool

func Caps(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// Adapter is the contract every platform integration implements.
type Adapter interface {
	// Name returns the stable channel identifier ("telegram", "discord", ...).
	Name() string

	// Capabilities reports what this adapter supports.
	Capabilities() CapabilitySet

	// Connect validates credentials and starts ingress. Non-blocking
	// after setup; ingress runs until the context is cancelled.
	Connect(ctx context.Context) error

	// Disconnect stops ingress and releases platform resources.
	Disconnect(ctx context.Context) error

	// Send delivers one outbound message.
	Send(ctx context.Context, msg *bus.OutgoingMessage) error

	// SendTyping shows a typing indicator. No-op where unsupported.
	SendTyping(ctx context.Context, channelID string) error

	// AddReaction applies an emoji reaction to a message.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// RemoveReaction clears an emoji reaction.
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error

	// Queue is the adapter's inbound queue, consumed by its pipeline.
	Queue() *bus.Queue
}

// StreamingAdapter adds incremental response rendering, available when
// CapStreaming is declared.
type StreamingAdapter interface {
	Adapter

	// SendStreamingStart creates a placeholder message and returns its ID.
	SendStreamingStart(ctx context.Context, channelID, threadID string) (string, error)

	// SendStreamingUpdate replaces the placeholder text with the partial
	// response so far.
	SendStreamingUpdate(ctx context.Context, channelID, messageID, text string) error

	// SendStreamingEnd replaces the placeholder with the final text.
	SendStreamingEnd(ctx context.Context, channelID, messageID, text string) error
}

// WebhookAdapter marks adapters fed by an HTTP route instead of a
// long-poll loop. The admin server hands raw platform payloads to
// HandleWebhook, which parses, dedups, and enqueues.
type WebhookAdapter interface {
	Adapter

	// WebhookPath is the route suffix ("/api/webhooks/<path>").
	WebhookPath() string

	// HandleWebhook processes one platform-shaped payload. A non-nil
	// response is written back verbatim as application/json; platforms
	// use this for verification challenges.
	HandleWebhook(ctx context.Context, body []byte) ([]byte, error)
}

// ChannelError wraps a platform failure with where it happened. The
// pipeline logs these and keeps going.
type ChannelError struct {
	Channel string
	Op      string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func Errf(channel, op string, err error) *ChannelError {
	return &ChannelError{Channel: channel, Op: op, Err: err}
}

// Truncate shortens a string to maxLen, appending a marker when cut.
// Platform size caps differ, so each adapter picks its own maxLen.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…(truncated)"
}
