// Package protocol defines the wire shapes of the admin WebSocket feed.
// Dashboards connect to /admin/ws and receive EventFrame values as the
// gateway processes messages.
package protocol

import "time"

// ProtocolVersion bumps when EventFrame changes incompatibly.
const ProtocolVersion = 1

// Event names pushed to connected dashboards. These mirror the event bus
// types, plus feed-local lifecycle frames.
const (
	EventHello                = "hello"
	EventConversationStarted  = "conversation.started"
	EventConversationEnded    = "conversation.ended"
	EventMessageReceived      = "message.received"
	EventMessageProcessed     = "message.processed"
	EventToolExecuted         = "tool.executed"
	EventShutdown             = "shutdown"
)

// EventFrame is one message on the feed.
type EventFrame struct {
	Type      string         `json:"type"`
	Subject   string         `json:"subject,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// NewEvent stamps a frame with the current time.
func NewEvent(eventType, subject string, payload map[string]any) EventFrame {
	return EventFrame{
		Type:      eventType,
		Subject:   subject,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
