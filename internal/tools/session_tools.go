package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// ============================================================
// session_list
// ============================================================

type SessionListTool struct {
	sessions *store.SessionRepo
	messages *store.MessageRepo
}

func NewSessionListTool(sessions *store.SessionRepo, messages *store.MessageRepo) *SessionListTool {
	return &SessionListTool{sessions: sessions, messages: messages}
}

func (t *SessionListTool) Name() string { return "session_list" }
func (t *SessionListTool) Description() string {
	return "List conversation sessions with optional filters."
}

func (t *SessionListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max sessions to return (default 20)",
			},
			"active_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Only show sessions active in the last N minutes",
			},
		},
	}
}

func (t *SessionListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	limit := 20
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}
	var activeMinutes int
	if v, ok := args["active_minutes"].(float64); ok && int(v) > 0 {
		activeMinutes = int(v)
	}

	sessions, err := t.sessions.List(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list sessions: %v", err)).WithError(err)
	}
	if activeMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(activeMinutes) * time.Minute)
		var filtered []*store.Session
		for _, s := range sessions {
			if s.UpdatedAt.After(cutoff) {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}

	type entry struct {
		ID           string `json:"id"`
		Channel      string `json:"channel"`
		ChannelID    string `json:"channel_id"`
		MessageCount int    `json:"message_count"`
		Updated      string `json:"updated"`
	}
	entries := make([]entry, 0, len(sessions))
	for _, s := range sessions {
		count, _ := t.messages.Count(ctx, s.ID)
		entries = append(entries, entry{
			ID:           s.ID,
			Channel:      s.Channel,
			ChannelID:    s.ChannelID,
			MessageCount: count,
			Updated:      s.UpdatedAt.Format(time.RFC3339),
		})
	}

	out, _ := json.Marshal(map[string]interface{}{
		"count":    len(entries),
		"sessions": entries,
	})
	return SilentResult(string(out))
}

// ============================================================
// session_history
// ============================================================

type SessionHistoryTool struct {
	sessions *store.SessionRepo
	messages *store.MessageRepo
}

func NewSessionHistoryTool(sessions *store.SessionRepo, messages *store.MessageRepo) *SessionHistoryTool {
	return &SessionHistoryTool{sessions: sessions, messages: messages}
}

func (t *SessionHistoryTool) Name() string { return "session_history" }
func (t *SessionHistoryTool) Description() string {
	return "Show recent messages of a session (default: current session)."
}

func (t *SessionHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to inspect (default: current session)",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max messages (default 20)",
			},
		},
	}
}

func (t *SessionHistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		sessionID = SessionIDFromCtx(ctx)
	}
	if sessionID == "" {
		return ErrorResult("session_id is required (could not detect current session)")
	}
	if _, err := t.sessions.Get(ctx, sessionID); err != nil {
		return ErrorResult("session not found")
	}

	limit := 20
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	msgs, err := t.messages.Recent(ctx, sessionID, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("load history: %v", err)).WithError(err)
	}

	var lines []string
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			m.CreatedAt.Format("15:04"), m.Role, m.Content))
	}
	if len(lines) == 0 {
		return SilentResult("No messages in this session.")
	}
	return SilentResult(strings.Join(lines, "\n"))
}

// ============================================================
// session_send
// ============================================================

// SendFunc delivers text to a channel locus outside the current
// conversation. Wired by the supervisor to the channel manager.
type SendFunc func(ctx context.Context, channel, channelID, content string) error

type SessionSendTool struct {
	sessions *store.SessionRepo
	send     SendFunc
}

func NewSessionSendTool(sessions *store.SessionRepo, send SendFunc) *SessionSendTool {
	return &SessionSendTool{sessions: sessions, send: send}
}

func (t *SessionSendTool) Name() string { return "session_send" }
func (t *SessionSendTool) Description() string {
	return "Send a message to another session's channel."
}

func (t *SessionSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Target session",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Text to send",
			},
		},
		"required": []string{"session_id", "content"},
	}
}

func (t *SessionSendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sessionID, _ := args["session_id"].(string)
	content, _ := args["content"].(string)
	if sessionID == "" || strings.TrimSpace(content) == "" {
		return ErrorResult("session_id and content are required")
	}
	if t.send == nil {
		return ErrorResult("outbound sending not available")
	}

	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return ErrorResult("session not found")
	}
	if err := t.send(ctx, sess.Channel, sess.ChannelID, content); err != nil {
		return ErrorResult(fmt.Sprintf("send failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("Sent to %s/%s.", sess.Channel, sess.ChannelID))
}
