package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// SessionsHandler lists sessions and their transcripts.
type SessionsHandler struct {
	sessions *store.SessionRepo
	messages *store.MessageRepo
}

func NewSessionsHandler(sessions *store.SessionRepo, messages *store.MessageRepo) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, messages: messages}
}

func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/sessions", h.list)
	mux.HandleFunc("GET /admin/sessions/{id}/messages", h.listMessages)
}

func (h *SessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	type view struct {
		ID        string `json:"id"`
		UserID    string `json:"user_id"`
		Channel   string `json:"channel"`
		ChannelID string `json:"channel_id"`
		PersonaID string `json:"persona_id,omitempty"`
		UpdatedAt string `json:"updated_at"`
	}
	out := make([]view, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, view{
			ID:        s.ID,
			UserID:    s.UserID,
			Channel:   s.Channel,
			ChannelID: s.ChannelID,
			PersonaID: s.PersonaID,
			UpdatedAt: s.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *SessionsHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.messages.Recent(r.Context(), id, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	type view struct {
		ID        string `json:"id"`
		Role      string `json:"role"`
		Content   string `json:"content"`
		ThreadID  string `json:"thread_id,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]view, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, view{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			ThreadID:  m.ThreadID,
			CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"messages": out})
}
