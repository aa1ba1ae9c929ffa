package http

import (
	"errors"
	"net/http"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// GroupsHandler manages per-group Telegram overrides.
type GroupsHandler struct {
	groups *store.GroupConfigRepo
}

func NewGroupsHandler(groups *store.GroupConfigRepo) *GroupsHandler {
	return &GroupsHandler{groups: groups}
}

func (h *GroupsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/telegram/groups", h.list)
	mux.HandleFunc("GET /admin/telegram/groups/{chat_id}", h.get)
	mux.HandleFunc("PUT /admin/telegram/groups/{chat_id}", h.put)
	mux.HandleFunc("DELETE /admin/telegram/groups/{chat_id}", h.delete)
}

func (h *GroupsHandler) list(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *GroupsHandler) get(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.Context(), r.PathValue("chat_id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "group not configured")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, g)
}

func (h *GroupsHandler) put(w http.ResponseWriter, r *http.Request) {
	var g store.GroupConfig
	if !decodeBody(w, r, &g) {
		return
	}
	g.ChatID = r.PathValue("chat_id")
	if err := h.groups.Put(r.Context(), &g); err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, g)
}

func (h *GroupsHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Delete(r.Context(), r.PathValue("chat_id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "group not configured")
			return
		}
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
