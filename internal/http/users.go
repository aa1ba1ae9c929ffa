package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// UsersHandler administers user rows and their life profile documents.
type UsersHandler struct {
	users       *store.UserRepo
	profilesDir string // where PUT life-json documents land
}

func NewUsersHandler(users *store.UserRepo, profilesDir string) *UsersHandler {
	return &UsersHandler{users: users, profilesDir: profilesDir}
}

func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/users", h.list)
	mux.HandleFunc("POST /admin/users", h.create)
	mux.HandleFunc("GET /admin/users/{id}", h.get)
	mux.HandleFunc("PUT /admin/users/{id}", h.update)
	mux.HandleFunc("DELETE /admin/users/{id}", h.delete)
	mux.HandleFunc("PUT /admin/users/{id}/life-json", h.putLifeJSON)
}

type userView struct {
	ID         string `json:"id"`
	ProfileRef string `json:"profile_ref,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func viewUser(u *store.User) userView {
	return userView{
		ID:         u.ID,
		ProfileRef: u.ProfileRef,
		CreatedAt:  u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:  u.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (h *UsersHandler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewUser(u))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *UsersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "id is required")
		return
	}
	u, err := h.users.FindOrCreate(r.Context(), req.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, viewUser(u))
}

func (h *UsersHandler) get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, viewUser(u))
}

func (h *UsersHandler) update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileRef string `json:"profile_ref"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := h.users.SetProfileRef(r.Context(), id, req.ProfileRef); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, viewUser(u))
}

func (h *UsersHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// putLifeJSON stores the raw document under the profiles dir and points
// the user's profile_ref at it. The context builder resolves it from
// there on the next message.
func (h *UsersHandler) putLifeJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.users.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}

	var doc map[string]any
	if !decodeBody(w, r, &doc) {
		return
	}

	if err := os.MkdirAll(h.profilesDir, 0o755); err != nil {
		WriteError(w, http.StatusInternalServerError, "io_error", err.Error())
		return
	}
	path := filepath.Join(h.profilesDir, sanitizeFileName(id)+".json")
	if err := writeJSONFile(path, doc); err != nil {
		WriteError(w, http.StatusInternalServerError, "io_error", err.Error())
		return
	}
	if err := h.users.SetProfileRef(r.Context(), id, path); err != nil {
		WriteError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"profile_ref": path})
}
