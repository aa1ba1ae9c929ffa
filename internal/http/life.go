package http

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/memory"
)

// LifeHandler exports memories as a life profile document and imports
// one back, deduplicated by content hash.
type LifeHandler struct {
	memories *memory.Service
}

func NewLifeHandler(memories *memory.Service) *LifeHandler {
	return &LifeHandler{memories: memories}
}

func (h *LifeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/life-json/export", h.export)
	mux.HandleFunc("POST /api/life-json/import", h.importProfile)
}

func (h *LifeHandler) export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	personaID := q.Get("persona_id")
	if userID == "" || personaID == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "user_id and persona_id are required")
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	profile, err := h.memories.ExportLife(r.Context(), userID, personaID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

func (h *LifeHandler) importProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string              `json:"user_id"`
		PersonaID string              `json:"persona_id"`
		Profile   *memory.LifeProfile `json:"profile"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" || req.PersonaID == "" || req.Profile == nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "user_id, persona_id and profile are required")
		return
	}

	res, err := h.memories.ImportLife(r.Context(), req.UserID, req.PersonaID, req.Profile)
	if err != nil {
		if strings.Contains(err.Error(), "not present in profile") {
			WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "import_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// sanitizeFileName keeps profile files inside the profiles dir even when
// user IDs carry separators ("telegram:42").
func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.', ' ':
			return '_'
		}
		return r
	}, s)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
