// Package http holds the admin REST handlers mounted by the gateway
// server: user and session administration, Telegram group overrides, and
// life profile export/import. Webhook ingress and the WebSocket feed
// live in internal/gateway.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// AdminKeyHeader carries the admin API key on every /admin and /api call.
const AdminKeyHeader = "X-Admin-Key"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError emits the shared error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

// WriteJSON emits a 200 (or given status) JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Debug("http.write_json_failed", "error", err)
		}
	}
}

// RequireAdminKey wraps a handler with key auth. The key arrives either
// in X-Admin-Key or as a bearer token. An empty configured key locks the
// surface entirely; that is safer than open-by-default.
func RequireAdminKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			WriteError(w, http.StatusForbidden, "admin_disabled", "no admin key configured")
			return
		}
		got := r.Header.Get(AdminKeyHeader)
		if got == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
