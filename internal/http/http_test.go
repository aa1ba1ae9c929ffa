package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

func testMux(t *testing.T) (*http.ServeMux, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mux := http.NewServeMux()
	NewUsersHandler(st.Users, t.TempDir()).RegisterRoutes(mux)
	NewSessionsHandler(st.Sessions, st.Messages).RegisterRoutes(mux)
	NewGroupsHandler(st.Groups).RegisterRoutes(mux)
	return mux, st
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRequireAdminKey(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("no key configured locks the surface", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAdminKey("", next).ServeHTTP(rec, httptest.NewRequest("GET", "/admin/users", nil))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/users", nil)
		req.Header.Set(AdminKeyHeader, "nope")
		rec := httptest.NewRecorder()
		RequireAdminKey("secret", next).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Error.Code != "unauthorized" {
			t.Errorf("error code = %q", body.Error.Code)
		}
	})

	t.Run("header key", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/users", nil)
		req.Header.Set(AdminKeyHeader, "secret")
		rec := httptest.NewRecorder()
		RequireAdminKey("secret", next).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("bearer fallback", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/users", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		RequireAdminKey("secret", next).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})
}

func TestUsersCRUD(t *testing.T) {
	mux, _ := testMux(t)

	if rec := doJSON(t, mux, "POST", "/admin/users", `{"id":"telegram:42"}`); rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, mux, "GET", "/admin/users/telegram:42", ""); rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}

	rec := doJSON(t, mux, "GET", "/admin/users", "")
	var listed struct {
		Users []userView `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Users) != 1 || listed.Users[0].ID != "telegram:42" {
		t.Fatalf("list = %+v", listed.Users)
	}

	if rec := doJSON(t, mux, "DELETE", "/admin/users/telegram:42", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, mux, "GET", "/admin/users/telegram:42", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestPutLifeJSONSetsProfileRef(t *testing.T) {
	mux, st := testMux(t)
	ctx := context.Background()
	if _, err := st.Users.FindOrCreate(ctx, "telegram:7"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, mux, "PUT", "/admin/users/telegram:7/life-json", `{"identity":{"name":"Ada"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put life-json: %d %s", rec.Code, rec.Body)
	}

	u, err := st.Users.Get(ctx, "telegram:7")
	if err != nil {
		t.Fatal(err)
	}
	if u.ProfileRef == "" || !strings.HasSuffix(u.ProfileRef, ".json") {
		t.Fatalf("profile_ref = %q", u.ProfileRef)
	}
	// The ref must not carry the raw ":" from the user ID.
	if strings.Contains(u.ProfileRef[strings.LastIndex(u.ProfileRef, "/")+1:], ":") {
		t.Errorf("unsanitized file name in %q", u.ProfileRef)
	}
}

func TestGroupsPutGetDelete(t *testing.T) {
	mux, _ := testMux(t)

	rec := doJSON(t, mux, "PUT", "/admin/telegram/groups/-100123", `{"require_mention":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, mux, "GET", "/admin/telegram/groups/-100123", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}
	var g store.GroupConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatal(err)
	}
	if g.ChatID != "-100123" || g.RequireMention == nil || !*g.RequireMention {
		t.Fatalf("round trip = %+v", g)
	}
	if rec := doJSON(t, mux, "DELETE", "/admin/telegram/groups/-100123", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, mux, "GET", "/admin/telegram/groups/-100123", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestSessionMessagesNotFound(t *testing.T) {
	mux, _ := testMux(t)
	rec := doJSON(t, mux, "GET", "/admin/sessions/nope/messages", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
