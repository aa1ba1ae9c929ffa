package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
)

type fakeBroker struct {
	mu       sync.Mutex
	logins   int
	topics   map[string]bool
	payloads []Event
}

func (b *fakeBroker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/login", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.logins++
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": map[string]any{"token": "tok123"},
		})
	})
	mux.HandleFunc("POST /streams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /streams/{stream}/topics", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		if b.topics == nil {
			b.topics = map[string]bool{}
		}
		b.topics[req.Name] = true
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /streams/{stream}/topics/{topic}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Partitioning struct {
				Kind string `json:"kind"`
			} `json:"partitioning"`
			Messages []struct {
				Payload string `json:"payload"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil || req.Partitioning.Kind != "balanced" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, m := range req.Messages {
			raw, err := base64.StdEncoding.DecodeString(m.Payload)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			b.mu.Lock()
			b.payloads = append(b.payloads, ev)
			b.mu.Unlock()
		}
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func startBroker(t *testing.T) (*fakeBroker, string, int) {
	t.Helper()
	broker := &fakeBroker{}
	srv := httptest.NewServer(broker.handler())
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return broker, u.Hostname(), port
}

func TestPublishRoundtrip(t *testing.T) {
	broker, host, port := startBroker(t)

	p, err := New(context.Background(), host, port, "iggy", "secret", "beacon", "org7", "beacon-gw")
	if err != nil {
		t.Fatal(err)
	}

	p.Publish(TypeMessageReceived, "session:s1", map[string]any{"channel": "telegram"})
	p.Publish(TypeToolExecuted, "", map[string]any{"tool": "echo", "success": true})
	p.Close()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.payloads) != 2 {
		t.Fatalf("broker saw %d events", len(broker.payloads))
	}
	if !broker.topics["org-org7"] {
		t.Errorf("topics = %v", broker.topics)
	}
	byType := map[string]Event{}
	for _, ev := range broker.payloads {
		byType[ev.Type] = ev
	}
	ev := byType[TypeMessageReceived]
	if ev.ID == "" || ev.Source != "beacon-gw" || ev.OrganizationID != "org7" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Subject != "session:s1" || ev.Data["channel"] != "telegram" {
		t.Errorf("event payload = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("no timestamp")
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	p.Publish(TypeMessageProcessed, "", nil) // must not panic
	p.Close()
}

func TestNewFailsOnBadBroker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	if _, err := New(context.Background(), u.Hostname(), port, "iggy", "bad", "beacon", "", "src"); err == nil {
		t.Error("want error from failing login")
	}
}
