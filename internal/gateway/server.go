// Package gateway wires the whole system together: the supervisor builds
// the dependency graph from configuration, and the server exposes the
// admin API, webhook ingress, and the dashboard event feed.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/config"
	"github.com/nextlevelbuilder/beacon/internal/events"
	httpapi "github.com/nextlevelbuilder/beacon/internal/http"
	"github.com/nextlevelbuilder/beacon/pkg/protocol"
)

// maxWebhookBody caps inbound webhook payloads (1MB).
const maxWebhookBody = 1 << 20

// Server is the gateway's HTTP surface.
type Server struct {
	cfg      *config.Config
	limiter  *channels.WebhookRateLimiter
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	clients   map[string]chan protocol.EventFrame
	accepting bool

	mux        *http.ServeMux
	httpServer *http.Server
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:       cfg,
		limiter:   channels.NewWebhookRateLimiter(),
		clients:   make(map[string]chan protocol.EventFrame),
		accepting: true,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is key-authed; origin checks add nothing for
			// non-browser dashboards.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
}

// Mux exposes the underlying mux so the supervisor can mount handlers.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// MountAdmin registers the admin REST handlers behind key auth.
func (s *Server) MountAdmin(handlers ...interface{ RegisterRoutes(*http.ServeMux) }) {
	inner := http.NewServeMux()
	for _, h := range handlers {
		h.RegisterRoutes(inner)
	}
	authed := httpapi.RequireAdminKey(s.cfg.Gateway.AdminKey, inner)
	s.mux.Handle("/admin/", authed)
	s.mux.Handle("/api/life-json/", authed)
}

// MountWebhook routes one webhook adapter's ingress path. Payloads are
// rate limited per remote address and handed to the adapter verbatim;
// whatever the adapter returns goes back as the platform's challenge
// response.
func (s *Server) MountWebhook(a channels.WebhookAdapter) {
	path := a.WebhookPath()
	s.mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		accepting := s.accepting
		s.mu.RUnlock()
		if !accepting {
			httpapi.WriteError(w, http.StatusServiceUnavailable, "shutting_down", "gateway is shutting down")
			return
		}
		if !s.limiter.Allow(r.RemoteAddr) {
			httpapi.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "bad_request", "unreadable body")
			return
		}
		resp, err := a.HandleWebhook(r.Context(), body)
		if err != nil {
			slog.Warn("gateway.webhook_failed", "channel", a.Name(), "error", err)
			httpapi.WriteError(w, http.StatusBadRequest, "webhook_error", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if resp != nil {
			w.Write(resp)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	slog.Info("gateway.webhook_mounted", "channel", a.Name(), "path", path)
}

// MountFeed registers the dashboard WebSocket feed and taps the event
// publisher so every pipeline event reaches connected clients.
func (s *Server) MountFeed(pub *events.Publisher) {
	pub.SetTap(func(ev events.Event) {
		s.broadcast(protocol.EventFrame{
			Type:      ev.Type,
			Subject:   ev.Subject,
			Payload:   ev.Data,
			Timestamp: ev.Timestamp,
		})
	})
	s.mux.Handle("/admin/ws", httpapi.RequireAdminKey(s.cfg.Gateway.AdminKey, http.HandlerFunc(s.handleFeed)))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway.ws_upgrade_failed", "error", err)
		return
	}
	id := uuid.NewString()
	ch := make(chan protocol.EventFrame, 64)

	s.mu.Lock()
	s.clients[id] = ch
	s.mu.Unlock()
	slog.Info("gateway.feed_connected", "client", id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		conn.Close()
		slog.Info("gateway.feed_disconnected", "client", id)
	}()

	conn.WriteJSON(protocol.NewEvent(protocol.EventHello, "", map[string]any{
		"protocol": protocol.ProtocolVersion,
	}))

	// Reader goroutine only watches for close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case frame := <-ch:
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

// broadcast fans one frame out to every client, dropping frames for
// clients whose buffers are full.
func (s *Server) broadcast(frame protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.clients {
		select {
		case ch <- frame:
		default:
			slog.Debug("gateway.feed_backpressure", "client", id)
		}
	}
}

// Start serves until ctx is cancelled, then shuts down with a deadline.
func (s *Server) Start(ctx context.Context) error {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion})
	})

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	slog.Info("gateway.listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.StopAccepting()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// StopAccepting flips webhook ingress to 503 while in-flight messages
// drain. Shutdown step one.
func (s *Server) StopAccepting() {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
	s.broadcast(protocol.NewEvent(protocol.EventShutdown, "", nil))
}
