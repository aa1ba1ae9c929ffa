package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/beacon/internal/bus"
)

// Manager owns the registered adapters: lifecycle, lookup, and direct
// sends from tools and admin handlers.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewManager() *Manager {
	return &Manager{adapters: make(map[string]Adapter)}
}

func (m *Manager) Register(a Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := a.Name()
	if _, exists := m.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	m.adapters[name] = a
	return nil
}

func (m *Manager) Get(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// All returns the registered adapters.
func (m *Manager) All() []Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, a)
	}
	return out
}

// ConnectAll connects every adapter concurrently. One adapter failing
// to connect fails startup; credentials problems should surface early.
func (m *Manager) ConnectAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range m.All() {
		a := a
		g.Go(func() error {
			slog.Info("channel.connecting", "channel", a.Name())
			if err := a.Connect(gctx); err != nil {
				return fmt.Errorf("connect %s: %w", a.Name(), err)
			}
			slog.Info("channel.connected", "channel", a.Name())
			return nil
		})
	}
	return g.Wait()
}

// DisconnectAll stops every adapter, giving each a bounded deadline.
// Disconnect errors are logged, not returned; shutdown keeps going.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for _, a := range m.All() {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.Disconnect(dctx); err != nil {
			slog.Warn("channel.disconnect_failed", "channel", a.Name(), "error", err)
		} else {
			slog.Info("channel.disconnected", "channel", a.Name())
		}
		cancel()
	}
}

// Send delivers plain text to a channel locus, for callers outside the
// pipeline (tools, admin API).
func (m *Manager) Send(ctx context.Context, channel, channelID, content string) error {
	a, ok := m.Get(channel)
	if !ok {
		return fmt.Errorf("channel %q not found", channel)
	}
	return a.Send(ctx, &bus.OutgoingMessage{ChannelID: channelID, Content: content})
}

// Status reports each adapter's declared capabilities for the admin API.
func (m *Manager) Status() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.adapters))
	for name, a := range m.adapters {
		caps := make([]string, 0, len(a.Capabilities()))
		for c := range a.Capabilities() {
			caps = append(caps, string(c))
		}
		out[name] = map[string]any{"capabilities": caps}
	}
	return out
}
