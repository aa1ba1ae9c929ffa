// Package hooks runs user-configured handlers at fixed points of the
// message pipeline.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Point is one of the pipeline positions handlers can attach to.
type Point string

const (
	MessageReceived Point = "message_received"
	BeforeAgent     Point = "before_agent"
	AfterAgent      Point = "after_agent"
)

// Event is the payload handed to each handler.
type Event struct {
	Point     Point  `json:"point"`
	Channel   string `json:"channel"`
	SenderID  string `json:"sender_id"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
	Response  string `json:"response,omitempty"` // set for AfterAgent
}

// Result is what a handler may return. All fields optional.
type Result struct {
	Reply            string `json:"reply,omitempty"`
	ModifiedResponse string `json:"modified_response,omitempty"`
	SkipProcessing   bool   `json:"skip_processing,omitempty"`
	SkipAgent        bool   `json:"skip_agent,omitempty"`
}

// Handler processes one hook event.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev Event) (*Result, error)
}

// Manager dispatches hook points to their configured handlers. Handler
// errors are logged and treated as a no-op result. Multiple handlers
// compose last-writer-wins per field.
type Manager struct {
	handlers map[Point][]Handler
}

func NewManager() *Manager {
	return &Manager{handlers: make(map[Point][]Handler)}
}

func (m *Manager) Register(point Point, h Handler) {
	m.handlers[point] = append(m.handlers[point], h)
}

// HandlerCount reports how many handlers a point has.
func (m *Manager) HandlerCount(point Point) int {
	return len(m.handlers[point])
}

// Dispatch runs the point's handlers in registration order and merges
// their results. An empty merged result is returned when no handler
// produced anything.
func (m *Manager) Dispatch(ctx context.Context, point Point, ev Event) *Result {
	ev.Point = point
	merged := &Result{}
	for _, h := range m.handlers[point] {
		res, err := h.Handle(ctx, ev)
		if err != nil {
			slog.Warn("hook.handler_failed", "point", string(point), "handler", h.Name(), "error", err)
			continue
		}
		if res == nil {
			continue
		}
		if res.Reply != "" {
			merged.Reply = res.Reply
		}
		if res.ModifiedResponse != "" {
			merged.ModifiedResponse = res.ModifiedResponse
		}
		if res.SkipProcessing {
			merged.SkipProcessing = true
		}
		if res.SkipAgent {
			merged.SkipAgent = true
		}
	}
	return merged
}

// CommandHandler shells out to an external program, passing the event as
// JSON on stdin and reading an optional Result as JSON from stdout. An
// empty stdout is a no-op result.
type CommandHandler struct {
	name    string
	command string
	args    []string
	timeout time.Duration
}

func NewCommandHandler(name, command string, args []string, timeout time.Duration) *CommandHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandHandler{name: name, command: command, args: args, timeout: timeout}
}

func (h *CommandHandler) Name() string { return h.name }

func (h *CommandHandler) Handle(ctx context.Context, ev Event) (*Result, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, h.command, h.args...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("hook command %q: %w", h.command, err)
	}

	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}
	res := &Result{}
	if err := json.Unmarshal(trimmed, res); err != nil {
		return nil, fmt.Errorf("hook command %q output: %w", h.command, err)
	}
	return res, nil
}

// FuncHandler adapts a plain function, used for in-process hooks and in
// tests.
type FuncHandler struct {
	HandlerName string
	Fn          func(ctx context.Context, ev Event) (*Result, error)
}

func (h *FuncHandler) Name() string { return h.HandlerName }

func (h *FuncHandler) Handle(ctx context.Context, ev Event) (*Result, error) {
	return h.Fn(ctx, ev)
}
