package hooks

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"
)

func handler(name string, res *Result, err error) Handler {
	return &FuncHandler{HandlerName: name, Fn: func(context.Context, Event) (*Result, error) {
		return res, err
	}}
}

func TestDispatchLastWriterWins(t *testing.T) {
	m := NewManager()
	m.Register(BeforeAgent, handler("first", &Result{Reply: "one", SkipAgent: true}, nil))
	m.Register(BeforeAgent, handler("second", &Result{Reply: "two"}, nil))

	res := m.Dispatch(context.Background(), BeforeAgent, Event{Content: "hi"})
	if res.Reply != "two" {
		t.Errorf("reply = %q, want last writer", res.Reply)
	}
	if !res.SkipAgent {
		t.Error("skip flag lost in merge")
	}
}

func TestDispatchErrorIsNoop(t *testing.T) {
	m := NewManager()
	m.Register(MessageReceived, handler("broken", nil, errors.New("boom")))
	m.Register(MessageReceived, handler("ok", &Result{SkipProcessing: true}, nil))

	res := m.Dispatch(context.Background(), MessageReceived, Event{})
	if !res.SkipProcessing {
		t.Error("failed handler should not block later ones")
	}
}

func TestDispatchNoHandlers(t *testing.T) {
	m := NewManager()
	res := m.Dispatch(context.Background(), AfterAgent, Event{Response: "text"})
	if res == nil || res.ModifiedResponse != "" || res.Reply != "" {
		t.Errorf("empty dispatch = %+v", res)
	}
}

func TestCommandHandlerRoundtrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	// The script echoes a fixed hook result regardless of input.
	h := NewCommandHandler("shell", "sh",
		[]string{"-c", `cat >/dev/null; echo '{"modified_response":"rewritten"}'`}, 5*time.Second)

	res, err := h.Handle(context.Background(), Event{Point: AfterAgent, Response: "orig"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModifiedResponse != "rewritten" {
		t.Errorf("result = %+v", res)
	}
}

func TestCommandHandlerEmptyOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	h := NewCommandHandler("quiet", "sh", []string{"-c", "cat >/dev/null"}, 5*time.Second)
	res, err := h.Handle(context.Background(), Event{})
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("empty stdout = %+v, want nil", res)
	}
}

func TestCommandHandlerTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	h := NewCommandHandler("slow", "sh", []string{"-c", "sleep 5"}, 100*time.Millisecond)
	if _, err := h.Handle(context.Background(), Event{}); err == nil {
		t.Error("want timeout error")
	}
}
