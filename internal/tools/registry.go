// Package tools holds the tool registry, the built-in tools, and the
// loop detector that guards the agent's tool loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/beacon/internal/providers"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry is the union of built-in, skill-derived, and plugin tools.
// Names are unique across the union; a collision is a startup error.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions renders the registry in the provider wire format.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches to the named tool. Failures come back as a text
// result with an "Error: " prefix so the model can react to them; the
// caller never sees a raised error from a handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	res := safeExecute(ctx, t, args)
	if res == nil {
		return fmt.Sprintf("Error: tool %q returned no result", name)
	}
	if res.Err != nil {
		slog.Warn("tool.execute.failed", "tool", name, "error", res.Err)
	}
	if res.IsError {
		return "Error: " + res.ForLLM
	}
	if res.ForLLM == "" {
		return "(no output)"
	}
	return res.ForLLM
}

// ExecuteJSON decodes a raw arguments payload and dispatches.
func (r *Registry) ExecuteJSON(ctx context.Context, name, argsJSON string) string {
	args := map[string]interface{}{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %q: %v", name, err)
		}
	}
	return r.Execute(ctx, name, args)
}

// safeExecute converts a handler panic into an error result so one bad
// tool cannot take the pipeline down.
func safeExecute(ctx context.Context, t Tool, args map[string]interface{}) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool.execute.panic", "tool", t.Name(), "panic", rec)
			res = ErrorResult(fmt.Sprintf("tool %q panicked", t.Name()))
		}
	}()
	return t.Execute(ctx, args)
}
