package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/store"
	"github.com/nextlevelbuilder/beacon/internal/tools"
)

type nameOnlyTool struct{ name string }

func (t nameOnlyTool) Name() string                       { return t.name }
func (t nameOnlyTool) Description() string                { return "test tool" }
func (t nameOnlyTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (t nameOnlyTool) Execute(context.Context, map[string]interface{}) *tools.Result {
	return tools.NewResult("ok")
}

func TestRegisterBuiltinToolsCollisionFailsStartup(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	svc := memory.NewService(st.Memories, memory.NewIndex(), nil, "")

	// Plugin tools register first; one of them claims a built-in name.
	registry := tools.NewRegistry()
	if err := registry.Register(nameOnlyTool{name: "memory_store"}); err != nil {
		t.Fatal(err)
	}

	err = registerBuiltinTools(registry, st, svc)
	if err == nil {
		t.Fatal("expected a collision error, got nil")
	}
	if !strings.Contains(err.Error(), "memory_store") {
		t.Errorf("error = %v, want it to name the colliding tool", err)
	}
}

func TestRegisterBuiltinToolsCleanRegistry(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	svc := memory.NewService(st.Memories, memory.NewIndex(), nil, "")

	registry := tools.NewRegistry()
	if err := registerBuiltinTools(registry, st, svc); err != nil {
		t.Fatalf("registerBuiltinTools: %v", err)
	}
	for _, name := range []string{"memory_store", "memory_search", "memory_forget", "session_list", "session_history"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("built-in %q not registered", name)
		}
	}
}
