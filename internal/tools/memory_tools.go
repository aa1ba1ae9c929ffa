package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

// ============================================================
// memory_store
// ============================================================

type MemoryStoreTool struct {
	svc *memory.Service
}

func NewMemoryStoreTool(svc *memory.Service) *MemoryStoreTool {
	return &MemoryStoreTool{svc: svc}
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }
func (t *MemoryStoreTool) Description() string {
	return "Store a durable fact about the user. Use for preferences, identity details, and commitments worth remembering across conversations."
}

func (t *MemoryStoreTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The fact to remember, one sentence",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"fact", "preference", "event", "task"},
				"description": "Kind of memory (default fact)",
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional lookup tags",
			},
			"pinned": map[string]interface{}{
				"type":        "boolean",
				"description": "Always include in context",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MemoryStoreTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}
	userID := UserIDFromCtx(ctx)
	if userID == "" {
		return ErrorResult("no user in context")
	}

	m := &store.Memory{
		UserID:        userID,
		Content:       strings.TrimSpace(content),
		Category:      str(args, "category"),
		Tags:          strs(args, "tags"),
		Pinned:        boolArg(args, "pinned"),
		SourceChannel: "tool",
	}
	saved, err := t.svc.Remember(ctx, m)
	if err != nil {
		return ErrorResult(fmt.Sprintf("store memory: %v", err)).WithError(err)
	}
	if saved == nil {
		return SilentResult("Already known.")
	}
	return SilentResult("Remembered: " + saved.Content)
}

// ============================================================
// memory_search
// ============================================================

type MemorySearchTool struct {
	svc *memory.Service
}

func NewMemorySearchTool(svc *memory.Service) *MemorySearchTool {
	return &MemorySearchTool{svc: svc}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search stored memories about the user by meaning and keywords."
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	userID := UserIDFromCtx(ctx)
	if userID == "" {
		return ErrorResult("no user in context")
	}

	limit := 5
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	hits, err := t.svc.SearchHybrid(ctx, userID, query, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search memories: %v", err)).WithError(err)
	}
	if len(hits) == 0 {
		return SilentResult("No matching memories.")
	}

	type entry struct {
		ID      string   `json:"id"`
		Content string   `json:"content"`
		Tags    []string `json:"tags,omitempty"`
		Pinned  bool     `json:"pinned,omitempty"`
	}
	entries := make([]entry, 0, len(hits))
	for _, m := range hits {
		entries = append(entries, entry{ID: m.ID, Content: m.Content, Tags: m.Tags, Pinned: m.Pinned})
	}
	out, _ := json.Marshal(map[string]interface{}{
		"count":    len(entries),
		"memories": entries,
	})
	return SilentResult(string(out))
}

// ============================================================
// memory_forget
// ============================================================

type MemoryForgetTool struct {
	svc *memory.Service
}

func NewMemoryForgetTool(svc *memory.Service) *MemoryForgetTool {
	return &MemoryForgetTool{svc: svc}
}

func (t *MemoryForgetTool) Name() string { return "memory_forget" }
func (t *MemoryForgetTool) Description() string {
	return "Forget a stored memory by its id (from memory_search)."
}

func (t *MemoryForgetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Memory id to forget",
			},
		},
		"required": []string{"id"},
	}
}

func (t *MemoryForgetTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	userID := UserIDFromCtx(ctx)
	if userID == "" {
		return ErrorResult("no user in context")
	}

	// The id must belong to the requesting user.
	m, err := t.svc.Repo().Get(ctx, id)
	if err != nil {
		return ErrorResult("memory not found")
	}
	if m.UserID != userID {
		return ErrorResult("memory not found")
	}
	if err := t.svc.Forget(ctx, id); err != nil {
		return ErrorResult(fmt.Sprintf("forget memory: %v", err)).WithError(err)
	}
	return SilentResult("Forgotten.")
}

func str(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func strs(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}
