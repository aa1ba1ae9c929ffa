package contextbuild

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/knowledge"
	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

// BuiltContext is the assembled, token-budgeted prompt input.
type BuiltContext struct {
	System          string
	Profile         string
	Memory          string
	Knowledge       string
	History         []*store.Message
	EstimatedTokens int
}

// Builder assembles prompts from persona, profile, memories, knowledge,
// and session history. Every sub-source is best-effort: the user message
// alone is always a valid context.
type Builder struct {
	messages *store.MessageRepo
	memories *memory.Service
	library  *knowledge.Library // nil = no knowledge packs

	systemPrompt    string
	maxTotalTokens  int
	historyMessages int
	maxMemoryItems  int
}

func NewBuilder(messages *store.MessageRepo, memories *memory.Service, library *knowledge.Library,
	systemPrompt string, maxTotalTokens, historyMessages, maxMemoryItems int) *Builder {
	if maxTotalTokens <= 0 {
		maxTotalTokens = 8000
	}
	if historyMessages <= 0 {
		historyMessages = 20
	}
	if maxMemoryItems <= 0 {
		maxMemoryItems = 10
	}
	return &Builder{
		messages:        messages,
		memories:        memories,
		library:         library,
		systemPrompt:    systemPrompt,
		maxTotalTokens:  maxTotalTokens,
		historyMessages: historyMessages,
		maxMemoryItems:  maxMemoryItems,
	}
}

// Build assembles the context for one inbound message. threadID nil means
// root-level history only.
func (b *Builder) Build(ctx context.Context, session *store.Session, user *store.User, currentText string, threadID *string) (*BuiltContext, error) {
	bc := &BuiltContext{System: b.systemPrompt}

	// Life profile (optional; failure logs and proceeds).
	if user.ProfileRef != "" {
		if profile, err := memory.ResolveProfile(ctx, user.ProfileRef); err != nil {
			slog.Warn("context.profile_failed", "user", user.ID, "error", err)
		} else if profile != nil {
			bc.Profile = renderProfile(profile, session.PersonaID)
		}
	}

	// Memory: pinned/hot context plus hybrid hits for the current text.
	if b.memories != nil {
		bc.Memory = b.buildMemorySection(ctx, user.ID, currentText)
	}

	// Knowledge: independent sub-budget of one quarter of the total.
	if b.library != nil {
		chunks := b.library.Select(ctx, currentText, b.maxTotalTokens/4, EstimateTokens)
		bc.Knowledge = renderKnowledge(chunks)
	}

	// Session history, scoped to the thread.
	history, err := b.messages.RecentInThread(ctx, session.ID, threadID, b.historyMessages)
	if err != nil {
		slog.Warn("context.history_failed", "session", session.ID, "error", err)
	} else {
		bc.History = history
	}

	b.enforceBudget(bc, currentText)
	return bc, nil
}

func (b *Builder) buildMemorySection(ctx context.Context, userID, currentText string) string {
	var lines []string
	seen := make(map[string]bool)

	pinnedFirst, err := b.memories.ContextMemories(ctx, userID, b.maxMemoryItems)
	if err != nil {
		slog.Warn("context.memory_failed", "user", userID, "error", err)
	} else {
		for _, m := range pinnedFirst {
			lines = append(lines, renderMemory(m))
			seen[m.ID] = true
		}
	}

	hits, err := b.memories.SearchHybrid(ctx, userID, currentText, b.maxMemoryItems/2)
	if err != nil {
		slog.Warn("context.memory_search_failed", "user", userID, "error", err)
	} else {
		for _, m := range hits {
			if !seen[m.ID] {
				lines = append(lines, renderMemory(m))
			}
		}
	}

	if len(lines) == 0 {
		return ""
	}
	return "Known about this user:\n" + strings.Join(lines, "\n")
}

// enforceBudget drops sources in reverse priority until the estimate fits:
// older history first, then knowledge, then unpinned memory lines. The
// persona system prompt and the current message never drop.
func (b *Builder) enforceBudget(bc *BuiltContext, currentText string) {
	estimate := func() int {
		total := EstimateTokens(bc.System) + EstimateTokens(bc.Profile) +
			EstimateTokens(bc.Memory) + EstimateTokens(bc.Knowledge) +
			EstimateTokens(currentText)
		for _, m := range bc.History {
			total += EstimateTokens(m.Content) + 4
		}
		return total
	}

	bc.EstimatedTokens = estimate()
	for bc.EstimatedTokens > b.maxTotalTokens && len(bc.History) > 0 {
		bc.History = bc.History[1:]
		bc.EstimatedTokens = estimate()
	}
	if bc.EstimatedTokens > b.maxTotalTokens && bc.Knowledge != "" {
		bc.Knowledge = ""
		bc.EstimatedTokens = estimate()
	}
	if bc.EstimatedTokens > b.maxTotalTokens && bc.Memory != "" {
		bc.Memory = trimUnpinned(bc.Memory)
		bc.EstimatedTokens = estimate()
	}
	if bc.EstimatedTokens > b.maxTotalTokens && bc.Profile != "" {
		bc.Profile = ""
		bc.EstimatedTokens = estimate()
	}
}

// SystemContent joins the non-history sections into one system message.
func (bc *BuiltContext) SystemContent() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{bc.System, bc.Profile, bc.Memory, bc.Knowledge} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderMemory(m *store.Memory) string {
	prefix := "- "
	if m.Pinned {
		prefix = "- [pinned] "
	}
	line := prefix + m.Content
	if len(m.Tags) > 0 {
		line += " (" + strings.Join(m.Tags, ", ") + ")"
	}
	return line
}

// trimUnpinned drops non-pinned lines from the memory section. Pinned
// memories are always eligible for context.
func trimUnpinned(section string) string {
	var kept []string
	for _, line := range strings.Split(section, "\n") {
		if !strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "- [pinned] ") {
			kept = append(kept, line)
		}
	}
	if len(kept) <= 1 {
		return ""
	}
	return strings.Join(kept, "\n")
}

func renderProfile(profile *memory.LifeProfile, personaID string) string {
	assistant, ok := profile.Assistants[personaID]
	if !ok || len(assistant.LearnedFacts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("User profile:\n")
	for _, f := range assistant.LearnedFacts {
		fmt.Fprintf(&sb, "- %s\n", f.Fact)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderKnowledge(chunks []knowledge.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant knowledge:\n")
	for _, c := range chunks {
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
