package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/contextbuild"
	"github.com/nextlevelbuilder/beacon/internal/store"
	"github.com/nextlevelbuilder/beacon/internal/tools"
)

// dispatchCommand resolves a leading "/name args" against the enabled
// user-invocable skills. Three outcomes:
//   - not a known command: (false, "") and the message flows on unchanged
//   - skill declares a dispatch tool: the tool runs and its output is the
//     reply, no model call
//   - plain skill: its body is appended to the system prompt and the
//     message (minus the command) continues through the agent
func (p *Pipeline) dispatchCommand(ctx context.Context, user *store.User, session *store.Session,
	in bus.IncomingMessage, threadKey, text string, bc *contextbuild.BuiltContext) (bool, string) {

	cmd, rest, ok := splitCommand(text)
	if !ok || p.skills == nil {
		return false, ""
	}

	skill, err := p.skills.GetByCommandName(ctx, cmd, user.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("pipeline.command_lookup_failed", "command", cmd, "error", err)
		}
		return false, ""
	}
	if !skill.UserInvocable {
		return false, ""
	}

	if skill.CommandDispatch == "tool" && skill.CommandTool != "" {
		toolCtx := tools.WithChannel(tools.WithSessionID(tools.WithUserID(ctx, user.ID), session.ID), in.Channel)
		result := p.registry.Execute(toolCtx, skill.CommandTool, map[string]any{
			"command": cmd,
			"input":   rest,
		})
		return true, result
	}

	// Prompt-backed skill: fold it into the system prompt for this turn.
	bc.System = bc.System + "\n\n" + skill.Body
	return false, ""
}

// splitCommand parses "/name args". Single-word slashes like "/" or
// paths like "/tmp/x" do not count.
func splitCommand(text string) (cmd, rest string, ok bool) {
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text[1:], " ")
	if head == "" || strings.ContainsAny(head, "/\\") {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(tail), true
}
