// Package pipeline orchestrates one inbound message end to end: pairing,
// hooks, persistence, context build, the tool loop, delivery, and events.
// One pipeline instance consumes one adapter's queue.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/compact"
	"github.com/nextlevelbuilder/beacon/internal/contextbuild"
	"github.com/nextlevelbuilder/beacon/internal/events"
	"github.com/nextlevelbuilder/beacon/internal/hooks"
	"github.com/nextlevelbuilder/beacon/internal/pairing"
	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/store"
	"github.com/nextlevelbuilder/beacon/internal/tools"
)

// maxTurns bounds the tool loop per inbound message.
const maxTurns = 10

const apologyText = "Sorry, something went wrong while processing that. Please try again."

// Options tunes per-pipeline behavior.
type Options struct {
	PersonaID     string
	Model         string
	MaxTokens     int
	Temperature   float64
	ReactionLevel string // "off" | "ack" | "full"
	AckEmoji      string
	DoneEmoji     string
}

func (o *Options) applyDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.ReactionLevel == "" {
		o.ReactionLevel = "ack"
	}
	if o.AckEmoji == "" {
		o.AckEmoji = "👀"
	}
	if o.DoneEmoji == "" {
		o.DoneEmoji = "👍"
	}
}

// Pipeline processes messages from a single adapter.
type Pipeline struct {
	adapter     channels.Adapter
	users       *store.UserRepo
	sessions    *store.SessionRepo
	messages    *store.MessageRepo
	skills      *store.SkillRepo
	builder     *contextbuild.Builder
	provider    providers.Provider
	registry    *tools.Registry
	gate        *pairing.Gate
	hooks       *hooks.Manager
	events      *events.Publisher // nil-safe
	compactor   *compact.Compactor
	attachments AttachmentProcessor
	opts        Options
}

func New(adapter channels.Adapter, st *store.Store, builder *contextbuild.Builder,
	provider providers.Provider, registry *tools.Registry, gate *pairing.Gate,
	hookMgr *hooks.Manager, pub *events.Publisher, compactor *compact.Compactor,
	attachments AttachmentProcessor, opts Options) *Pipeline {
	opts.applyDefaults()
	if hookMgr == nil {
		hookMgr = hooks.NewManager()
	}
	return &Pipeline{
		adapter:     adapter,
		users:       st.Users,
		sessions:    st.Sessions,
		messages:    st.Messages,
		skills:      st.Skills,
		builder:     builder,
		provider:    provider,
		registry:    registry,
		gate:        gate,
		hooks:       hookMgr,
		events:      pub,
		compactor:   compactor,
		attachments: attachments,
		opts:        opts,
	}
}

// Run consumes the adapter's queue until ctx is canceled. Messages within
// one adapter process strictly in arrival order.
func (p *Pipeline) Run(ctx context.Context) {
	slog.Info("pipeline.started", "channel", p.adapter.Name())
	for {
		in, ok := p.adapter.Queue().Pop(ctx)
		if !ok {
			slog.Info("pipeline.stopped", "channel", p.adapter.Name())
			return
		}
		p.Process(ctx, in)
	}
}

// Process runs one inbound message through the full pipeline. Every stage
// is individually error-isolated: a failure aborts only this message.
func (p *Pipeline) Process(ctx context.Context, in bus.IncomingMessage) {
	// Pairing gates DMs only; group admission is the mention gate's job.
	if in.IsDM && p.gate != nil {
		decision, err := p.gate.Check(ctx, in.SenderID, in.Channel, in.Content, p.notify(in.ChannelID))
		if err != nil {
			slog.Error("pipeline.pairing_failed", "channel", in.Channel, "sender", in.SenderID, "error", err)
			return
		}
		if decision != pairing.Allowed {
			return
		}
	}

	hookEv := hooks.Event{Channel: in.Channel, SenderID: in.SenderID, Content: in.Content}
	if res := p.hooks.Dispatch(ctx, hooks.MessageReceived, hookEv); res.SkipProcessing {
		p.send(ctx, in, res.Reply)
		return
	}

	user, err := p.users.FindOrCreate(ctx, userKey(in))
	if err != nil {
		slog.Error("pipeline.user_resolve_failed", "sender", in.SenderID, "error", err)
		return
	}
	session, created, err := p.sessions.FindOrCreate(ctx, user.ID, in.Channel, in.ChannelID, p.opts.PersonaID)
	if err != nil {
		slog.Error("pipeline.session_resolve_failed", "channel", in.Channel, "error", err)
		return
	}
	if created {
		p.publish(events.TypeConversationStarted, session.ID, map[string]any{
			"channel": in.Channel, "channel_id": in.ChannelID, "user_id": user.ID,
		})
	}

	threadKey := threadKey(in)
	if _, err := p.messages.Add(ctx, session.ID, "user", in.Content, threadKey); err != nil {
		slog.Error("pipeline.persist_inbound_failed", "session", session.ID, "error", err)
		return
	}

	p.publish(events.TypeMessageReceived, session.ID, map[string]any{
		"channel": in.Channel, "sender_id": in.SenderID, "length": len(in.Content),
	})
	p.ackReaction(ctx, in)

	// Attachment text joins the user message before the context is built,
	// so memory and knowledge retrieval see it too.
	augmented := p.processAttachments(ctx, in)

	var threadPtr *string
	if threadKey != "" {
		threadPtr = &threadKey
	}
	bc, err := p.builder.Build(ctx, session, user, augmented, threadPtr)
	if err != nil {
		slog.Error("pipeline.context_build_failed", "session", session.ID, "error", err)
		return
	}

	hookEv.SessionID = session.ID
	hookEv.Content = augmented
	if res := p.hooks.Dispatch(ctx, hooks.BeforeAgent, hookEv); res.SkipAgent {
		if res.Reply != "" {
			p.send(ctx, in, res.Reply)
			p.persistAssistant(ctx, session.ID, res.Reply, threadKey)
		}
		return
	}

	// Slash commands short-circuit the agent when the skill dispatches
	// through a tool; otherwise the skill body joins the system prompt.
	if handled, reply := p.dispatchCommand(ctx, user, session, in, threadKey, augmented, bc); handled {
		if reply != "" {
			p.send(ctx, in, reply)
			p.persistAssistant(ctx, session.ID, reply, threadKey)
		}
		return
	}

	if err := p.adapter.SendTyping(ctx, in.ChannelID); err != nil {
		slog.Debug("pipeline.typing_failed", "channel", in.Channel, "error", err)
	}

	loopOut, err := p.runToolLoop(ctx, in, session, bc, augmented)
	if err != nil {
		slog.Error("pipeline.inference_failed", "session", session.ID, "error", err)
		p.send(ctx, in, apologyText)
		return
	}
	final := loopOut.content

	hookEv.Response = final
	if res := p.hooks.Dispatch(ctx, hooks.AfterAgent, hookEv); res.ModifiedResponse != "" {
		final = res.ModifiedResponse
	}

	p.persistAssistant(ctx, session.ID, final, threadKey)

	if loopOut.streamMessageID != "" {
		sa := p.adapter.(channels.StreamingAdapter)
		if err := sa.SendStreamingEnd(ctx, in.ChannelID, loopOut.streamMessageID, final); err != nil {
			slog.Error("pipeline.stream_end_failed", "session", session.ID, "error", err)
		}
	} else {
		p.send(ctx, in, final)
	}

	p.doneReaction(ctx, in)

	p.publish(events.TypeMessageProcessed, session.ID, map[string]any{
		"channel": in.Channel, "turns": loopOut.turns, "length": len(final),
	})
	p.publish(events.TypeConversationEnded, session.ID, map[string]any{"channel": in.Channel})

	p.maybeCompact(ctx, session, user)
}

// notify adapts the adapter's send into the pairing gate's callback.
func (p *Pipeline) notify(channelID string) pairing.Notify {
	return func(ctx context.Context, text string) error {
		return p.adapter.Send(ctx, &bus.OutgoingMessage{ChannelID: channelID, Content: text})
	}
}

func (p *Pipeline) send(ctx context.Context, in bus.IncomingMessage, content string) {
	if content == "" {
		return
	}
	out := &bus.OutgoingMessage{
		ChannelID: in.ChannelID,
		Content:   content,
		ReplyTo:   in.ID,
		ThreadID:  in.ThreadID,
	}
	if err := p.adapter.Send(ctx, out); err != nil {
		slog.Error("pipeline.send_failed", "channel", in.Channel, "error", err)
	}
}

func (p *Pipeline) persistAssistant(ctx context.Context, sessionID, content, threadKey string) {
	if content == "" {
		return
	}
	if _, err := p.messages.Add(ctx, sessionID, "assistant", content, threadKey); err != nil {
		slog.Error("pipeline.persist_outbound_failed", "session", sessionID, "error", err)
	}
}

func (p *Pipeline) ackReaction(ctx context.Context, in bus.IncomingMessage) {
	if p.opts.ReactionLevel == "off" || !p.adapter.Capabilities().Has(channels.CapReactions) {
		return
	}
	if err := p.adapter.AddReaction(ctx, in.ChannelID, in.ID, p.opts.AckEmoji); err != nil {
		slog.Debug("pipeline.ack_reaction_failed", "channel", in.Channel, "error", err)
	}
}

func (p *Pipeline) doneReaction(ctx context.Context, in bus.IncomingMessage) {
	if p.opts.ReactionLevel != "full" || !p.adapter.Capabilities().Has(channels.CapReactions) {
		return
	}
	if err := p.adapter.AddReaction(ctx, in.ChannelID, in.ID, p.opts.DoneEmoji); err != nil {
		slog.Debug("pipeline.done_reaction_failed", "channel", in.Channel, "error", err)
	}
}

func (p *Pipeline) processAttachments(ctx context.Context, in bus.IncomingMessage) string {
	text := in.Content
	if p.attachments == nil {
		return text
	}
	for _, att := range in.Attachments {
		desc, err := p.attachments.Process(ctx, att)
		if err != nil {
			slog.Warn("pipeline.attachment_failed", "kind", att.Kind, "error", err)
			continue
		}
		if desc == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += desc
	}
	return text
}

func (p *Pipeline) maybeCompact(ctx context.Context, session *store.Session, user *store.User) {
	if p.compactor == nil {
		return
	}
	should, err := p.compactor.ShouldCompact(ctx, session.ID)
	if err != nil || !should {
		return
	}
	if _, err := p.compactor.Compact(ctx, session.ID, user.ID, session.Channel); err != nil {
		slog.Warn("pipeline.compact_failed", "session", session.ID, "error", err)
	}
}

func (p *Pipeline) publish(eventType, subject string, data map[string]any) {
	if p.events != nil {
		p.events.Publish(eventType, subject, data)
	}
}

// userKey derives the stable user identity from the platform sender.
func userKey(in bus.IncomingMessage) string {
	return in.Channel + ":" + in.SenderID
}

// threadKey picks the platform thread identifier: an explicit thread wins,
// a reply chain otherwise, root-level when neither exists.
func threadKey(in bus.IncomingMessage) string {
	if in.ThreadID != "" {
		return in.ThreadID
	}
	return in.ReplyTo
}

func toolSucceeded(result string) bool {
	return !strings.HasPrefix(result, "Error: ")
}
