// Package discord connects to Discord via the gateway websocket.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/config"
)

// discordMessageLimit is Discord's per-message character cap.
const discordMessageLimit = 2000

// Adapter is the Discord channel.
type Adapter struct {
	session   *discordgo.Session
	cfg       config.DiscordConfig
	queue     *bus.Queue
	botUserID string
	removeFn  func()
}

func New(cfg config.DiscordConfig) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions

	return &Adapter{
		session: session,
		cfg:     cfg,
		queue:   bus.NewQueue(bus.DefaultQueueCapacity),
	}, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Capabilities() channels.CapabilitySet {
	return channels.Caps(
		channels.CapReactions,
		channels.CapMediaSend,
		channels.CapMessageEdit,
		channels.CapMessageDelete,
	)
}

func (a *Adapter) Queue() *bus.Queue { return a.queue }

// Connect opens the gateway session and resolves the bot identity.
func (a *Adapter) Connect(_ context.Context) error {
	a.removeFn = a.session.AddHandler(a.handleMessage)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID
	slog.Info("discord.connected", "username", user.Username, "id", user.ID)
	return nil
}

func (a *Adapter) Disconnect(_ context.Context) error {
	if a.removeFn != nil {
		a.removeFn()
	}
	return a.session.Close()
}

func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	isDM := m.GuildID == ""
	content := m.Content

	// Group messages need an @mention unless configured otherwise.
	if !isDM && a.cfg.RequireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == a.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		content = stripMention(content, a.botUserID)
	}

	in := bus.IncomingMessage{
		ID:         m.ID,
		Channel:    a.Name(),
		ChannelID:  m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: displayName(m),
		Content:    content,
		IsDM:       isDM,
	}
	if m.MessageReference != nil {
		in.ReplyTo = m.MessageReference.MessageID
	}
	for _, att := range m.Attachments {
		in.Attachments = append(in.Attachments, bus.Attachment{
			Kind:        attachmentKind(att.ContentType),
			URL:         att.URL,
			ContentType: att.ContentType,
			FileName:    att.Filename,
		})
	}

	if in.Content == "" && len(in.Attachments) == 0 {
		return
	}
	a.queue.Push(in)
}

// Send delivers a message, chunking at the 2000-character cap. Chunk
// boundaries prefer a newline and never split a code fence.
func (a *Adapter) Send(_ context.Context, msg *bus.OutgoingMessage) error {
	if msg.EditTarget != "" {
		_, err := a.session.ChannelMessageEdit(msg.ChannelID, msg.EditTarget,
			channels.Truncate(msg.Content, discordMessageLimit))
		if err != nil {
			return channels.Errf(a.Name(), "edit", err)
		}
		return nil
	}

	for _, m := range msg.Media {
		if _, err := a.session.ChannelMessageSend(msg.ChannelID, m.URL); err != nil {
			return channels.Errf(a.Name(), "send_media", err)
		}
	}
	if msg.Content == "" {
		return nil
	}

	first := true
	for _, chunk := range ChunkMessage(msg.Content, discordMessageLimit) {
		send := &discordgo.MessageSend{Content: chunk}
		if first && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChannelID,
			}
		}
		if _, err := a.session.ChannelMessageSendComplex(msg.ChannelID, send); err != nil {
			return channels.Errf(a.Name(), "send", err)
		}
		first = false
	}
	return nil
}

func (a *Adapter) SendTyping(_ context.Context, channelID string) error {
	if err := a.session.ChannelTyping(channelID); err != nil {
		return channels.Errf(a.Name(), "typing", err)
	}
	return nil
}

func (a *Adapter) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := a.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		return channels.Errf(a.Name(), "reaction", err)
	}
	return nil
}

func (a *Adapter) RemoveReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := a.session.MessageReactionRemove(channelID, messageID, emoji, "@me"); err != nil {
		return channels.Errf(a.Name(), "reaction", err)
	}
	return nil
}

// ChunkMessage splits content into pieces of at most maxLen, breaking
// at a newline when one exists past the midpoint. Fenced code blocks
// are kept intact by re-opening the fence in the next chunk.
func ChunkMessage(content string, maxLen int) []string {
	var chunks []string
	openFence := ""
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunk := content[:cutAt]
		content = content[cutAt:]

		// Track whether the cut landed inside a fence.
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if openFence == "" {
					openFence = strings.TrimSpace(line)
				} else {
					openFence = ""
				}
			}
		}
		if openFence != "" {
			chunk += "\n```"
			content = openFence + "\n" + content
			openFence = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func stripMention(content, botID string) string {
	for _, form := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}

// displayName prefers server nickname, then global name, then username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func attachmentKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}
