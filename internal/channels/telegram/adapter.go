// Package telegram connects to the Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/config"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

// editMinInterval spaces streaming edits so Telegram's per-chat edit
// quota survives long responses.
const editMinInterval = 1500 * time.Millisecond

// Adapter is the Telegram channel, long-poll ingress only.
type Adapter struct {
	bot    *telego.Bot
	cfg    config.TelegramConfig
	queue  *bus.Queue
	edits  *channels.EditRateLimiter
	groups *store.GroupConfigRepo // nil = no per-group overrides

	mu           sync.Mutex
	seenUpdates  map[int]bool
	lastUpdateID int

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, groups *store.GroupConfigRepo) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{
		bot:         bot,
		cfg:         cfg,
		groups:      groups,
		queue:       bus.NewQueue(bus.DefaultQueueCapacity),
		edits:       channels.NewEditRateLimiter(editMinInterval),
		seenUpdates: make(map[int]bool),
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Capabilities() channels.CapabilitySet {
	caps := channels.Caps(
		channels.CapReactions,
		channels.CapInlineKeyboards,
		channels.CapMediaSend,
		channels.CapMessageEdit,
		channels.CapMessageDelete,
		channels.CapForumTopics,
		channels.CapStickers,
	)
	if a.cfg.StreamMode == "partial" {
		caps[channels.CapStreaming] = true
	}
	return caps
}

func (a *Adapter) Queue() *bus.Queue { return a.queue }

// Connect clears any registered webhook and starts the long-poll loop.
func (a *Adapter) Connect(ctx context.Context) error {
	// A leftover webhook blocks getUpdates.
	if err := a.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{}); err != nil {
		slog.Warn("telegram.delete_webhook_failed", "error", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram.connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram.updates_closed")
					return
				}
				a.handleUpdate(pollCtx, update)
			}
		}
	}()
	return nil
}

// Disconnect cancels polling and waits for the loop to exit, so Telegram
// releases the getUpdates lock before another instance starts.
func (a *Adapter) Disconnect(_ context.Context) error {
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram.poll_exit_timeout")
		}
	}
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, update telego.Update) {
	if a.isDuplicate(update.UpdateID) {
		return
	}

	if update.CallbackQuery != nil {
		a.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}
	msg := update.Message
	if msg.From == nil {
		return
	}

	isDM := msg.Chat.Type == telego.ChatTypePrivate
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	if !isDM {
		kept, ok := a.passesMentionGate(ctx, msg, content)
		if !ok {
			return
		}
		content = kept
	}

	in := bus.IncomingMessage{
		ID:         strconv.Itoa(msg.MessageID),
		Channel:    a.Name(),
		ChannelID:  strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		SenderName: senderName(msg.From),
		Content:    content,
		IsDM:       isDM,
	}
	if msg.ReplyToMessage != nil {
		in.ReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	if msg.MessageThreadID != 0 && msg.IsTopicMessage {
		in.ThreadID = strconv.Itoa(msg.MessageThreadID)
	}
	a.collectAttachments(ctx, msg, &in)

	if in.Content == "" && len(in.Attachments) == 0 {
		return
	}
	a.queue.Push(in)
}

func (a *Adapter) handleCallback(cq *telego.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	chat := cq.Message.GetChat()
	a.queue.Push(bus.IncomingMessage{
		ID:           cq.ID,
		Channel:      a.Name(),
		ChannelID:    strconv.FormatInt(chat.ID, 10),
		SenderID:     strconv.FormatInt(cq.From.ID, 10),
		SenderName:   senderName(&cq.From),
		IsDM:         chat.Type == telego.ChatTypePrivate,
		CallbackData: cq.Data,
	})
}

// passesMentionGate decides whether a group message addresses the bot,
// returning the content with the mention stripped. A reply to one of
// the bot's own messages always passes.
func (a *Adapter) passesMentionGate(ctx context.Context, msg *telego.Message, content string) (string, bool) {
	require := a.cfg.RequireMention
	if a.groups != nil {
		if gc, err := a.groups.Get(ctx, strconv.FormatInt(msg.Chat.ID, 10)); err == nil {
			if !gc.Enabled {
				return "", false
			}
			if gc.RequireMention != nil {
				require = *gc.RequireMention
			}
		}
	}

	mention := "@" + a.bot.Username()
	mentioned := strings.Contains(content, mention)
	repliedToBot := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.Username == a.bot.Username()

	if require && !mentioned && !repliedToBot {
		return "", false
	}
	if mentioned {
		content = strings.TrimSpace(strings.ReplaceAll(content, mention, ""))
	}
	return content, true
}

func (a *Adapter) collectAttachments(ctx context.Context, msg *telego.Message, in *bus.IncomingMessage) {
	var fileID, kind, name string
	switch {
	case len(msg.Photo) > 0:
		// Largest rendition is last.
		fileID, kind = msg.Photo[len(msg.Photo)-1].FileID, "image"
	case msg.Voice != nil:
		fileID, kind = msg.Voice.FileID, "audio"
	case msg.Audio != nil:
		fileID, kind = msg.Audio.FileID, "audio"
	case msg.Document != nil:
		fileID, kind, name = msg.Document.FileID, "document", msg.Document.FileName
	default:
		return
	}

	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		slog.Warn("telegram.get_file_failed", "error", err)
		return
	}
	in.Attachments = append(in.Attachments, bus.Attachment{
		Kind:     kind,
		URL:      a.bot.FileDownloadURL(file.FilePath),
		FileName: name,
	})
}

// isDuplicate tracks recent update IDs; Telegram redelivers on poll
// restarts. The set is bounded by pruning everything older than the
// max once it grows large.
func (a *Adapter) isDuplicate(updateID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seenUpdates[updateID] {
		return true
	}
	a.seenUpdates[updateID] = true
	if updateID > a.lastUpdateID {
		a.lastUpdateID = updateID
	}
	if len(a.seenUpdates) > 1024 {
		for id := range a.seenUpdates {
			if id < a.lastUpdateID-512 {
				delete(a.seenUpdates, id)
			}
		}
	}
	return false
}

func senderName(u *telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func parseChatID(chatID string) (int64, error) {
	return strconv.ParseInt(chatID, 10, 64)
}
