package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/channels"
)

// telegramMessageLimit is the Bot API text length cap.
const telegramMessageLimit = 4096

// Send delivers one outbound message. Code blocks render as HTML <pre>
// segments; when Telegram rejects the HTML entities, the send retries
// once as plain text.
func (a *Adapter) Send(ctx context.Context, msg *bus.OutgoingMessage) error {
	chatID, err := parseChatID(msg.ChannelID)
	if err != nil {
		return channels.Errf(a.Name(), "send", fmt.Errorf("bad chat id %q: %w", msg.ChannelID, err))
	}

	if msg.EditTarget != "" {
		return a.editMessage(ctx, chatID, msg.EditTarget, msg.Content)
	}

	if len(msg.Media) > 0 {
		if err := a.sendMedia(ctx, chatID, msg); err != nil {
			return err
		}
		if msg.Content == "" {
			return nil
		}
	}

	text, parseMode := renderHTML(msg)
	params := &telego.SendMessageParams{
		ChatID:    tu.ID(chatID),
		Text:      channels.Truncate(text, telegramMessageLimit),
		ParseMode: parseMode,
	}
	if msg.ReplyTo != "" {
		if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
		}
	}
	if msg.ThreadID != "" {
		if threadID, err := strconv.Atoi(msg.ThreadID); err == nil && threadID > 1 {
			params.MessageThreadID = threadID
		}
	}
	if len(msg.Keyboard) > 0 {
		params.ReplyMarkup = keyboard(msg.Keyboard)
	}

	_, err = a.bot.SendMessage(ctx, params)
	if err != nil && parseMode != "" && isParseError(err) {
		params.ParseMode = ""
		params.Text = channels.Truncate(msg.Content, telegramMessageLimit)
		_, err = a.bot.SendMessage(ctx, params)
	}
	if err != nil {
		return channels.Errf(a.Name(), "send", err)
	}
	return nil
}

func (a *Adapter) sendMedia(ctx context.Context, chatID int64, msg *bus.OutgoingMessage) error {
	for _, m := range msg.Media {
		var err error
		switch {
		case strings.HasPrefix(m.ContentType, "image/"):
			_, err = a.bot.SendPhoto(ctx, &telego.SendPhotoParams{
				ChatID:  tu.ID(chatID),
				Photo:   telego.InputFile{URL: m.URL},
				Caption: m.Caption,
			})
		case msg.VoiceNote && strings.HasPrefix(m.ContentType, "audio/"):
			_, err = a.bot.SendVoice(ctx, &telego.SendVoiceParams{
				ChatID: tu.ID(chatID),
				Voice:  telego.InputFile{URL: m.URL},
			})
		default:
			_, err = a.bot.SendDocument(ctx, &telego.SendDocumentParams{
				ChatID:   tu.ID(chatID),
				Document: telego.InputFile{URL: m.URL},
				Caption:  m.Caption,
			})
		}
		if err != nil {
			return channels.Errf(a.Name(), "send_media", err)
		}
	}
	return nil
}

func (a *Adapter) editMessage(ctx context.Context, chatID int64, messageID, text string) error {
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return channels.Errf(a.Name(), "edit", fmt.Errorf("bad message id %q: %w", messageID, err))
	}
	_, err = a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Text:      channels.Truncate(text, telegramMessageLimit),
	})
	if err != nil {
		if isNotModified(err) {
			return nil
		}
		return channels.Errf(a.Name(), "edit", err)
	}
	return nil
}

// SendTyping shows the "typing..." chat action.
func (a *Adapter) SendTyping(ctx context.Context, channelID string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return channels.Errf(a.Name(), "typing", err)
	}
	if err := a.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil {
		return channels.Errf(a.Name(), "typing", err)
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return a.setReaction(ctx, channelID, messageID, []telego.ReactionType{
		&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
	})
}

func (a *Adapter) RemoveReaction(ctx context.Context, channelID, messageID, _ string) error {
	return a.setReaction(ctx, channelID, messageID, nil)
}

func (a *Adapter) setReaction(ctx context.Context, channelID, messageID string, reaction []telego.ReactionType) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return channels.Errf(a.Name(), "reaction", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return channels.Errf(a.Name(), "reaction", err)
	}
	if err := a.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Reaction:  reaction,
	}); err != nil {
		return channels.Errf(a.Name(), "reaction", err)
	}
	return nil
}

// SendStreamingStart posts the placeholder that later updates edit.
func (a *Adapter) SendStreamingStart(ctx context.Context, channelID, threadID string) (string, error) {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return "", channels.Errf(a.Name(), "stream_start", err)
	}
	params := tu.Message(tu.ID(chatID), "…")
	if threadID != "" {
		if tid, err := strconv.Atoi(threadID); err == nil && tid > 1 {
			params.MessageThreadID = tid
		}
	}
	sent, err := a.bot.SendMessage(ctx, params)
	if err != nil {
		return "", channels.Errf(a.Name(), "stream_start", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendStreamingUpdate edits the placeholder under the per-chat rate
// limiter. Throttled updates are skipped silently; the next allowed
// edit carries the accumulated text anyway.
func (a *Adapter) SendStreamingUpdate(ctx context.Context, channelID, messageID, text string) error {
	if !a.edits.Check(channelID) {
		return nil
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		return channels.Errf(a.Name(), "stream_update", err)
	}
	if err := a.editMessage(ctx, chatID, messageID, text); err != nil {
		if isThrottled(err) {
			a.edits.Backoff(channelID)
			return nil
		}
		return err
	}
	return nil
}

// SendStreamingEnd writes the final text, with HTML rendering and the
// plain-text fallback.
func (a *Adapter) SendStreamingEnd(ctx context.Context, channelID, messageID, text string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return channels.Errf(a.Name(), "stream_end", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return channels.Errf(a.Name(), "stream_end", err)
	}

	final := &bus.OutgoingMessage{ChannelID: channelID, Content: text}
	rendered, parseMode := renderHTML(final)
	_, err = a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Text:      channels.Truncate(rendered, telegramMessageLimit),
		ParseMode: parseMode,
	})
	if err != nil && parseMode != "" && isParseError(err) {
		_, err = a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(chatID),
			MessageID: msgID,
			Text:      channels.Truncate(text, telegramMessageLimit),
		})
	}
	if err != nil {
		if isNotModified(err) {
			return nil
		}
		return channels.Errf(a.Name(), "stream_end", err)
	}
	return nil
}

// renderHTML converts the message into Telegram HTML when it carries
// code blocks or markdown emphasis; plain text stays plain.
func renderHTML(msg *bus.OutgoingMessage) (string, string) {
	if !msg.HasCodeBlocks() && !msg.HasMarkdown() {
		return msg.Content, ""
	}

	var sb strings.Builder
	for _, seg := range msg.SplitSegments() {
		if seg.IsCode {
			sb.WriteString("<pre>")
			if seg.Lang != "" {
				sb.WriteString(`<code class="language-` + html.EscapeString(seg.Lang) + `">`)
				sb.WriteString(html.EscapeString(seg.Text))
				sb.WriteString("</code>")
			} else {
				sb.WriteString(html.EscapeString(seg.Text))
			}
			sb.WriteString("</pre>")
			continue
		}
		sb.WriteString(inlineHTML(seg.Text))
	}
	return sb.String(), "HTML"
}

// inlineHTML escapes text and maps the markdown subset Telegram users
// actually see: **bold** and `inline code`.
func inlineHTML(text string) string {
	escaped := html.EscapeString(text)
	escaped = replacePairs(escaped, "**", "<b>", "</b>")
	escaped = replacePairs(escaped, "`", "<code>", "</code>")
	return escaped
}

// replacePairs swaps each balanced pair of delim for open/close tags.
// An unbalanced trailing delimiter stays literal.
func replacePairs(s, delim, openTag, closeTag string) string {
	parts := strings.Split(s, delim)
	if len(parts) < 3 {
		return s
	}
	var sb strings.Builder
	for i, part := range parts {
		if i == 0 {
			sb.WriteString(part)
			continue
		}
		if i%2 == 1 && i+1 < len(parts) {
			sb.WriteString(openTag)
			sb.WriteString(part)
			sb.WriteString(closeTag)
		} else if i%2 == 0 {
			sb.WriteString(part)
		} else {
			sb.WriteString(delim)
			sb.WriteString(part)
		}
	}
	return sb.String()
}

func keyboard(rows [][]bus.Button) *telego.InlineKeyboardMarkup {
	markup := &telego.InlineKeyboardMarkup{}
	for _, row := range rows {
		var btns []telego.InlineKeyboardButton
		for _, b := range row {
			btns = append(btns, telego.InlineKeyboardButton{Text: b.Label, CallbackData: b.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, btns)
	}
	return markup
}

func isParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't parse entities")
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func isThrottled(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Too Many Requests")
}
