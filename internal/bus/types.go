package bus

// IncomingMessage is the normalized inbound record every channel adapter
// produces, regardless of ingress mode (webhook or long-poll).
type IncomingMessage struct {
	ID           string            `json:"id"`                 // platform message ID
	Channel      string            `json:"channel"`            // adapter name ("telegram", "discord", ...)
	ChannelID    string            `json:"channel_id"`         // chat/channel locus on the platform
	SenderID     string            `json:"sender_id"`          // external sender identity
	SenderName   string            `json:"sender_name,omitempty"`
	Content      string            `json:"content"`
	IsDM         bool              `json:"is_dm"`
	ReplyTo      string            `json:"reply_to,omitempty"`
	ThreadID     string            `json:"thread_id,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	CallbackData string            `json:"callback_data,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Attachment is a media reference carried on an inbound message.
// Data may be inlined for small files; URL is used otherwise.
type Attachment struct {
	Kind        string `json:"kind"` // "image", "audio", "document"
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Data        []byte `json:"-"`
}

// OutgoingMessage is the normalized outbound record handed to adapters.
type OutgoingMessage struct {
	ChannelID  string            `json:"channel_id"`
	Content    string            `json:"content"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	ThreadID   string            `json:"thread_id,omitempty"`
	Keyboard   [][]Button        `json:"keyboard,omitempty"`
	Media      []MediaAttachment `json:"media,omitempty"`
	EditTarget string            `json:"edit_target,omitempty"` // message ID to edit instead of sending new
	VoiceNote  bool              `json:"voice_note,omitempty"`
}

// Button is one inline-keyboard button.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// MediaAttachment is a media file to send with a message.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}
