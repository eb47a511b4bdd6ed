package transport

import "context"

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateCallback    UpdateKind = "callback"
	UpdateChannelPost UpdateKind = "channel_post"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	IsPrivate    bool

	// Content describes what the message carries (text, document or media).
	Content Content

	ReplyTo *Message
	Forward *ForwardOrigin
}

// ForwardOrigin identifies the channel post a forwarded message came from.
type ForwardOrigin struct {
	ChatID    int64
	Username  string
	MessageID int
}

// ContentKind tags the Content variant.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentDocument ContentKind = "document"
	ContentMedia    ContentKind = "media"
)

// Content is the platform-neutral description of one archived message.
//
//	text:     Text is set
//	document: FileName is set (display name of the file)
//	media:    MediaType is set (photo, video, audio, voice, animation, sticker, video_note);
//	          FileName is set when the platform reports one
//
// Caption is empty when the message has none.
type Content struct {
	Kind      ContentKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	MediaType string      `json:"media_type,omitempty"`
	Caption   string      `json:"caption,omitempty"`
}

// IsLabeledFile reports whether the content carries a display file name.
func (c Content) IsLabeledFile() bool {
	return c.Kind == ContentDocument && c.FileName != ""
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// CopyOptions controls copyMessage.
//
// Caption nil keeps the source caption; a non-nil pointer replaces it (empty string strips it).
type CopyOptions struct {
	Caption            *string
	ParseMode          string
	Protected          bool
	ReplyMarkupAdapter any
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	Copy(ctx context.Context, to ChatTarget, from MessageRef, opt *CopyOptions) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	Pin(ctx context.Context, ref MessageRef) error

	// Username is the bot's own username (without @), used to build deep links.
	Username() string
}

// MarkupEditor is an optional interface for adapters that can replace the
// inline keyboard of a sent message.
type MarkupEditor interface {
	EditMarkup(ctx context.Context, ref MessageRef, markup any) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
