package adapter

import (
	"encoding/json"

	tele "gopkg.in/telebot.v4"

	kit "filegate/internal/transport"
)

func convertMessage(m *tele.Message) *kit.Message {
	if m == nil {
		return nil
	}
	out := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		Content:  contentOf(m),
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.IsPrivate = m.Chat.Type == tele.ChatPrivate
		out.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	if m.ReplyTo != nil {
		out.ReplyTo = convertMessage(m.ReplyTo)
	}
	if raw, err := json.Marshal(m); err == nil {
		out.Forward = forwardFromJSON(raw)
	}
	return out
}

// contentOf classifies m. Documents win over the generic media kinds.
func contentOf(m *tele.Message) kit.Content {
	media := func(kind, name string) kit.Content {
		return kit.Content{Kind: kit.ContentMedia, MediaType: kind, FileName: name, Caption: m.Caption}
	}
	switch {
	case m.Document != nil:
		return kit.Content{Kind: kit.ContentDocument, FileName: m.Document.FileName, Caption: m.Caption}
	case m.Video != nil:
		return media("video", m.Video.FileName)
	case m.Audio != nil:
		return media("audio", m.Audio.FileName)
	case m.Animation != nil:
		return media("animation", m.Animation.FileName)
	case m.Photo != nil:
		return media("photo", "")
	case m.Voice != nil:
		return media("voice", "")
	case m.VideoNote != nil:
		return media("video_note", "")
	case m.Sticker != nil:
		return media("sticker", "")
	}
	return kit.Content{Kind: kit.ContentText, Text: m.Text}
}

// forwardFromJSON reads the channel origin of a forwarded message. Both the
// forward_origin object and the legacy forward_from_chat fields are accepted.
func forwardFromJSON(raw []byte) *kit.ForwardOrigin {
	type chat struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	var v struct {
		Origin *struct {
			Type      string `json:"type"`
			Chat      *chat  `json:"chat"`
			MessageID int    `json:"message_id"`
		} `json:"forward_origin"`
		FromChat  *chat `json:"forward_from_chat"`
		MessageID int   `json:"forward_from_message_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if o := v.Origin; o != nil && o.Type == "channel" && o.Chat != nil {
		return &kit.ForwardOrigin{ChatID: o.Chat.ID, Username: o.Chat.Username, MessageID: o.MessageID}
	}
	if v.FromChat != nil && v.MessageID > 0 {
		return &kit.ForwardOrigin{ChatID: v.FromChat.ID, Username: v.FromChat.Username, MessageID: v.MessageID}
	}
	return nil
}
