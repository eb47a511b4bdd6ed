package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"filegate/internal/link"
	"filegate/internal/retry"
	kit "filegate/internal/transport"
	"filegate/internal/transport/telegram/router"
	logx "filegate/pkg/logx"
	"filegate/pkg/tgui"
)

const (
	TextStoreFailed = "❌ Error storing file."
	TextNotArchived = "❌ That is not a post from the archive channel."
)

var errNoOrigin = errors.New("no archive post given")

// replyError is an error whose text is shown to the caller as is.
type replyError string

func (e replyError) Error() string { return string(e) }

// Store copies an admin's private message into the archival channel, indexes
// it and replies with its link.
func (h *Handlers) Store(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if msg == nil {
		return nil
	}
	if msg.Content.Kind == kit.ContentText && strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	start := time.Now()
	set := h.settings()

	from := kit.MessageRef{ChatID: msg.ChatID, ThreadID: msg.ThreadID, MessageID: msg.ID}
	out, _ := retry.Once(ctx, retry.Sleep, 0, func(ctx context.Context, _ int) retry.Outcome[kit.MessageRef] {
		ref, err := h.ad.Copy(ctx, kit.ChatTarget{ChatID: set.ChannelID}, from, nil)
		return retry.From(ref, err)
	})
	if out.Kind != retry.Success {
		err := out.Err
		h.say(ctx, req.Chat, TextStoreFailed)
		h.audit(ctx, req, start, "", err, nil)
		return fmt.Errorf("store: %w", err)
	}
	posted := out.Value

	indexErr := h.dir.PutArchive(ctx, posted.MessageID, msg.Content)
	if indexErr != nil {
		req.Logger.Warn("archive index write failed", logx.Int("msg_id", posted.MessageID), logx.Err(indexErr))
	}

	deep, err := h.deepLink(link.Single(int64(posted.MessageID)))
	if err != nil {
		h.say(ctx, req.Chat, TextStoreFailed)
		h.audit(ctx, req, start, strconv.Itoa(posted.MessageID), err, nil)
		return err
	}
	b := tgui.New().Title("✅", "File Stored").Blank().
		RawLine(tgui.B("Link:").String() + " " + tgui.Code(deep).String())
	if indexErr != nil {
		b.Blank().Line("⚠️ The archive index could not be updated; the link may not resolve yet.")
	}
	h.markPost(ctx, posted, deep)
	h.sayHTML(ctx, req.Chat, b.Inline(shareKeyboard(deep)).Build())
	h.audit(ctx, req, start, strconv.Itoa(posted.MessageID), indexErr, map[string]any{"kind": msg.Content.Kind})
	return nil
}

// ChannelPost indexes posts published directly in the archival channel and
// attaches their Share button.
func (h *Handlers) ChannelPost(ctx context.Context, msg *kit.Message) {
	if msg == nil || msg.ChatID != h.settings().ChannelID {
		return
	}
	if err := h.dir.PutArchive(ctx, msg.ID, msg.Content); err != nil {
		h.log.Warn("channel post index failed", logx.Int("msg_id", msg.ID), logx.Err(err))
		return
	}
	h.log.Debug("channel post indexed", logx.Int("msg_id", msg.ID), logx.String("kind", string(msg.Content.Kind)))

	deep, err := h.deepLink(link.Single(int64(msg.ID)))
	if err != nil {
		h.log.Warn("channel post link failed", logx.Int("msg_id", msg.ID), logx.Err(err))
		return
	}
	h.markPost(ctx, kit.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}, deep)
}

// markPost puts the Share button on an archived post. Editing needs the
// "edit messages" right in the channel; a failure only costs the button.
func (h *Handlers) markPost(ctx context.Context, post kit.MessageRef, deep string) {
	if !h.settings().ChannelButton {
		return
	}
	ed, ok := h.ad.(kit.MarkupEditor)
	if !ok {
		return
	}
	if err := ed.EditMarkup(ctx, post, shareKeyboard(deep).Markup()); err != nil {
		h.log.Debug("channel button failed", logx.Int("msg_id", post.MessageID), logx.Err(err))
	}
}

func shareKeyboard(deep string) *tgui.Inline {
	return tgui.NewInline().Row(tgui.URLBtn("🔗 Share", link.ShareURL(deep)))
}

func (h *Handlers) deepLink(loc link.Locator) (string, error) {
	token, err := h.codec.Encode(loc)
	if err != nil {
		return "", err
	}
	return link.DeepLink(h.settings().LinkHost, h.ad.Username(), token), nil
}

// originID resolves an archive message id from a forwarded channel post.
func (h *Handlers) originID(m *kit.Message) (int, bool) {
	if m == nil || m.Forward == nil || m.Forward.MessageID <= 0 {
		return 0, false
	}
	set := h.settings()
	if m.Forward.ChatID == set.ChannelID {
		return m.Forward.MessageID, true
	}
	if m.Forward.ChatID == 0 && set.ChannelUsername != "" &&
		strings.EqualFold(m.Forward.Username, strings.TrimPrefix(set.ChannelUsername, "@")) {
		return m.Forward.MessageID, true
	}
	return 0, false
}

// parseRef resolves a post link or bare id against the archival channel.
func (h *Handlers) parseRef(s string) (int, bool) {
	set := h.settings()
	return link.ParseMessageLink(s, link.Channel{ID: set.ChannelID, Username: set.ChannelUsername})
}

// refs collects archive ids from the replied forward followed by args.
func (h *Handlers) refs(req *router.Request) ([]int, error) {
	var ids []int
	if req.Message != nil && req.Message.ReplyTo != nil {
		id, ok := h.originID(req.Message.ReplyTo)
		if !ok {
			return nil, replyError(TextNotArchived)
		}
		ids = append(ids, id)
	}
	for _, a := range req.RawArgs {
		id, ok := h.parseRef(a)
		if !ok {
			return nil, replyError(fmt.Sprintf("❌ %q is not an archive post link.", a))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errNoOrigin
	}
	return ids, nil
}

func (h *Handlers) cmdGenLink(ctx context.Context, req *router.Request) error {
	start := time.Now()
	ids, err := h.refs(req)
	switch {
	case errors.Is(err, errNoOrigin):
		h.say(ctx, req.Chat, "Reply to a forwarded archive post or pass its link: /genlink <post link|id>")
		return nil
	case err != nil:
		h.say(ctx, req.Chat, err.Error())
		return nil
	}
	deep, err := h.deepLink(link.Single(int64(ids[0])))
	if err != nil {
		h.say(ctx, req.Chat, "❌ "+err.Error())
		return nil
	}
	h.sayHTML(ctx, req.Chat, tgui.New().
		Title("🔗", "File Link").
		Code(deep).
		Inline(shareKeyboard(deep)).
		Build())
	h.audit(ctx, req, start, strconv.Itoa(ids[0]), nil, nil)
	return nil
}

func (h *Handlers) cmdBatch(ctx context.Context, req *router.Request) error {
	start := time.Now()
	ids, err := h.refs(req)
	switch {
	case errors.Is(err, errNoOrigin) || (err == nil && len(ids) != 2):
		h.say(ctx, req.Chat, "Usage: /batch <first> <last> (post links or ids), or reply to the first post and pass the last.")
		return nil
	case err != nil:
		h.say(ctx, req.Chat, err.Error())
		return nil
	}
	loc := link.Span(int64(ids[0]), int64(ids[1]))
	deep, err := h.deepLink(loc)
	if err != nil {
		h.say(ctx, req.Chat, "❌ "+err.Error())
		return nil
	}
	h.sayHTML(ctx, req.Chat, tgui.New().
		Title("🔗", "Batch Link").
		Line(tgui.Count(loc.Len())+" posts, "+strconv.Itoa(ids[0])+" to "+strconv.Itoa(ids[1])).
		Code(deep).
		Inline(shareKeyboard(deep)).
		Build())
	h.audit(ctx, req, start, loc.String(), nil, nil)
	return nil
}
