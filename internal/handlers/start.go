package handlers

import (
	"context"
	"errors"
	"time"

	"filegate/internal/link"
	kit "filegate/internal/transport"
	"filegate/internal/transport/telegram/router"
	logx "filegate/pkg/logx"
	"filegate/pkg/tgui"
)

const (
	TextBadLink        = "❌ This link is invalid."
	TextLinkRestricted = "⛔ File links are restricted to admins."
	TextStoreDown      = "⚠️ The file store is unavailable right now. Try again later."
	TextNoFiles        = "❌ No files found for this link."
	TextNotDelivered   = "❌ None of the files could be delivered."
)

// ExpiryNotice is the message sent next to delivered files when they expire.
func ExpiryNotice(d time.Duration) string {
	return "⚠️ Files will be deleted in " + tgui.Duration(d) + ". Save them elsewhere."
}

func welcome() tgui.Message {
	return tgui.New().
		Title("🤖", "Private File Bot").
		Blank().
		Line("Open a file link to receive its files here.").
		Line("Admins can send files to store them in the archive.").
		Inline(tgui.NewInline().Row(
			tgui.Btn("📖 Help", tgui.Data(cbPrefix, "help", "")),
			tgui.Btn("✖️ Close", tgui.Data(cbPrefix, "close", "")),
		)).
		Build()
}

func (h *Handlers) helpMessage(lvl router.Access) tgui.Message {
	h.mu.RLock()
	render := h.help
	h.mu.RUnlock()
	text := "📖 <b>Commands</b>"
	if render != nil {
		text = render(lvl, text)
	}
	return tgui.New().
		RawLine(text).
		Inline(tgui.NewInline().Row(
			tgui.Btn("⬅️ Back", tgui.Data(cbPrefix, "start", "")),
			tgui.Btn("✖️ Close", tgui.Data(cbPrefix, "close", "")),
		)).
		Build()
}

func (h *Handlers) cmdStart(ctx context.Context, req *router.Request) error {
	set := h.settings()
	if set.AutoRegister {
		if _, err := h.dir.AddUser(ctx, req.FromID); err != nil {
			req.Logger.Warn("user registration failed", logx.Err(err))
		}
	}
	// RawArgs: a token may begin with '-', which flag parsing would eat.
	if len(req.RawArgs) == 0 {
		h.sayHTML(ctx, req.Chat, welcome())
		return nil
	}
	if !set.PublicLinks && req.Level < router.AccessAdmin {
		h.met.LinkResolve("denied")
		h.say(ctx, req.Chat, TextLinkRestricted)
		return nil
	}
	return h.redeem(ctx, req, req.RawArgs[0])
}

// redeem resolves a token and delivers its files with a scheduled expiry.
func (h *Handlers) redeem(ctx context.Context, req *router.Request, token string) error {
	loc, err := h.codec.Decode(token)
	if err != nil {
		result := "malformed"
		if errors.Is(err, link.ErrInvalidLocator) {
			result = "invalid"
		}
		h.met.LinkResolve(result)
		req.Logger.Debug("link rejected", logx.String("result", result), logx.Err(err))
		h.say(ctx, req.Chat, TextBadLink)
		return nil
	}

	items, err := h.ret.Fetch(ctx, loc.IDs())
	if err != nil {
		h.met.LinkResolve("unavailable")
		h.say(ctx, req.Chat, TextStoreDown)
		return err
	}
	if len(items) == 0 {
		h.met.LinkResolve("empty")
		h.say(ctx, req.Chat, TextNoFiles)
		return nil
	}

	res := h.dlv.Deliver(ctx, items, req.Chat)
	if len(res.Delivered) == 0 {
		h.met.LinkResolve("undelivered")
		h.say(ctx, req.Chat, TextNotDelivered)
		return nil
	}
	h.met.LinkResolve("ok")
	req.Logger.Info("files delivered",
		logx.String("locator", loc.String()),
		logx.Int("delivered", len(res.Delivered)),
		logx.Int("skipped", res.Skipped),
	)

	ttl, err := h.dir.AutoDelete(ctx)
	if err != nil {
		req.Logger.Warn("auto-delete timer lookup failed; using default", logx.Err(err))
	}
	if ttl <= 0 {
		return nil
	}
	notice, err := h.ad.SendText(ctx, req.Chat, ExpiryNotice(ttl), nil)
	if err != nil {
		req.Logger.Warn("expiry notice failed", logx.Err(err))
		notice = kit.MessageRef{}
	}
	h.exp.Schedule(res.Delivered, notice, ttl)
	return nil
}

func (h *Handlers) cmdHelp(ctx context.Context, req *router.Request) error {
	h.sayHTML(ctx, req.Chat, h.helpMessage(req.Level))
	return nil
}

func callbackRef(req *router.Request) kit.MessageRef {
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID}
	if cb := req.Update.Callback; cb != nil {
		ref.MessageID = cb.MessageID
	}
	return ref
}

func (h *Handlers) cbHelp(ctx context.Context, req *router.Request, _ string) error {
	return h.helpMessage(req.Level).Edit(ctx, h.ad, callbackRef(req))
}

func (h *Handlers) cbStart(ctx context.Context, req *router.Request, _ string) error {
	return welcome().Edit(ctx, h.ad, callbackRef(req))
}

func (h *Handlers) cbClose(ctx context.Context, req *router.Request, _ string) error {
	return h.ad.Delete(ctx, callbackRef(req))
}
