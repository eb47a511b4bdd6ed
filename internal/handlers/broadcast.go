package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"filegate/internal/broadcast"
	kit "filegate/internal/transport"
	"filegate/internal/transport/telegram/router"
	logx "filegate/pkg/logx"
	"filegate/pkg/tgui"
)

const (
	MinAutoDeleteBroadcast = 10 * time.Second
	MaxAutoDeleteBroadcast = 24 * time.Hour
)

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

func (h *Handlers) broadcastCmd(mode broadcast.Mode) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if req.Message == nil || req.Message.ReplyTo == nil {
			h.say(ctx, req.Chat, "❌ Reply to the message you want to broadcast.")
			return nil
		}
		var ttl time.Duration
		if mode == broadcast.AutoDelete {
			d, ok := parseBroadcastTTL(req.Args)
			if !ok {
				h.say(ctx, req.Chat, "Usage: /dbroadcast <seconds> (10 to 86400), replying to the message.")
				return nil
			}
			ttl = d
		}
		src := req.Message.ReplyTo
		return h.startBroadcast(ctx, req, broadcast.Request{
			Name:       req.Command + ":" + req.ReqID,
			Source:     kit.MessageRef{ChatID: src.ChatID, ThreadID: src.ThreadID, MessageID: src.ID},
			Mode:       mode,
			AutoDelete: ttl,
		})
	}
}

func parseBroadcastTTL(args []string) (time.Duration, bool) {
	if len(args) == 0 {
		return 0, false
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d < MinAutoDeleteBroadcast || d > MaxAutoDeleteBroadcast {
		return 0, false
	}
	return d, true
}

// startBroadcast queues breq and keeps a status message in the admin's chat
// up to date until the job finishes.
func (h *Handlers) startBroadcast(ctx context.Context, req *router.Request, breq broadcast.Request) error {
	start := time.Now()
	status, err := h.ad.SendText(ctx, req.Chat, "📣 Broadcast queued…", nil)
	if err != nil {
		req.Logger.Warn("broadcast status message failed", logx.Err(err))
	}
	edit := h.statusEditor(status, h.settings().ProgressEvery, req.Logger)

	breq.Progress = func(r broadcast.Report) { edit(broadcast.RenderProgress(r), false) }
	breq.Done = func(r broadcast.Report, err error) {
		if err != nil {
			edit("❌ Broadcast failed: "+tgui.Esc(err.Error()).String(), true)
		} else {
			edit(broadcast.RenderReport(r), true)
		}
		h.audit(ctx, req, start, breq.Mode.String(), err, r)
	}

	id, err := h.bc.Submit(breq)
	if err != nil {
		msg := "❌ Broadcast could not be queued."
		if errors.Is(err, broadcast.ErrQueueFull) {
			msg = "⏳ Too many broadcasts in progress. Try again later."
		}
		edit(msg, true)
		h.audit(ctx, req, start, breq.Mode.String(), err, nil)
		return err
	}
	req.Logger.Info("broadcast queued", logx.String("job", id), logx.String("mode", breq.Mode.String()))
	return nil
}

// statusEditor returns an edit func for ref that drops non-final updates
// arriving faster than every. Final updates always go out.
func (h *Handlers) statusEditor(ref kit.MessageRef, every time.Duration, log logx.Logger) func(text string, final bool) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(text string, final bool) {
		if ref.MessageID == 0 {
			return
		}
		mu.Lock()
		now := time.Now()
		if !final && every > 0 && !last.IsZero() && now.Sub(last) < every {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), editTimeout)
		defer cancel()
		if err := h.ad.EditText(ctx, ref, text, htmlOpts); err != nil {
			log.Debug("broadcast status edit failed", logx.Err(err))
		}
	}
}
