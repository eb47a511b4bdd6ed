package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"filegate/internal/transport/telegram/router"
	logx "filegate/pkg/logx"
	"filegate/pkg/tgui"
)

// MaxAutoDelete bounds /auto_del.
const MaxAutoDelete = 30 * 24 * time.Hour

// parseIDs splits args into positive user ids and rejected tokens.
func parseIDs(args []string) (ids []int64, bad []string) {
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				bad = append(bad, part)
				continue
			}
			ids = append(ids, id)
		}
	}
	return lo.Uniq(ids), bad
}

func joinIDs(ids []int64) string {
	return strings.Join(lo.Map(ids, func(id int64, _ int) string { return strconv.FormatInt(id, 10) }), ", ")
}

// outcome collects per-id results for one bulk command.
type outcome struct {
	title string
	rows  [][2]string
}

func (o *outcome) add(label string, ids []int64) {
	if len(ids) > 0 {
		o.rows = append(o.rows, [2]string{label, joinIDs(ids)})
	}
}

func (o *outcome) addBad(bad []string) {
	if len(bad) > 0 {
		o.rows = append(o.rows, [2]string{"Invalid", strings.Join(bad, ", ")})
	}
}

func (o *outcome) render() string {
	b := tgui.New().Title("", o.title)
	for _, r := range o.rows {
		b.KV(r[0], r[1])
	}
	return b.Build().Text
}

func (h *Handlers) cmdBan(ctx context.Context, req *router.Request) error {
	start := time.Now()
	ids, bad := parseIDs(req.Args)
	if len(ids) == 0 {
		h.say(ctx, req.Chat, "Usage: /ban <id...>")
		return nil
	}
	var banned, already, protected, failed []int64
	for _, id := range ids {
		if admin, err := h.dir.IsAdmin(ctx, id); err == nil && admin {
			protected = append(protected, id)
			continue
		}
		changed, err := h.dir.Ban(ctx, id)
		switch {
		case err != nil:
			req.Logger.Warn("ban failed", logx.Int64("target", id), logx.Err(err))
			failed = append(failed, id)
		case changed:
			banned = append(banned, id)
		default:
			already = append(already, id)
		}
	}
	o := outcome{title: "🚫 Ban"}
	o.add("Banned", banned)
	o.add("Already banned", already)
	o.add("Skipped (admin)", protected)
	o.add("Failed", failed)
	o.addBad(bad)
	h.replyOutcome(ctx, req, o)
	h.audit(ctx, req, start, joinIDs(ids), nil, map[string]any{"banned": banned, "failed": failed})
	return nil
}

func (h *Handlers) cmdUnban(ctx context.Context, req *router.Request) error {
	start := time.Now()
	if len(req.Args) == 1 && strings.EqualFold(req.Args[0], "all") {
		n, err := h.dir.UnbanAll(ctx)
		if err != nil {
			h.say(ctx, req.Chat, "❌ Unban failed.")
			h.audit(ctx, req, start, "all", err, nil)
			return err
		}
		h.say(ctx, req.Chat, "✅ Unbanned "+tgui.Count(n)+" user(s).")
		h.audit(ctx, req, start, "all", nil, map[string]any{"unbanned": n})
		return nil
	}
	ids, bad := parseIDs(req.Args)
	if len(ids) == 0 {
		h.say(ctx, req.Chat, "Usage: /unban <id...> or /unban all")
		return nil
	}
	var unbanned, missing, failed []int64
	for _, id := range ids {
		changed, err := h.dir.Unban(ctx, id)
		switch {
		case err != nil:
			req.Logger.Warn("unban failed", logx.Int64("target", id), logx.Err(err))
			failed = append(failed, id)
		case changed:
			unbanned = append(unbanned, id)
		default:
			missing = append(missing, id)
		}
	}
	o := outcome{title: "✅ Unban"}
	o.add("Unbanned", unbanned)
	o.add("Not banned", missing)
	o.add("Failed", failed)
	o.addBad(bad)
	h.replyOutcome(ctx, req, o)
	h.audit(ctx, req, start, joinIDs(ids), nil, map[string]any{"unbanned": unbanned, "failed": failed})
	return nil
}

func (h *Handlers) cmdBanList(ctx context.Context, req *router.Request) error {
	ids, err := h.dir.ListBanned(ctx)
	if err != nil {
		h.say(ctx, req.Chat, TextStoreDown)
		return err
	}
	if len(ids) == 0 {
		h.say(ctx, req.Chat, "No banned users.")
		return nil
	}
	b := tgui.New().Title("🚫", "Banned users ("+tgui.Count(len(ids))+")")
	for _, id := range ids {
		b.Code(strconv.FormatInt(id, 10))
	}
	h.sayHTML(ctx, req.Chat, b.Build())
	return nil
}

func (h *Handlers) cmdAddAdmin(ctx context.Context, req *router.Request) error {
	start := time.Now()
	ids, bad := parseIDs(req.Args)
	if len(ids) == 0 {
		h.say(ctx, req.Chat, "Usage: /add_admin <id...>")
		return nil
	}
	var added, already, failed []int64
	for _, id := range ids {
		if h.dir.IsConfigured(id) {
			already = append(already, id)
			continue
		}
		changed, err := h.dir.AddAdmin(ctx, id)
		switch {
		case err != nil:
			req.Logger.Warn("add admin failed", logx.Int64("target", id), logx.Err(err))
			failed = append(failed, id)
		case changed:
			added = append(added, id)
		default:
			already = append(already, id)
		}
	}
	o := outcome{title: "👮 Add admin"}
	o.add("Added", added)
	o.add("Already admin", already)
	o.add("Failed", failed)
	o.addBad(bad)
	h.replyOutcome(ctx, req, o)
	h.audit(ctx, req, start, joinIDs(ids), nil, map[string]any{"added": added})
	return nil
}

func (h *Handlers) cmdDelAdmin(ctx context.Context, req *router.Request) error {
	start := time.Now()
	ids, bad := parseIDs(req.Args)
	if len(ids) == 0 {
		h.say(ctx, req.Chat, "Usage: /del_admin <id...>")
		return nil
	}
	var removed, missing, configured, failed []int64
	for _, id := range ids {
		if h.dir.IsConfigured(id) {
			configured = append(configured, id)
			continue
		}
		changed, err := h.dir.RemoveAdmin(ctx, id)
		switch {
		case err != nil:
			req.Logger.Warn("remove admin failed", logx.Int64("target", id), logx.Err(err))
			failed = append(failed, id)
		case changed:
			removed = append(removed, id)
		default:
			missing = append(missing, id)
		}
	}
	o := outcome{title: "👮 Remove admin"}
	o.add("Removed", removed)
	o.add("Not an admin", missing)
	o.add("Kept (set in config)", configured)
	o.add("Failed", failed)
	o.addBad(bad)
	h.replyOutcome(ctx, req, o)
	h.audit(ctx, req, start, joinIDs(ids), nil, map[string]any{"removed": removed})
	return nil
}

func (h *Handlers) cmdAdmins(ctx context.Context, req *router.Request) error {
	ids, err := h.dir.AdminIDs(ctx)
	if err != nil {
		h.say(ctx, req.Chat, TextStoreDown)
		return err
	}
	b := tgui.New().Title("👮", "Admins ("+tgui.Count(len(ids))+")")
	for _, id := range ids {
		line := tgui.Code(strconv.FormatInt(id, 10)).String()
		if h.dir.IsOwner(id) {
			line += " " + tgui.I("owner").String()
		}
		b.RawLine("• " + line)
	}
	h.sayHTML(ctx, req.Chat, b.Build())
	return nil
}

func (h *Handlers) cmdStats(ctx context.Context, req *router.Request) error {
	var (
		users, archived int
		admins, banned  []int64
	)
	err := firstErr(
		func() (err error) { users, err = h.dir.CountUsers(ctx); return },
		func() (err error) { admins, err = h.dir.AdminIDs(ctx); return },
		func() (err error) { banned, err = h.dir.ListBanned(ctx); return },
		func() (err error) { archived, err = h.dir.CountArchive(ctx); return },
	)
	if err != nil {
		h.say(ctx, req.Chat, TextStoreDown)
		return err
	}
	ttl, _ := h.dir.AutoDelete(ctx)

	b := tgui.New().Title("📊", "Bot statistics").
		KV("Users", tgui.Count(users)).
		KV("Admins", tgui.Count(len(admins))).
		KV("Banned", tgui.Count(len(banned))).
		KV("Archived posts", tgui.Count(archived)).
		KV("Auto-delete", autoDeleteLabel(ttl))
	if h.exp != nil {
		snap := h.exp.Snapshot()
		b.KV("Pending expiries", tgui.Count(snap.Scheduled+snap.Expiring)).
			KV("Expired batches", tgui.Count(snap.Completed))
	}
	h.sayHTML(ctx, req.Chat, b.Build())
	return nil
}

func firstErr(steps ...func() error) error {
	for _, f := range steps {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func autoDeleteLabel(d time.Duration) string {
	if d <= 0 {
		return "disabled"
	}
	return tgui.Duration(d)
}

func (h *Handlers) cmdAutoDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		ttl, err := h.dir.AutoDelete(ctx)
		if err != nil {
			h.say(ctx, req.Chat, TextStoreDown)
			return err
		}
		h.say(ctx, req.Chat, "⏱ Auto-delete: "+autoDeleteLabel(ttl)+"\nUse /auto_del <seconds> to change it, 0 disables.")
		return nil
	}
	start := time.Now()
	secs, err := strconv.Atoi(req.Args[0])
	if err != nil || secs < 0 || secs > int(MaxAutoDelete/time.Second) {
		h.say(ctx, req.Chat, "❌ Give the timer in seconds, 0 to "+strconv.Itoa(int(MaxAutoDelete/time.Second))+".")
		return nil
	}
	d := time.Duration(secs) * time.Second
	if err := h.dir.SetAutoDelete(ctx, d); err != nil {
		h.say(ctx, req.Chat, TextStoreDown)
		h.audit(ctx, req, start, req.Args[0], err, nil)
		return err
	}
	h.say(ctx, req.Chat, "✅ Auto-delete set to "+autoDeleteLabel(d)+".")
	h.audit(ctx, req, start, req.Args[0], nil, nil)
	return nil
}

func (h *Handlers) cmdUsers(ctx context.Context, req *router.Request) error {
	n, err := h.dir.CountUsers(ctx)
	if err != nil {
		h.say(ctx, req.Chat, TextStoreDown)
		return err
	}
	h.say(ctx, req.Chat, "👥 Users: "+tgui.Count(n))
	return nil
}

func (h *Handlers) replyOutcome(ctx context.Context, req *router.Request, o outcome) {
	if _, err := h.ad.SendText(ctx, req.Chat, o.render(), htmlOpts); err != nil {
		req.Logger.Debug("reply failed", logx.Err(err))
	}
}
