// Package handlers implements the bot's commands and callbacks on top of the
// link, archive, delivery, expiry and broadcast services.
package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"filegate/internal/archive"
	"filegate/internal/broadcast"
	"filegate/internal/delivery"
	"filegate/internal/expiry"
	"filegate/internal/link"
	"filegate/internal/observability/metrics"
	"filegate/internal/storage"
	kit "filegate/internal/transport"
	"filegate/internal/transport/telegram/router"
	logx "filegate/pkg/logx"
	"filegate/pkg/tgui"
)

const (
	cbPrefix = "ui"

	auditTimeout = 5 * time.Second
	editTimeout  = 10 * time.Second
	cmdTimeout   = 20 * time.Second
)

// Deps are the services the handlers drive.
type Deps struct {
	Adapter   kit.Adapter
	Directory *storage.Directory
	Codec     *link.Codec
	Retriever *archive.Retriever
	Delivery  *delivery.Service
	Expiry    *expiry.Scheduler
	Broadcast *broadcast.Engine
	Metrics   *metrics.Metrics
	Logger    logx.Logger
}

// Settings are the knobs that may change on reload.
type Settings struct {
	// ChannelID is the archival channel. Fixed for the process lifetime.
	ChannelID       int64
	ChannelUsername string
	LinkHost        string
	// PublicLinks lets everyone redeem links; false limits them to admins.
	PublicLinks bool
	// AutoRegister records every /start sender as a broadcast recipient.
	AutoRegister  bool
	ProgressEvery time.Duration
	// ChannelButton adds a Share button to archived channel posts.
	ChannelButton bool
}

type Handlers struct {
	ad    kit.Adapter
	dir   *storage.Directory
	codec *link.Codec
	ret   *archive.Retriever
	dlv   *delivery.Service
	exp   *expiry.Scheduler
	bc    *broadcast.Engine
	met   *metrics.Metrics
	log   logx.Logger

	mu   sync.RWMutex
	set  Settings
	help func(lvl router.Access, title string) string
}

func New(d Deps, s Settings) *Handlers {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		ad:    d.Adapter,
		dir:   d.Directory,
		codec: d.Codec,
		ret:   d.Retriever,
		dlv:   d.Delivery,
		exp:   d.Expiry,
		bc:    d.Broadcast,
		met:   d.Metrics,
		log:   log.With(logx.String("comp", "handlers")),
		set:   s,
	}
}

// Apply swaps the reloadable settings. ChannelID is kept.
func (h *Handlers) Apply(s Settings) {
	h.mu.Lock()
	s.ChannelID = h.set.ChannelID
	h.set = s
	h.mu.Unlock()
}

func (h *Handlers) settings() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.set
}

// Register installs commands, callbacks, the store fallback and the channel
// post indexer on m.
func (h *Handlers) Register(ctx context.Context, m *router.CommandManager) {
	h.mu.Lock()
	h.help = m.HelpText
	h.mu.Unlock()
	m.SetRegistry(ctx, h.Commands(), h.Callbacks())
	m.SetFallback(h.Store)
	m.SetChannelPostHandler(h.ChannelPost)
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "open a file link or show the welcome", Usage: "/start [token]", Handle: h.cmdStart},
		{Name: "help", Description: "list commands", Handle: h.cmdHelp, Timeout: cmdTimeout},

		{Name: "genlink", Description: "link for one archived post", Usage: "/genlink <post link|id>", Access: router.AccessAdmin, Handle: h.cmdGenLink, Timeout: cmdTimeout},
		{Name: "batch", Description: "link for a range of archived posts", Usage: "/batch <first> <last>", Access: router.AccessAdmin, Handle: h.cmdBatch, Timeout: cmdTimeout},

		{Name: "broadcast", Description: "copy the replied message to every user", Access: router.AccessAdmin, Handle: h.broadcastCmd(broadcast.Plain), Timeout: cmdTimeout},
		{Name: "pbroadcast", Description: "broadcast and pin", Access: router.AccessAdmin, Handle: h.broadcastCmd(broadcast.Pinned), Timeout: cmdTimeout},
		{Name: "dbroadcast", Description: "broadcast and delete after a while", Usage: "/dbroadcast <seconds>", Access: router.AccessAdmin, Handle: h.broadcastCmd(broadcast.AutoDelete), Timeout: cmdTimeout},

		{Name: "ban", Description: "ban users", Usage: "/ban <id...>", Access: router.AccessAdmin, Handle: h.cmdBan, Timeout: cmdTimeout},
		{Name: "unban", Description: "unban users", Usage: "/unban <id...|all>", Access: router.AccessAdmin, Handle: h.cmdUnban, Timeout: cmdTimeout},
		{Name: "banlist", Description: "list banned users", Access: router.AccessAdmin, Handle: h.cmdBanList, Timeout: cmdTimeout},

		{Name: "add_admin", Description: "grant admin", Usage: "/add_admin <id...>", Access: router.AccessOwner, Handle: h.cmdAddAdmin, Timeout: cmdTimeout},
		{Name: "del_admin", Description: "revoke admin", Usage: "/del_admin <id...>", Access: router.AccessOwner, Handle: h.cmdDelAdmin, Timeout: cmdTimeout},
		{Name: "admins", Description: "list admins", Access: router.AccessAdmin, Handle: h.cmdAdmins, Timeout: cmdTimeout},
		{Name: "admin_stats", Aliases: []string{"stats"}, Description: "bot statistics", Access: router.AccessAdmin, Handle: h.cmdStats, Timeout: cmdTimeout},
		{Name: "auto_del", Description: "show or set the file expiry timer", Usage: "/auto_del [seconds]", Access: router.AccessAdmin, Handle: h.cmdAutoDelete, Timeout: cmdTimeout},
		{Name: "users", Description: "user count", Access: router.AccessAdmin, Handle: h.cmdUsers, Timeout: cmdTimeout},
	}
}

func (h *Handlers) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Prefix: cbPrefix, Action: "help", Handle: h.cbHelp, Timeout: cmdTimeout},
		{Prefix: cbPrefix, Action: "start", Handle: h.cbStart, Timeout: cmdTimeout},
		{Prefix: cbPrefix, Action: "close", Handle: h.cbClose, Timeout: cmdTimeout},
	}
}

func (h *Handlers) say(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := h.ad.SendText(ctx, to, text, nil); err != nil {
		h.log.Debug("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (h *Handlers) sayHTML(ctx context.Context, to kit.ChatTarget, m tgui.Message) kit.MessageRef {
	ref, err := m.Send(ctx, h.ad, to)
	if err != nil {
		h.log.Debug("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
	return ref
}

// audit records an operator action. Failures are logged, never surfaced.
func (h *Handlers) audit(ctx context.Context, req *router.Request, start time.Time, target string, err error, meta any) {
	e := storage.AuditEntry{
		At:      time.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Command: strings.TrimPrefix(req.Command, "cb:"),
		Target:  target,
		OK:      err == nil,
	}
	if req.Message != nil {
		e.ActorUsername = req.Message.FromUsername
	}
	if !start.IsZero() {
		e.TookMS = time.Since(start).Milliseconds()
	}
	if err != nil {
		e.Error = err.Error()
	}
	if meta != nil {
		if b, jerr := json.Marshal(meta); jerr == nil {
			e.MetaJSON = string(b)
		}
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if aerr := h.dir.AppendAudit(actx, e); aerr != nil {
		h.log.Warn("audit append failed", logx.String("cmd", e.Command), logx.Err(aerr))
	}
}
