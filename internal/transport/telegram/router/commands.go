package router

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"filegate/internal/observability/metrics"
	rtsup "filegate/internal/runtime/supervisor"
	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

// Access is the minimum caller level a route requires.
type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
	AccessOwner
)

func (a Access) String() string {
	switch a {
	case AccessAdmin:
		return "admin"
	case AccessOwner:
		return "owner"
	}
	return "everyone"
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // 0 means no per-command deadline
	// Hidden keeps the command out of /help and the menu.
	Hidden bool
	Handle HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute matches callback data "<Prefix>:<Action>[:payload]".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Request is what a handler sees.
type Request struct {
	Update  kit.Update
	Message *kit.Message // nil for callbacks
	Chat    kit.ChatTarget
	FromID  int64
	// Level is the caller's access level.
	Level Access

	Command string
	Args    []string // positionals after flag parsing
	RawArgs []string
	Flags   map[string]string
	// BoolFlags holds flags given without a value.
	BoolFlags map[string]bool
	Payload   string // callback payload

	ReqID  string
	Logger logx.Logger
}

// Authorizer answers access questions about a user.
type Authorizer interface {
	IsOwner(id int64) bool
	IsAdmin(ctx context.Context, id int64) (bool, error)
	IsBanned(ctx context.Context, id int64) (bool, error)
}

// Replies the router sends on its own.
const (
	TextBanned     = "🚫 You are banned from using this bot."
	TextDenied     = "⛔ You are not allowed to use this command."
	TextUnknown    = "Unknown command. Try /help"
	TextBusy       = "⏳ Busy, try again in a moment."
	callbackBusy   = "busy"
	callbackDenied = "forbidden"
)

type CommandManager struct {
	mu      sync.RWMutex
	cmds    map[string]*Command // name and aliases
	ordered []Command

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute // prefix -> action -> route

	fallback    HandlerFunc
	channelPost func(ctx context.Context, msg *kit.Message)

	log     logx.Logger
	adapter kit.Adapter
	auth    Authorizer
	metrics *metrics.Metrics
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

type Option func(*CommandManager)

func WithMetrics(m *metrics.Metrics) Option { return func(c *CommandManager) { c.metrics = m } }

// WithWorkers sets the handler pool size. Default max(2, NumCPU).
func WithWorkers(n int) Option { return func(c *CommandManager) { c.workers = n } }

func NewCommandManager(log logx.Logger, adapter kit.Adapter, auth Authorizer, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cmds:      map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log,
		adapter:   adapter,
		auth:      auth,
		workers:   max(2, runtime.NumCPU()),
		jobs:      make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers < 1 {
		m.workers = 1
	}
	return m
}

// Supervisor returns the worker pool supervisor, nil when not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue never blocks and survives a closed jobs channel.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetFallback handles private non-command messages from admins.
func (m *CommandManager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetChannelPostHandler receives posts published in channels the bot administers.
func (m *CommandManager) SetChannelPostHandler(h func(ctx context.Context, msg *kit.Message)) {
	m.mu.Lock()
	m.channelPost = h
	m.mu.Unlock()
}

// SetRegistry replaces the routes and refreshes the Telegram menu in the background.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, taken := byName[a]; !taken {
				byName[a] = &cc
			}
		}
		ordered = append(ordered, cc)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		p, a := strings.TrimSpace(r.Prefix), strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = r
	}

	m.mu.Lock()
	m.cmds = byName
	m.ordered = ordered
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(ordered)
		go func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the registered commands sorted by name.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))))
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := range m.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	m.metrics.Update(string(up.Kind))
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	case kit.UpdateChannelPost:
		m.routeChannelPost(ctx, up)
	}
}

// level resolves the caller's access level. A lookup error degrades to
// everyone so a storage outage never grants access.
func (m *CommandManager) level(ctx context.Context, id int64, log logx.Logger) Access {
	if m.auth == nil {
		return AccessEveryone
	}
	if m.auth.IsOwner(id) {
		return AccessOwner
	}
	ok, err := m.auth.IsAdmin(ctx, id)
	if err != nil {
		log.Warn("admin lookup failed", logx.Int64("from_id", id), logx.Err(err))
	}
	if ok {
		return AccessAdmin
	}
	return AccessEveryone
}

// banned reports whether id is banned. Admins are never banned.
func (m *CommandManager) banned(ctx context.Context, id int64, lvl Access) bool {
	if m.auth == nil || lvl > AccessEveryone {
		return false
	}
	b, err := m.auth.IsBanned(ctx, id)
	if err != nil {
		m.log.Warn("ban lookup failed", logx.Int64("from_id", id), logx.Err(err))
		return false
	}
	return b
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || msg.FromID == 0 {
		return
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	word, args, isCmd := splitCommand(msg.Text)
	if !isCmd && !msg.IsPrivate {
		return
	}

	// Access checks hit storage; run them on the pool, not the dispatch loop.
	m.enqueue(ctx, to, func() {
		lvl := m.level(ctx, msg.FromID, m.log)
		if m.banned(ctx, msg.FromID, lvl) {
			if msg.IsPrivate {
				m.reply(ctx, to, TextBanned)
			}
			return
		}
		if !isCmd {
			m.mu.RLock()
			fb := m.fallback
			m.mu.RUnlock()
			if fb != nil && lvl >= AccessAdmin {
				m.run(ctx, up, "store", lvl, nil, "", fb, 0)
			}
			return
		}

		m.mu.RLock()
		cmd := m.cmds[word]
		m.mu.RUnlock()
		if cmd == nil {
			if msg.IsPrivate {
				m.reply(ctx, to, TextUnknown)
			}
			return
		}
		if lvl < cmd.Access {
			m.reply(ctx, to, TextDenied)
			return
		}
		m.run(ctx, up, cmd.Name, lvl, args, "", cmd.Handle, cmd.Timeout)
	})
}

func (m *CommandManager) routeChannelPost(ctx context.Context, up kit.Update) {
	m.mu.RLock()
	h := m.channelPost
	m.mu.RUnlock()
	if h == nil || up.Message == nil {
		return
	}
	msg := up.Message
	m.enqueue(ctx, kit.ChatTarget{}, func() { h(ctx, msg) })
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) < 2 {
		return
	}
	prefix, action, payload := parts[0], parts[1], ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[prefix][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	queued := m.tryEnqueue(func() {
		defer func() { _ = m.adapter.AnswerCallback(ctx, cb.ID, "") }()
		lvl := m.level(ctx, cb.FromID, m.log)
		if m.banned(ctx, cb.FromID, lvl) || lvl < route.Access {
			_ = m.adapter.AnswerCallback(ctx, cb.ID, callbackDenied)
			return
		}
		h := func(c context.Context, r *Request) error { return route.Handle(c, r, payload) }
		m.run(ctx, up, "cb:"+prefix+":"+action, lvl, nil, payload, h, route.Timeout)
	})
	if !queued {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, callbackBusy)
	}
}

func (m *CommandManager) enqueue(ctx context.Context, to kit.ChatTarget, job func()) {
	if m.tryEnqueue(job) {
		return
	}
	if to.ChatID != 0 {
		m.reply(ctx, to, TextBusy)
	}
}

// run executes h inline on the calling worker behind the middleware chain.
func (m *CommandManager) run(ctx context.Context, up kit.Update, name string, lvl Access, raw []string, payload string, h HandlerFunc, timeout time.Duration) {
	req := &Request{Update: up, Command: name, Level: lvl, ReqID: newReqID(), RawArgs: raw, Payload: payload}
	switch {
	case up.Message != nil:
		req.Message = up.Message
		req.Chat = kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
		req.FromID = up.Message.FromID
	case up.Callback != nil:
		req.Chat = kit.ChatTarget{ChatID: up.Callback.ChatID, ThreadID: up.Callback.ThreadID}
		req.FromID = up.Callback.FromID
	}
	req.Args, req.Flags, req.BoolFlags = parseFlags(raw)
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", name),
	)

	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWMetrics(m.metrics),
		MWTimeout(timeout),
	)
	_ = final(ctx, req)
}

func (m *CommandManager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.adapter.SendText(ctx, to, text, nil); err != nil {
		m.log.Debug("router reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
