package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	cases := map[string][]string{
		`/start abc`:              {"/start", "abc"},
		`/ban 1 "2 3"  --r='a b'`: {"/ban", "1", "2 3", "--r=a b"},
		`/x a\ b`:                 {"/x", "a b"},
		`/x ""`:                   {"/x", ""},
		"  ":                      nil,
	}
	for in, want := range cases {
		if got := tokenizeCommandLine(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("tokenize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	word, args, ok := splitCommand("/Batch@filegate_bot 10 20")
	if !ok || word != "batch" || !reflect.DeepEqual(args, []string{"10", "20"}) {
		t.Fatalf("got %q %q %v", word, args, ok)
	}
	if _, _, ok := splitCommand("hello"); ok {
		t.Fatal("plain text is not a command")
	}
	if _, _, ok := splitCommand("/"); ok {
		t.Fatal("bare slash is not a command")
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"5", "-1001234", "--reason", "spam", "--all", "-v", "--k=v", "-ab"})
	if !reflect.DeepEqual(pos, []string{"5", "-1001234"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["reason"] != "spam" || flags["k"] != "v" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["all"] || !bools["v"] || !bools["a"] || !bools["b"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"add_admin": "add_admin",
		"Auto-Del":  "auto_del",
		"9lives":    "cmd_9lives",
		"a  b//c":   "a_b_c",
		"!!!":       "",
	}
	for in, want := range cases {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

type sent struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	return nil
}
func (f *fakeAdapter) Copy(context.Context, kit.ChatTarget, kit.MessageRef, *kit.CopyOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) Delete(context.Context, kit.MessageRef) error { return nil }
func (f *fakeAdapter) Pin(context.Context, kit.MessageRef) error    { return nil }
func (f *fakeAdapter) Username() string                             { return "filegate_bot" }

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeAuth struct {
	owner  int64
	admins map[int64]bool
	banned map[int64]bool
}

func (a fakeAuth) IsOwner(id int64) bool { return id == a.owner }
func (a fakeAuth) IsAdmin(_ context.Context, id int64) (bool, error) {
	return id == a.owner || a.admins[id], nil
}
func (a fakeAuth) IsBanned(_ context.Context, id int64) (bool, error) { return a.banned[id], nil }

type harness struct {
	t       *testing.T
	adapter *fakeAdapter
	updates chan kit.Update
	calls   chan *Request
	done    chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		adapter: &fakeAdapter{},
		updates: make(chan kit.Update, 16),
		calls:   make(chan *Request, 16),
		done:    make(chan struct{}),
	}
	auth := fakeAuth{owner: 1, admins: map[int64]bool{2: true}, banned: map[int64]bool{9: true}}
	m := NewCommandManager(logx.Nop(), h.adapter, auth, WithWorkers(2))
	record := func(ctx context.Context, req *Request) error {
		h.calls <- req
		return nil
	}
	m.SetRegistry(context.Background(), []Command{
		{Name: "start", Access: AccessEveryone, Handle: record},
		{Name: "broadcast", Aliases: []string{"bc"}, Access: AccessAdmin, Handle: record},
		{Name: "add_admin", Access: AccessOwner, Handle: record},
	}, []CallbackRoute{
		{Prefix: "ui", Action: "close", Access: AccessEveryone, Handle: func(ctx context.Context, req *Request, payload string) error {
			return record(ctx, req)
		}},
	})
	m.SetFallback(record)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(h.done)
		_ = m.DispatchLoop(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) message(from int64, text string) {
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: from, FromID: from, Text: text, IsPrivate: true,
	}}
}

func (h *harness) expectCall(cmd string) *Request {
	h.t.Helper()
	select {
	case req := <-h.calls:
		if req.Command != cmd {
			h.t.Fatalf("handler got %q, want %q", req.Command, cmd)
		}
		return req
	case <-time.After(2 * time.Second):
		h.t.Fatalf("handler %q not called", cmd)
	}
	return nil
}

func (h *harness) expectReply(want string) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range h.adapter.texts() {
			if s == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("reply %q not sent; got %q", want, h.adapter.texts())
}

func (h *harness) expectNoCall() {
	h.t.Helper()
	select {
	case req := <-h.calls:
		h.t.Fatalf("unexpected handler call %q", req.Command)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterAccessLevels(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.message(5, "/start tok123")
	req := h.expectCall("start")
	if req.Level != AccessEveryone || !reflect.DeepEqual(req.Args, []string{"tok123"}) {
		t.Fatalf("req = %+v", req)
	}

	h.message(5, "/broadcast")
	h.expectReply(TextDenied)
	h.expectNoCall()

	h.message(2, "/bc")
	if req := h.expectCall("broadcast"); req.Level != AccessAdmin {
		t.Fatalf("level = %v", req.Level)
	}

	h.message(2, "/add_admin 7")
	h.expectNoCall()

	h.message(1, "/add_admin 7")
	if req := h.expectCall("add_admin"); req.Level != AccessOwner {
		t.Fatalf("level = %v", req.Level)
	}
}

func TestRouterRejectsBanned(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.message(9, "/start")
	h.expectReply(TextBanned)
	h.expectNoCall()

	before := len(h.adapter.texts())
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 9, ChatID: 9, Data: "ui:close"}}
	h.expectNoCall()
	if len(h.adapter.texts()) != before {
		t.Fatal("banned callbacks get no text reply")
	}
}

func TestRouterFallbackAdminsOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.message(5, "just a file")
	h.expectNoCall()

	h.message(2, "just a file")
	h.expectCall("store")
}

func TestRouterUnknownCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.message(5, "/nope")
	h.expectReply(TextUnknown)
}

func TestRouterCallbackPayload(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 5, ChatID: 5, MessageID: 3, Data: "ui:close:x:y"}}
	req := h.expectCall("cb:ui:close")
	if req.Payload != "x:y" || req.Chat.ChatID != 5 {
		t.Fatalf("req = %+v", req)
	}
}

func TestHelpTextFiltersByLevel(t *testing.T) {
	t.Parallel()
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil)
	noop := func(context.Context, *Request) error { return nil }
	m.SetRegistry(context.Background(), []Command{
		{Name: "help", Description: "show help", Handle: noop},
		{Name: "ban", Usage: "/ban <id...>", Access: AccessAdmin, Handle: noop},
		{Name: "add_admin", Access: AccessOwner, Handle: noop},
	}, nil)

	user := m.HelpText(AccessEveryone, "")
	if !strings.Contains(user, "/help") || strings.Contains(user, "/ban") {
		t.Fatalf("user help = %q", user)
	}
	admin := m.HelpText(AccessAdmin, "")
	if !strings.Contains(admin, "/ban &lt;id...&gt;") || strings.Contains(admin, "add_admin") {
		t.Fatalf("admin help = %q", admin)
	}
	if owner := m.HelpText(AccessOwner, ""); !strings.Contains(owner, "add_admin") {
		t.Fatalf("owner help = %q", owner)
	}
}
