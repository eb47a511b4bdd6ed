package tgui

import (
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestDuration(t *testing.T) {
	t.Parallel()
	cases := map[time.Duration]string{
		0:                             "0 seconds",
		time.Second:                   "1 second",
		10 * time.Minute:              "10 minutes",
		90 * time.Minute:              "1 hour 30 minutes",
		time.Hour + 5*time.Second:     "1 hour",
		50*time.Hour + 10*time.Minute: "2 days 2 hours",
		1500 * time.Millisecond:       "2 seconds",
	}
	for in, want := range cases {
		if got := Duration(in); got != want {
			t.Fatalf("Duration(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestCountAndPercent(t *testing.T) {
	t.Parallel()
	if got := Count(1234567); got != "1,234,567" {
		t.Fatalf("Count = %q", got)
	}
	if got := Count(int64(-1200)); got != "-1,200" {
		t.Fatalf("Count = %q", got)
	}
	if got := Percent(0.925); got != "92.5%" {
		t.Fatalf("Percent = %q", got)
	}
	if got := Percent(1); got != "100%" {
		t.Fatalf("Percent = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("abc", 3); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestBuilderEscapesAndAttachesMarkup(t *testing.T) {
	t.Parallel()
	msg := New().
		Title("📦", "Stats <all>").
		KV("Users", "1 & 2").
		Inline(NewInline().Row(Btn("Close", Data("ui", "close", "")))).
		Build()

	want := "📦 <b>Stats &lt;all&gt;</b>\n• <b>Users</b>: 1 &amp; 2"
	if msg.Text != want {
		t.Fatalf("text = %q", msg.Text)
	}
	rm, ok := msg.Opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 1 || rm.InlineKeyboard[0][0].Data != "ui:close" {
		t.Fatalf("markup = %#v", msg.Opt.ReplyMarkupAdapter)
	}
	if msg.Opt.ParseMode != "HTML" {
		t.Fatalf("parse mode = %q", msg.Opt.ParseMode)
	}

	plain := New().Line("x").Build()
	if plain.Opt.ReplyMarkupAdapter != nil {
		t.Fatal("no keyboard expected")
	}
}

func TestCallbackData(t *testing.T) {
	t.Parallel()
	if got := Data(" ui ", "help", ""); got != "ui:help" {
		t.Fatalf("got %q", got)
	}
	if got := Data("bc", "status", "abc"); got != "bc:status:abc" {
		t.Fatalf("got %q", got)
	}
	if err := CheckData(strings.Repeat("x", 65)); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v", err)
	}
}

func TestLinkEscapesAttributes(t *testing.T) {
	t.Parallel()
	got := Link(`a"b`, `https://t.me/x?start=a&b=1`).String()
	if got != `<a href="https://t.me/x?start=a&amp;b=1">a&#34;b</a>` {
		t.Fatalf("got %q", got)
	}
}
