package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFormatTelegramLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"copy failed","chat_id":5,"caller":"a.go:1"}`)
	got := formatTelegramLine(line)
	want := "[WARN] copy failed\n- caller=a.go:1\n- chat_id=5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatTelegramLineNonJSON(t *testing.T) {
	if got := formatTelegramLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	zero.Info("no panic")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
	if Nop().Enabled(LevelError) {
		t.Fatal("Nop should have everything disabled")
	}
}
