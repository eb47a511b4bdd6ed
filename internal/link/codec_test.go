package link

import (
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
	"testing"
	"testing/quick"
)

const testChannel = -1001234567890

func mustCodec(t *testing.T, maxSpan int64) *Codec {
	t.Helper()
	c, err := NewCodec(testChannel, maxSpan)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func rawToken(payload string) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(payload)), "=")
}

func TestRoundTripSingle(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	f := func(n uint32) bool {
		id := int64(n) + 1
		tok, err := c.Encode(Single(id))
		if err != nil {
			return false
		}
		got, err := c.Decode(tok)
		return err == nil && got == Single(id)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTripRangeBothDirections(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	f := func(a uint32, d uint16, desc bool) bool {
		lo := int64(a) + 1
		hi := lo + int64(d)%DefaultMaxSpan
		l := Span(lo, hi)
		if desc {
			l = Span(hi, lo)
		}
		tok, err := c.Encode(l)
		if err != nil {
			return false
		}
		got, err := c.Decode(tok)
		return err == nil && got == l
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestLargeIdentifiersDoNotOverflow(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	l := Span(9_000_000, 9_000_010)
	tok, err := c.Encode(l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(tok)
	if err != nil || got != l {
		t.Fatalf("Decode = %v, %v; want %v", got, err, l)
	}
}

func TestTokenIsURLSafeWithoutPadding(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	for id := int64(1); id < 200; id++ {
		tok, err := c.Encode(Single(id))
		if err != nil {
			t.Fatalf("Encode(%d): %v", id, err)
		}
		if strings.ContainsAny(tok, "=+/") {
			t.Fatalf("token %q is not url-safe", tok)
		}
	}
}

func TestDecodePayloadFormat(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	got, err := c.Decode(rawToken("get-2469135780"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != Single(2) {
		t.Fatalf("got %v, want single(2)", got)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"one field", rawToken("get")},
		{"four fields", rawToken("get-1234567890-1234567890-1234567890")},
		{"not divisible", rawToken("get-1234567891")},
		{"range end not divisible", rawToken("get-1234567890-7")},
		{"wrong tag", rawToken("put-1234567890")},
		{"non numeric", rawToken("get-abc")},
		{"empty field", rawToken("get-")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := c.Decode(tt.token); !errors.Is(err, ErrMalformedToken) {
				t.Fatalf("Decode(%q) err = %v, want ErrMalformedToken", tt.token, err)
			}
		})
	}
}

func TestDecodeRejectsInvalidLocator(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 10)
	if _, err := c.Decode(rawToken("get-0")); !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("zero id err = %v, want ErrInvalidLocator", err)
	}
	wide, _ := mustCodec(t, 0).Encode(Span(1, 11))
	if _, err := c.Decode(wide); !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("wide range err = %v, want ErrInvalidLocator", err)
	}
	if _, err := c.Encode(Span(1, 11)); !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("Encode wide range err = %v, want ErrInvalidLocator", err)
	}
	if _, err := c.Encode(Single(-3)); !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("Encode negative err = %v, want ErrInvalidLocator", err)
	}
}

func TestDefaultSpanRejectsForgedWideRange(t *testing.T) {
	t.Parallel()
	c := mustCodec(t, 0)
	m := big.NewInt(-testChannel)
	start := new(big.Int).Mul(big.NewInt(7), m)
	end := new(big.Int).Mul(big.NewInt(7_000_000_000_000), m)
	forged := rawToken("get-" + start.String() + "-" + end.String())
	if _, err := c.Decode(forged); !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("forged range err = %v, want ErrInvalidLocator", err)
	}

	edge, err := c.Encode(Span(1, DefaultMaxSpan))
	if err != nil {
		t.Fatalf("Encode at cap: %v", err)
	}
	if _, err := c.Decode(edge); err != nil {
		t.Fatalf("Decode at cap: %v", err)
	}
	if _, err := c.Encode(Span(1, DefaultMaxSpan+1)); !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("Encode past cap err = %v, want ErrInvalidLocator", err)
	}
}

func TestLocatorIDsTraversal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		l    Locator
		want []int
	}{
		{Single(7), []int{7}},
		{Span(3, 5), []int{3, 4, 5}},
		{Span(5, 3), []int{5, 4, 3}},
		{Span(4, 4), []int{4}},
	}
	for _, tt := range tests {
		got := tt.l.IDs()
		if len(got) != len(tt.want) {
			t.Fatalf("%v.IDs() = %v, want %v", tt.l, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("%v.IDs() = %v, want %v", tt.l, got, tt.want)
			}
		}
	}
}

func TestNewCodecRequiresChannel(t *testing.T) {
	t.Parallel()
	if _, err := NewCodec(0, 0); err == nil {
		t.Fatal("expected error for zero channel id")
	}
}

func FuzzDecode(f *testing.F) {
	c, err := NewCodec(testChannel, 1000)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(rawToken("get-1234567890"))
	f.Add(rawToken("get-1234567890-2469135780"))
	f.Add("Z2V0LTE")
	f.Fuzz(func(t *testing.T, tok string) {
		l, err := c.Decode(tok)
		if err != nil {
			if !errors.Is(err, ErrMalformedToken) && !errors.Is(err, ErrInvalidLocator) {
				t.Fatalf("unexpected error class: %v", err)
			}
			return
		}
		again, err := c.Encode(l)
		if err != nil {
			t.Fatalf("re-encode of decoded %v failed: %v", l, err)
		}
		back, err := c.Decode(again)
		if err != nil || back != l {
			t.Fatalf("re-decode = %v, %v; want %v", back, err, l)
		}
	})
}
