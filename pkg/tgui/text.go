package tgui

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// TruncRunes cuts s to at most n runes, appending "…" when it cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// Count renders n with thousands separators.
func Count[T ~int | ~int64 | ~uint64](n T) string {
	return humanize.Comma(int64(n))
}

// Percent renders a 0..1 ratio as "92.5%".
func Percent(ratio float64) string {
	return humanize.FtoaWithDigits(ratio*100, 1) + "%"
}

// Duration renders d in words at second precision using at most the two
// largest adjacent units:
//
//	10 minutes
//	1 hour 30 minutes
//	2 days 4 hours
func Duration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0 seconds"
	}
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}
	parts := make([]string, 0, 2)
	for _, u := range units {
		if d < u.size {
			if len(parts) > 0 {
				break
			}
			continue
		}
		n := int64(d / u.size)
		d -= time.Duration(n) * u.size
		name := u.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, strconv.FormatInt(n, 10)+" "+name)
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}
