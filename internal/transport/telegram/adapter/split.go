package adapter

import "strings"

const textLimit = 4000

// splitText cuts s into parts of at most limit runes. It prefers a newline
// in the last two thirds of the window and, for HTML, never cuts inside a tag.
// The result always has at least one element.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			if html {
				if lt := lastOpenTag(rs[start:end]); lt > 1 {
					end = start + lt
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastOpenTag returns the index of a trailing unclosed '<', or -1.
func lastOpenTag(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		switch rs[i] {
		case '>':
			return -1
		case '<':
			return i
		}
	}
	return -1
}
