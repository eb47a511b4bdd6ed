package link

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DeepLink builds https://<host>/<bot>?start=<token>.
func DeepLink(host, botUsername, token string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "t.me"
	}
	return "https://" + host + "/" + strings.TrimPrefix(botUsername, "@") + "?start=" + token
}

// ShareURL wraps a link in Telegram's share dialog.
func ShareURL(link string) string {
	return "https://telegram.me/share/url?url=" + url.QueryEscape(link)
}

var reMessageLink = regexp.MustCompile(`^https?://(?:t\.me|telegram\.me)/(?:c/)?([^/\s]+)/(\d+)/?$`)

// Channel identifies the archival channel for message-link matching.
type Channel struct {
	ID       int64
	Username string
}

// ParseMessageLink extracts the message id of a t.me post link that points at ch.
//
// Private links (t.me/c/<internal>/<id>) match when -100<internal> equals ch.ID;
// public links (t.me/<username>/<id>) match ch.Username case-insensitively.
// A bare positive integer is accepted as an id.
func ParseMessageLink(s string, ch Channel) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	m := reMessageLink.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[2])
	if err != nil || id <= 0 {
		return 0, false
	}
	ref := m[1]
	if internal, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if full, err := strconv.ParseInt("-100"+strconv.FormatInt(internal, 10), 10, 64); err == nil && full == ch.ID {
			return id, true
		}
		return 0, false
	}
	if ch.Username != "" && strings.EqualFold(ref, strings.TrimPrefix(ch.Username, "@")) {
		return id, true
	}
	return 0, false
}
