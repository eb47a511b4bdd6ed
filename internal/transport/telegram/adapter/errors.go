package adapter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "filegate/internal/transport"
)

var reRetryAfter = regexp.MustCompile(`(?i)retry after (\d+)`)

// mapError translates bot API failures into the transport taxonomy. Unknown
// errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, tele.ErrBlockedByUser) {
		return fmt.Errorf("%w: %v", kit.ErrBlocked, err)
	}
	if errors.Is(err, tele.ErrUserIsDeactivated) {
		return fmt.Errorf("%w: %v", kit.ErrDeactivated, err)
	}
	if secs, ok := floodWait(err); ok {
		return kit.RateLimited(time.Duration(secs)*time.Second, err)
	}

	// Errors that lost their type on the way still carry the hint in the text.
	msg := strings.ToLower(err.Error())
	if m := reRetryAfter.FindStringSubmatch(msg); m != nil {
		secs, _ := strconv.Atoi(m[1])
		return kit.RateLimited(time.Duration(secs)*time.Second, err)
	}
	switch {
	case strings.Contains(msg, "bot was blocked by the user"),
		strings.Contains(msg, "bot was kicked"):
		return fmt.Errorf("%w: %v", kit.ErrBlocked, err)
	case strings.Contains(msg, "user is deactivated"):
		return fmt.Errorf("%w: %v", kit.ErrDeactivated, err)
	case strings.Contains(msg, "message to copy not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message_id_invalid"):
		return fmt.Errorf("%w: %v", kit.ErrNotFound, err)
	}
	return err
}

// floodWait reads the retry_after hint of a 429 reply.
func floodWait(err error) (int, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return fe.RetryAfter, true
	}
	var pfe *tele.FloodError
	if errors.As(err, &pfe) && pfe != nil {
		return pfe.RetryAfter, true
	}
	return 0, false
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
