package transport

import (
	"errors"
	"fmt"
	"time"
)

// Recipient / content failures reported by adapters.
var (
	ErrBlocked     = errors.New("recipient blocked the bot")
	ErrDeactivated = errors.New("recipient account deactivated")
	ErrNotFound    = errors.New("message not found")
)

// RateLimitError asks the caller to wait After before trying again.
type RateLimitError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.After)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfterError is implemented by errors that carry a backoff hint.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

func (e *RateLimitError) RetryAfter() time.Duration { return e.After }

// RateLimited wraps err as a rate limit signal.
func RateLimited(after time.Duration, err error) error {
	if after < 0 {
		after = 0
	}
	return &RateLimitError{After: after, Err: err}
}

// RetryAfter extracts a backoff hint from err.
func RetryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}

// IsUnreachable reports whether err means the recipient can never be reached again.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrBlocked) || errors.Is(err, ErrDeactivated)
}
