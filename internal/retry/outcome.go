// Package retry holds the rate-limit aware result type shared by the
// retriever and the broadcast engine.
package retry

import (
	"context"
	"time"

	kit "filegate/internal/transport"
)

type Kind int

const (
	Success Kind = iota
	RateLimited
	Failed
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// Outcome is Success(Value) | RateLimited(Wait) | Failed(Err).
//
// A RateLimited outcome may still carry a partial Value (e.g. items resolved
// before the limit hit); Err keeps the underlying signal for logging.
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Wait  time.Duration
	Err   error
}

func Ok[T any](v T) Outcome[T] { return Outcome[T]{Kind: Success, Value: v} }

func Limited[T any](partial T, wait time.Duration, err error) Outcome[T] {
	return Outcome[T]{Kind: RateLimited, Value: partial, Wait: wait, Err: err}
}

func Fail[T any](err error) Outcome[T] { return Outcome[T]{Kind: Failed, Err: err} }

// From classifies a (value, error) pair. A nil error is Success; an error that
// carries a retry hint is RateLimited (keeping v as the partial value).
func From[T any](v T, err error) Outcome[T] {
	if err == nil {
		return Ok(v)
	}
	if wait, ok := kit.RetryAfter(err); ok {
		return Limited(v, wait, err)
	}
	return Outcome[T]{Kind: Failed, Value: v, Err: err}
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Report describes how Once resolved.
type Report struct {
	Attempts int
	Waited   time.Duration
}

// Once runs op; on RateLimited it sleeps the requested wait and runs op exactly
// one more time. The second outcome is returned as is, so a second RateLimited
// surfaces to the caller instead of looping. maxWait caps the sleep (0 = no cap).
func Once[T any](ctx context.Context, sleep Sleeper, maxWait time.Duration, op func(ctx context.Context, attempt int) Outcome[T]) (Outcome[T], Report) {
	if sleep == nil {
		sleep = Sleep
	}
	first := op(ctx, 1)
	if first.Kind != RateLimited {
		return first, Report{Attempts: 1}
	}
	wait := first.Wait
	if maxWait > 0 && wait > maxWait {
		wait = maxWait
	}
	if err := sleep(ctx, wait); err != nil {
		first.Kind = Failed
		first.Err = err
		return first, Report{Attempts: 1, Waited: wait}
	}
	return op(ctx, 2), Report{Attempts: 2, Waited: wait}
}
