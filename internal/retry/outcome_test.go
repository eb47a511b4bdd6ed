package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	kit "filegate/internal/transport"
)

type recordSleep struct{ slept []time.Duration }

func (r *recordSleep) sleep(_ context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return nil
}

func TestOnceRetriesExactlyOnceAfterRateLimit(t *testing.T) {
	t.Parallel()
	var rs recordSleep
	calls := 0
	out, rep := Once(context.Background(), rs.sleep, 0, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		if attempt == 1 {
			return From(0, kit.RateLimited(2*time.Second, nil))
		}
		return Ok(42)
	})
	if out.Kind != Success || out.Value != 42 {
		t.Fatalf("outcome = %+v, want success(42)", out)
	}
	if calls != 2 || rep.Attempts != 2 {
		t.Fatalf("calls = %d attempts = %d, want 2", calls, rep.Attempts)
	}
	if len(rs.slept) != 1 || rs.slept[0] != 2*time.Second {
		t.Fatalf("slept = %v, want [2s]", rs.slept)
	}
}

func TestOnceSurfacesSecondRateLimit(t *testing.T) {
	t.Parallel()
	var rs recordSleep
	calls := 0
	out, _ := Once(context.Background(), rs.sleep, time.Second, func(ctx context.Context, attempt int) Outcome[[]int] {
		calls++
		return Limited([]int{attempt}, 10*time.Second, errors.New("flood"))
	})
	if out.Kind != RateLimited {
		t.Fatalf("kind = %v, want rate_limited", out.Kind)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if len(out.Value) != 1 || out.Value[0] != 2 {
		t.Fatalf("partial value = %v, want the second attempt's", out.Value)
	}
	if rs.slept[0] != time.Second {
		t.Fatalf("wait not capped: %v", rs.slept)
	}
}

func TestOnceDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	out, _ := Once(context.Background(), nil, 0, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		return From(0, errors.New("boom"))
	})
	if out.Kind != Failed || calls != 1 {
		t.Fatalf("kind = %v calls = %d, want failed after one call", out.Kind, calls)
	}
}

func TestOnceStopsWhenSleepCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	out, _ := Once(ctx, Sleep, 0, func(ctx context.Context, attempt int) Outcome[int] {
		calls++
		return Limited(0, time.Minute, nil)
	})
	if out.Kind != Failed || !errors.Is(out.Err, context.Canceled) || calls != 1 {
		t.Fatalf("outcome = %+v calls = %d", out, calls)
	}
}
