package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "filegate/pkg/logx"
)

type fakeStore struct {
	mu      sync.Mutex
	pingErr error
	pings   int
	before  time.Time
	pruned  int64
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeStore) PruneAudit(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = before
	return f.pruned, nil
}

func TestValidateRejectsBadSpecsAndTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeStore{}, logx.Nop())
	if err := s.Validate(Config{PingSpec: "@every 1m", AuditPruneSpec: "0 3 * * *", Timezone: "UTC"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := s.Validate(Config{PingSpec: "every minute"}); err == nil {
		t.Fatal("bad spec accepted")
	}
	if err := s.Validate(Config{Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestRunPingTracksStatus(t *testing.T) {
	t.Parallel()
	st := &fakeStore{pingErr: errors.New("db down")}
	s := New(Config{}, st, logx.Nop())

	if err := s.RunPing(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if got := s.Status(); got.OK || got.Err != "db down" || got.CheckedAt.IsZero() {
		t.Fatalf("status = %+v", got)
	}

	st.mu.Lock()
	st.pingErr = nil
	st.mu.Unlock()
	if err := s.RunPing(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Status(); !got.OK || got.Err != "" {
		t.Fatalf("status = %+v", got)
	}
}

func TestRunPruneUsesRetention(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{pruned: 4}
	s := New(Config{AuditRetention: 48 * time.Hour}, st, logx.Nop())
	s.now = func() time.Time { return now }

	n, err := s.RunPrune(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("RunPrune = %d, %v", n, err)
	}
	if want := now.Add(-48 * time.Hour); !st.before.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", st.before, want)
	}
	if s.Status().Pruned != 4 {
		t.Fatalf("pruned total = %d", s.Status().Pruned)
	}

	s.cfg.AuditRetention = 0
	if n, _ := s.RunPrune(context.Background()); n != 0 {
		t.Fatalf("disabled retention pruned %d", n)
	}
}

func TestStartPingsOnceAndStops(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	s := New(Config{Enabled: true, PingSpec: "@every 1h", AuditPruneSpec: "@daily", AuditRetention: time.Hour}, st, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.Status().OK {
		t.Fatalf("status after start = %+v", s.Status())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pings != 1 {
		t.Fatalf("pings = %d", st.pings)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	s := New(Config{PingSpec: "@every 1h"}, st, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.pings != 0 || !s.Status().CheckedAt.IsZero() {
		t.Fatal("disabled service pinged")
	}
}
