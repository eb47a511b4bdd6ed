package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

type fakeDir struct {
	mu      sync.Mutex
	ids     []int64
	removed []int64
	listErr error
}

func (d *fakeDir) ListRecipients(context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]int64(nil), d.ids...), nil
}

func (d *fakeDir) RemoveRecipient(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, id)
	return nil
}

type fakeAPI struct {
	mu      sync.Mutex
	copyErr map[int64][]error
	pinErr  map[int64][]error
	copies  map[int64]int
	pins    map[int64]int
	deletes []kit.MessageRef
	seq     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		copyErr: map[int64][]error{},
		pinErr:  map[int64][]error{},
		copies:  map[int64]int{},
		pins:    map[int64]int{},
	}
}

func pop(m map[int64][]error, id int64) error {
	errs := m[id]
	if len(errs) == 0 {
		return nil
	}
	m[id] = errs[1:]
	return errs[0]
}

func (f *fakeAPI) Copy(_ context.Context, to kit.ChatTarget, _ kit.MessageRef, _ *kit.CopyOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies[to.ChatID]++
	if err := pop(f.copyErr, to.ChatID); err != nil {
		return kit.MessageRef{}, err
	}
	f.seq++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.seq}, nil
}

func (f *fakeAPI) Pin(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins[ref.ChatID]++
	return pop(f.pinErr, ref.ChatID)
}

func (f *fakeAPI) Delete(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestEngine(cfg Config, dir Directory, api Messenger) *Engine {
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 10000
	}
	return New(cfg, dir, api, logx.Nop(), WithSleeper(noSleep))
}

var source = kit.MessageRef{ChatID: 9, MessageID: 42}

func TestRunClassifiesOutcomes(t *testing.T) {
	t.Parallel()
	dir := &fakeDir{ids: []int64{1, 2, 3, 4, 5}}
	api := newFakeAPI()
	api.copyErr[2] = []error{kit.ErrBlocked}
	api.copyErr[4] = []error{kit.RateLimited(time.Second, nil), nil}
	e := newTestEngine(Config{}, dir, api)

	var progress []Report
	rep, err := e.Run(context.Background(), Request{Source: source, Progress: func(r Report) { progress = append(progress, r) }})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Total != 5 || rep.Delivered != 4 || rep.Blocked != 1 || rep.Failed != 0 || rep.Retried != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := rep.SuccessRatio(); got != 0.8 {
		t.Fatalf("ratio = %v, want 0.8", got)
	}
	if len(dir.removed) != 1 || dir.removed[0] != 2 {
		t.Fatalf("removed = %v, want [2]", dir.removed)
	}
	if api.copies[4] != 2 {
		t.Fatalf("copies to 4 = %d, want 2", api.copies[4])
	}
	for id, n := range api.copies {
		if n > 2 {
			t.Fatalf("recipient %d contacted %d times", id, n)
		}
	}
	if len(progress) != 1 || progress[0].Processed != 5 {
		t.Fatalf("progress = %+v, want one chunk of 5", progress)
	}
}

func TestRunEmptyAudience(t *testing.T) {
	t.Parallel()
	api := newFakeAPI()
	e := newTestEngine(Config{}, &fakeDir{}, api)

	called := false
	rep, err := e.Run(context.Background(), Request{Source: source, Progress: func(Report) { called = true }})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Empty || rep.Total != 0 || rep.Chunks != 0 {
		t.Fatalf("report = %+v, want empty", rep)
	}
	if rep.SuccessRatio() != 0 {
		t.Fatalf("ratio = %v, want 0", rep.SuccessRatio())
	}
	if called || len(api.copies) != 0 {
		t.Fatal("empty audience must not process any chunk")
	}
}

func TestRunListError(t *testing.T) {
	t.Parallel()
	e := newTestEngine(Config{}, &fakeDir{listErr: errors.New("db down")}, newFakeAPI())
	if _, err := e.Run(context.Background(), Request{Source: source}); err == nil {
		t.Fatal("expected error from recipient listing")
	}
}

func TestSecondRateLimitCountsAsFailed(t *testing.T) {
	t.Parallel()
	dir := &fakeDir{ids: []int64{7}}
	api := newFakeAPI()
	api.copyErr[7] = []error{kit.RateLimited(time.Second, nil), kit.RateLimited(time.Second, nil)}
	e := newTestEngine(Config{}, dir, api)

	rep, _ := e.Run(context.Background(), Request{Source: source})
	if rep.Failed != 1 || rep.Retried != 1 || rep.Delivered != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if api.copies[7] != 2 {
		t.Fatalf("copies = %d, want 2", api.copies[7])
	}
	if len(dir.removed) != 0 {
		t.Fatalf("rate-limited recipient removed: %v", dir.removed)
	}
}

func TestDeactivatedIsRemoved(t *testing.T) {
	t.Parallel()
	dir := &fakeDir{ids: []int64{1, 2}}
	api := newFakeAPI()
	api.copyErr[1] = []error{kit.ErrDeactivated}
	api.copyErr[2] = []error{errors.New("chat not found")}
	e := newTestEngine(Config{}, dir, api)

	rep, _ := e.Run(context.Background(), Request{Source: source})
	if rep.Deactivated != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(dir.removed) != 1 || dir.removed[0] != 1 {
		t.Fatalf("removed = %v, want [1]", dir.removed)
	}
}

func TestPinnedRetryResumesAtPin(t *testing.T) {
	t.Parallel()
	dir := &fakeDir{ids: []int64{3}}
	api := newFakeAPI()
	api.pinErr[3] = []error{kit.RateLimited(2*time.Second, nil), nil}
	e := newTestEngine(Config{}, dir, api)

	rep, _ := e.Run(context.Background(), Request{Source: source, Mode: Pinned})
	if rep.Delivered != 1 || rep.Retried != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if api.copies[3] != 1 || api.pins[3] != 2 {
		t.Fatalf("copies = %d pins = %d, want 1 and 2", api.copies[3], api.pins[3])
	}
}

func TestChunkedProgressIsCumulative(t *testing.T) {
	t.Parallel()
	ids := make([]int64, 120)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	e := newTestEngine(Config{PlainChunk: 50, HeavyChunk: 40}, &fakeDir{ids: ids}, newFakeAPI())

	var plain, heavy []int
	e.Run(context.Background(), Request{Source: source, Progress: func(r Report) { plain = append(plain, r.Processed) }})
	e.Run(context.Background(), Request{Source: source, Mode: Pinned, Progress: func(r Report) { heavy = append(heavy, r.Processed) }})

	if len(plain) != 3 || plain[0] != 50 || plain[1] != 100 || plain[2] != 120 {
		t.Fatalf("plain progress = %v", plain)
	}
	if len(heavy) != 3 || heavy[0] != 40 || heavy[2] != 120 {
		t.Fatalf("pinned progress = %v", heavy)
	}
}

func TestAutoDeleteRemovesCopies(t *testing.T) {
	t.Parallel()
	api := newFakeAPI()
	api.copyErr[2] = []error{kit.ErrBlocked}
	e := newTestEngine(Config{}, &fakeDir{ids: []int64{1, 2, 3}}, api)

	rep, _ := e.Run(context.Background(), Request{Source: source, Mode: AutoDelete, AutoDelete: 10 * time.Millisecond})
	if rep.AutoDelete != 10*time.Millisecond || rep.Delivered != 2 {
		t.Fatalf("report = %+v", rep)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	chats := make([]int, 0, len(api.deletes))
	for _, d := range api.deletes {
		chats = append(chats, int(d.ChatID))
	}
	sort.Ints(chats)
	if len(chats) != 2 || chats[0] != 1 || chats[1] != 3 {
		t.Fatalf("deleted chats = %v, want [1 3]", chats)
	}
}

func TestDrainTimesOutThenReturnsAfterStop(t *testing.T) {
	t.Parallel()
	api := newFakeAPI()
	e := newTestEngine(Config{}, &fakeDir{ids: []int64{1}}, api)
	e.Start(context.Background())

	if rep, _ := e.Run(context.Background(), Request{Source: source, Mode: AutoDelete, AutoDelete: time.Hour}); rep.Delivered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain with pending timer = %v, want deadline exceeded", err)
	}

	ctx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain after Stop: %v", err)
	}
}

func TestSubmitRunsOnWorker(t *testing.T) {
	t.Parallel()
	e := newTestEngine(Config{}, &fakeDir{ids: []int64{1, 2}}, newFakeAPI())
	if _, err := e.Submit(Request{Source: source}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit before Start err = %v", err)
	}

	e.Start(context.Background())
	defer e.Stop(context.Background())

	id, err := e.Submit(Request{Name: "hello", Source: source})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, ok := e.Status(id)
		if !ok {
			t.Fatal("status missing")
		}
		if !st.DoneAt.IsZero() {
			if st.Report.Delivered != 2 || st.Name != "hello" {
				t.Fatalf("status = %+v", st)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
