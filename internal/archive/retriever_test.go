package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "filegate/internal/transport"
)

// fakeStore resolves ids present in known and scripts per-call errors.
type fakeStore struct {
	mu    sync.Mutex
	known map[int]bool
	calls [][]int
	// script returns an error (and how many leading items to resolve) for call n (0-based).
	script func(n int) (resolve int, err error)
}

func (f *fakeStore) Fetch(_ context.Context, ids []int) ([]*Item, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, append([]int(nil), ids...))
	f.mu.Unlock()

	resolve := len(ids)
	var err error
	if f.script != nil {
		resolve, err = f.script(n)
	}
	out := make([]*Item, len(ids))
	for i, id := range ids {
		if i >= resolve {
			break
		}
		if f.known == nil || f.known[id] {
			out[i] = &Item{ID: id, Content: kit.Content{Kind: kit.ContentText, Text: "x"}}
		}
	}
	if err != nil && resolve == 0 {
		return nil, err
	}
	return out, err
}

func noSleep(context.Context, time.Duration) error { return nil }

func itemIDs(items []Item) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestFetchPreservesOrderAndSkipsMissing(t *testing.T) {
	t.Parallel()
	st := &fakeStore{known: map[int]bool{5: true, 9: true}}
	r := NewRetriever(RetrieverConfig{}, st, testLogger(), WithSleeper(noSleep))

	got, err := r.Fetch(context.Background(), []int{5, 3, 9})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ids := itemIDs(got)
	if len(ids) != 2 || ids[0] != 5 || ids[1] != 9 {
		t.Fatalf("ids = %v, want [5 9]", ids)
	}
}

func TestFetchBatchesBySize(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	r := NewRetriever(RetrieverConfig{BatchSize: 100}, st, testLogger(), WithSleeper(noSleep))

	ids := make([]int, 250)
	for i := range ids {
		ids[i] = i + 1
	}
	got, err := r.Fetch(context.Background(), ids)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 250 {
		t.Fatalf("len = %d, want 250", len(got))
	}
	if len(st.calls) != 3 {
		t.Fatalf("store calls = %d, want 3", len(st.calls))
	}
	for i, want := range []int{100, 100, 50} {
		if len(st.calls[i]) != want {
			t.Fatalf("call %d size = %d, want %d", i, len(st.calls[i]), want)
		}
	}
}

func TestBatchSizeCappedAtStoreMaximum(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	r := NewRetriever(RetrieverConfig{BatchSize: 500}, st, testLogger(), WithSleeper(noSleep))

	ids := make([]int, 150)
	for i := range ids {
		ids[i] = i + 1
	}
	if _, err := r.Fetch(context.Background(), ids); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(st.calls) != 2 || len(st.calls[0]) != DefaultBatchSize || len(st.calls[1]) != 50 {
		t.Fatalf("call sizes = %d calls, want [100 50]", len(st.calls))
	}
}

func TestFetchRetriesRateLimitedBatchOnce(t *testing.T) {
	t.Parallel()
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil }
	st := &fakeStore{script: func(n int) (int, error) {
		if n == 0 {
			return 0, kit.RateLimited(3*time.Second, nil)
		}
		return 1 << 30, nil
	}}
	r := NewRetriever(RetrieverConfig{}, st, testLogger(), WithSleeper(sleep))

	got, err := r.Fetch(context.Background(), []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 3 || len(st.calls) != 2 {
		t.Fatalf("items = %d calls = %d, want 3 and 2", len(got), len(st.calls))
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("slept = %v, want [3s]", slept)
	}
}

func TestFetchSecondRateLimitKeepsResolvedItems(t *testing.T) {
	t.Parallel()
	st := &fakeStore{script: func(n int) (int, error) {
		// Both attempts hit the limit; the second resolved the first two ids.
		if n == 0 {
			return 0, kit.RateLimited(time.Second, nil)
		}
		return 2, kit.RateLimited(time.Second, nil)
	}}
	r := NewRetriever(RetrieverConfig{}, st, testLogger(), WithSleeper(noSleep))

	got, err := r.Fetch(context.Background(), []int{10, 11, 12, 13})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ids := itemIDs(got)
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 11 {
		t.Fatalf("ids = %v, want [10 11]", ids)
	}
	if len(st.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (no third attempt)", len(st.calls))
	}
}

func TestFetchDropsFailedBatchFailSoft(t *testing.T) {
	t.Parallel()
	st := &fakeStore{script: func(n int) (int, error) {
		if n == 1 {
			return 0, errors.New("transport down")
		}
		return 1 << 30, nil
	}}
	r := NewRetriever(RetrieverConfig{BatchSize: 2}, st, testLogger(), WithSleeper(noSleep))

	got, err := r.Fetch(context.Background(), []int{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ids := itemIDs(got)
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 5 {
		t.Fatalf("ids = %v, want [1 2 5]", ids)
	}
	if len(st.calls) != 3 {
		t.Fatalf("calls = %d, want 3 (errors are not retried)", len(st.calls))
	}
}

func TestFetchAllBatchesFailedIsTerminal(t *testing.T) {
	t.Parallel()
	st := &fakeStore{script: func(int) (int, error) { return 0, errors.New("down") }}
	r := NewRetriever(RetrieverConfig{}, st, testLogger(), WithSleeper(noSleep))

	if _, err := r.Fetch(context.Background(), []int{1, 2}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestIndexStoreAlignsWithRequest(t *testing.T) {
	t.Parallel()
	idx := mapIndex{4: {Kind: kit.ContentDocument, FileName: "a.pdf"}}
	got, err := NewIndexStore(idx).Fetch(context.Background(), []int{3, 4})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got[0] != nil || got[1] == nil || got[1].Content.FileName != "a.pdf" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

type mapIndex map[int]kit.Content

func (m mapIndex) LookupArchive(_ context.Context, ids []int) (map[int]kit.Content, error) {
	out := map[int]kit.Content{}
	for _, id := range ids {
		if c, ok := m[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}
