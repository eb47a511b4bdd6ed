package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"filegate/internal/observability/metrics"
	"filegate/internal/retry"
	logx "filegate/pkg/logx"
)

// DefaultBatchSize matches the store's maximum bulk read.
const DefaultBatchSize = 100

// ErrStoreUnavailable is returned when every batch failed.
var ErrStoreUnavailable = errors.New("content store unavailable")

type RetrieverConfig struct {
	BatchSize int
	// MaxWait caps a single rate-limit backoff (0 = honor the store's hint).
	MaxWait time.Duration
}

type Retriever struct {
	cfg     RetrieverConfig
	store   ContentStore
	log     logx.Logger
	metrics *metrics.Metrics
	sleep   retry.Sleeper
}

type RetrieverOption func(*Retriever)

func WithSleeper(s retry.Sleeper) RetrieverOption { return func(r *Retriever) { r.sleep = s } }

func WithMetrics(m *metrics.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

func NewRetriever(cfg RetrieverConfig, store ContentStore, log logx.Logger, opts ...RetrieverOption) *Retriever {
	if cfg.BatchSize <= 0 || cfg.BatchSize > DefaultBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Retriever{cfg: cfg, store: store, log: log, sleep: retry.Sleep}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Fetch resolves ids in order, skipping the ones that resolve to nothing.
//
// Batches are fail-soft: a failing batch is logged and dropped. The error is
// non-nil only when no batch could be read at all.
func (r *Retriever) Fetch(ctx context.Context, ids []int) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]Item, 0, len(ids))
	var (
		failed  int
		lastErr error
	)
	batches := lo.Chunk(ids, r.cfg.BatchSize)
	for i, batch := range batches {
		res, rep := retry.Once(ctx, r.sleep, r.cfg.MaxWait, func(ctx context.Context, attempt int) retry.Outcome[[]*Item] {
			items, err := r.store.Fetch(ctx, batch)
			return retry.From(items, err)
		})
		if rep.Attempts > 1 {
			r.log.Debug("batch retried after rate limit", logx.Int("batch", i), logx.Duration("waited", rep.Waited))
		}

		switch res.Kind {
		case retry.Success:
			r.metrics.FetchBatch("ok")
		case retry.RateLimited:
			r.metrics.FetchBatch("rate_limited")
			kept := len(lo.Compact(res.Value))
			r.log.Warn("batch rate limited twice; keeping resolved items",
				logx.Int("batch", i),
				logx.Int("size", len(batch)),
				logx.Int("kept", kept),
				logx.Duration("wait", res.Wait),
			)
		default:
			r.metrics.FetchBatch("failed")
			failed++
			lastErr = res.Err
			r.log.Warn("batch fetch failed; dropping", logx.Int("batch", i), logx.Int("size", len(batch)), logx.Err(res.Err))
			continue
		}

		for _, it := range res.Value {
			if it != nil {
				out = append(out, *it)
			}
		}
	}

	if failed == len(batches) && lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
	}
	return out, nil
}
