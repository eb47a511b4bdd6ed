package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"filegate/internal/observability/metrics"
	"filegate/internal/retry"
	rtsup "filegate/internal/runtime/supervisor"
	logx "filegate/pkg/logx"
)

const (
	defaultRPS        = 10
	defaultPlainChunk = 100
	defaultHeavyChunk = 50
	defaultQueue      = 16

	// Status memory stays bounded; broadcasts are infrequent but never reaped otherwise.
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

var (
	ErrNotRunning = errors.New("broadcast: engine not running")
	ErrQueueFull  = errors.New("broadcast: queue full")
)

type Option func(*Engine)

func WithSleeper(s retry.Sleeper) Option { return func(e *Engine) { e.sleep = s } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func New(cfg Config, dir Directory, api Messenger, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = normalize(cfg)
	e := &Engine{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dir:       dir,
		api:       api,
		log:       log,
		sleep:     retry.Sleep,
		queue:     make(chan job, cfg.QueueSize),
		status:    map[string]*JobStatus{},
		statusMax: defaultStatusMax,
		statusTTL: defaultStatusTTL,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func normalize(cfg Config) Config {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRPS
	}
	if cfg.PlainChunk <= 0 {
		cfg.PlainChunk = defaultPlainChunk
	}
	if cfg.HeavyChunk <= 0 {
		cfg.HeavyChunk = defaultHeavyChunk
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueue
	}
	return cfg
}

// Apply swaps pacing and chunking. Worker count and queue size apply on next Start.
func (e *Engine) Apply(cfg Config) {
	cfg = normalize(cfg)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (e *Engine) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup != nil {
		return
	}
	e.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(e.log.With(logx.String("comp", "broadcast"))),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < e.cfg.Workers; i++ {
		idx := i
		e.workerWG.Add(1)
		e.sup.Go0("broadcast.worker", func(ctx context.Context) {
			defer e.workerWG.Done()
			e.worker(ctx, idx)
		})
	}
	e.log.Info("broadcast engine started", logx.Int("workers", e.cfg.Workers), logx.Int("rps", e.cfg.RatePerSec))
}

// Supervisor returns the worker supervisor (nil until Start).
func (e *Engine) Supervisor() *rtsup.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup
}

// Stop cancels running broadcasts and pending auto-delete timers.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	sup, timers := e.sup, e.timerSup
	e.sup, e.timerSup = nil, nil
	e.mu.Unlock()
	if timers != nil {
		if n := e.pendingDeletes.Load(); n > 0 {
			e.log.Warn("stopping with pending auto-deletes", logx.Int64("messages", n))
		}
		_ = timers.Stop(ctx)
	}
	if sup == nil {
		return nil
	}
	start := time.Now()
	err := sup.Stop(ctx)
	e.log.Info("broadcast engine stopped", logx.Duration("took", time.Since(start)))
	return err
}

func (e *Engine) worker(ctx context.Context, idx int) {
	e.log.Debug("broadcast worker started", logx.Int("worker", idx))
	defer e.log.Debug("broadcast worker stopped", logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.queue:
			e.execJob(ctx, j)
		}
	}
}

func (e *Engine) execJob(ctx context.Context, j job) {
	e.statusMu.Lock()
	if st := e.status[j.id]; st != nil {
		st.Running = true
		st.StartedAt = time.Now()
	}
	e.statusMu.Unlock()

	progress := j.req.Progress
	j.req.Progress = func(r Report) {
		e.statusMu.Lock()
		if st := e.status[j.id]; st != nil {
			st.Report = r
		}
		e.statusMu.Unlock()
		if progress != nil {
			progress(r)
		}
	}
	rep, err := e.run(ctx, j.id, j.req)
	if err != nil {
		e.log.Warn("broadcast job failed", logx.String("job", j.id), logx.String("name", j.req.Name), logx.Err(err))
	}

	e.statusMu.Lock()
	if st := e.status[j.id]; st != nil {
		st.Report = rep
		st.Running = false
		st.DoneAt = time.Now()
	}
	e.statusMu.Unlock()
	if j.req.Done != nil {
		j.req.Done(rep, err)
	}
}

// Submit enqueues req and returns its job id. The job runs on a worker.
func (e *Engine) Submit(req Request) (string, error) {
	e.mu.Lock()
	running := e.sup != nil
	e.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	now := time.Now()
	id := newID()
	e.pruneStatus(now)
	e.statusMu.Lock()
	e.status[id] = &JobStatus{ID: id, Name: req.Name, Mode: req.Mode, QueuedAt: now}
	e.statusMu.Unlock()

	select {
	case e.queue <- job{id: id, req: req}:
		e.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", req.Name), logx.Int("queue_len", len(e.queue)), logx.Int("queue_cap", cap(e.queue)))
		return id, nil
	default:
		e.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.String("name", req.Name))
		e.statusMu.Lock()
		delete(e.status, id)
		e.statusMu.Unlock()
		return "", ErrQueueFull
	}
}

func (e *Engine) Status(id string) (JobStatus, bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	st, ok := e.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func newID() string {
	u, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("bc-%d", time.Now().UnixNano())
	}
	return u.String()
}
