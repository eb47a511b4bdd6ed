// Package maintenance runs periodic housekeeping for the directory store:
// a liveness ping that feeds /healthz and pruning of old audit rows.
//
// Jobs are cron specs (5 fields, optional seconds, or descriptors such as
// "@every 1m" and "@daily") evaluated in Config.Timezone.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "filegate/pkg/logx"
)

const (
	JobPing       = "store.ping"
	JobAuditPrune = "audit.prune"

	defaultJobTimeout = 30 * time.Second
)

type Config struct {
	Enabled        bool
	Timezone       string
	PingSpec       string
	AuditPruneSpec string
	// AuditRetention keeps rows younger than this; 0 disables pruning.
	AuditRetention time.Duration
	JobTimeout     time.Duration
}

// Store is the slice of storage the jobs touch.
type Store interface {
	Ping(ctx context.Context) error
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

// Status is the last observed store health.
type Status struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
	Err       string    `json:"err,omitempty"`
	Pruned    int64     `json:"pruned_total"`
}

type Service struct {
	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	ctx   context.Context
	store Store
	log   logx.Logger

	parser cron.Parser
	now    func() time.Time

	status atomic.Value // Status
	pruned atomic.Int64
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
	s.status.Store(Status{})
	return s
}

// Validate reports whether cfg's specs and timezone parse.
func (s *Service) Validate(cfg Config) error {
	var errs []error
	if _, err := s.location(cfg); err != nil {
		errs = append(errs, err)
	}
	for name, spec := range map[string]string{JobPing: cfg.PingSpec, JobAuditPrune: cfg.AuditPruneSpec} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := s.parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid spec %q: %w", name, spec, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) location(cfg Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// Start schedules the jobs and pings the store once. Start is a no-op when
// the service is disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	if s.c != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	err := s.startLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_ = s.RunPing(ctx)
	return nil
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if err := s.Validate(cfg); err != nil {
		return err
	}
	loc, _ := s.location(cfg)
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if spec := strings.TrimSpace(cfg.PingSpec); spec != "" {
		if _, err := c.AddFunc(spec, func() { _ = s.RunPing(s.jobContext()) }); err != nil {
			return err
		}
	}
	if spec := strings.TrimSpace(cfg.AuditPruneSpec); spec != "" && cfg.AuditRetention > 0 {
		if _, err := c.AddFunc(spec, func() { _, _ = s.RunPrune(s.jobContext()) }); err != nil {
			return err
		}
	}
	c.Start()
	s.c = c
	s.log.Debug("maintenance started",
		logx.String("ping", cfg.PingSpec),
		logx.String("prune", cfg.AuditPruneSpec),
		logx.Duration("retention", cfg.AuditRetention),
	)
	return nil
}

func (s *Service) jobContext() context.Context {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Stop halts scheduling and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config and restarts the scheduler when it is running.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.c
	s.c = nil
	s.cfg = cfg
	if ctx != nil {
		s.ctx = ctx
	}
	s.mu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !cfg.Enabled || s.ctx == nil || s.c != nil {
		return nil
	}
	return s.startLocked()
}

func (s *Service) timeout() time.Duration {
	s.mu.Lock()
	d := s.cfg.JobTimeout
	s.mu.Unlock()
	if d <= 0 {
		return defaultJobTimeout
	}
	return d
}

// RunPing checks the store and records the result.
func (s *Service) RunPing(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	err := s.store.Ping(ctx)
	st := Status{OK: err == nil, CheckedAt: s.now(), Pruned: s.pruned.Load()}
	if err != nil {
		st.Err = err.Error()
		prev := s.Status()
		if prev.OK || prev.CheckedAt.IsZero() {
			s.log.Warn("store ping failed", logx.Err(err))
		}
	} else if prev := s.Status(); !prev.OK && !prev.CheckedAt.IsZero() {
		s.log.Info("store ping recovered")
	}
	s.status.Store(st)
	return err
}

// RunPrune deletes audit rows older than the retention window.
func (s *Service) RunPrune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	keep := s.cfg.AuditRetention
	s.mu.Unlock()
	if keep <= 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	cutoff := s.now().Add(-keep)
	n, err := s.store.PruneAudit(ctx, cutoff)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
		return 0, err
	}
	s.pruned.Add(n)
	st := s.Status()
	st.Pruned = s.pruned.Load()
	s.status.Store(st)
	if n > 0 {
		s.log.Info("audit pruned", logx.Int64("rows", n), logx.Time("before", cutoff))
	}
	return n, nil
}

func (s *Service) Status() Status {
	st, _ := s.status.Load().(Status)
	return st
}

// cronLogger routes cron's internal logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
