// Package delivery copies archived content into a requester's chat.
package delivery

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"filegate/internal/archive"
	"filegate/internal/observability/metrics"
	"filegate/internal/retry"
	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

const (
	PlaceholderCaption  = "{previouscaption}"
	PlaceholderFileName = "{filename}"

	defaultPause = 500 * time.Millisecond
)

type Config struct {
	// CaptionTemplate is applied to labeled files. Empty keeps original captions.
	CaptionTemplate string
	ProtectContent  bool
	// Pause between consecutive copies of one batch.
	Pause     time.Duration
	ParseMode string
	// MaxWait caps a rate-limit backoff on a single copy (0 = honor hint).
	MaxWait time.Duration
}

// Copier is the slice of the transport the service needs.
type Copier interface {
	Copy(ctx context.Context, to kit.ChatTarget, from kit.MessageRef, opt *kit.CopyOptions) (kit.MessageRef, error)
}

// Result of a batch delivery.
type Result struct {
	Delivered []kit.MessageRef
	Skipped   int
}

type Service struct {
	mu  sync.RWMutex
	cfg Config

	source  int64 // archival channel id
	copier  Copier
	log     logx.Logger
	metrics *metrics.Metrics
	sleep   retry.Sleeper
}

type Option func(*Service)

func WithSleeper(s retry.Sleeper) Option { return func(d *Service) { d.sleep = s } }
func WithMetrics(m *metrics.Metrics) Option { return func(d *Service) { d.metrics = m } }

func New(cfg Config, source int64, copier Copier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: normalize(cfg), source: source, copier: copier, log: log, sleep: retry.Sleep}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(cfg Config) Config {
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if cfg.Pause == 0 {
		cfg.Pause = defaultPause
	}
	return cfg
}

// Apply swaps the runtime config (hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = normalize(cfg)
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Deliver copies items to dest in order. Failed items are logged and skipped.
func (s *Service) Deliver(ctx context.Context, items []archive.Item, dest kit.ChatTarget) Result {
	cfg := s.config()
	res := Result{Delivered: make([]kit.MessageRef, 0, len(items))}
	for i, it := range items {
		if i > 0 {
			if err := s.sleep(ctx, cfg.Pause); err != nil {
				res.Skipped += len(items) - i
				s.log.Warn("delivery interrupted", logx.Int("remaining", len(items)-i), logx.Err(err))
				break
			}
		}
		ref, err := s.deliverOne(ctx, cfg, it, dest)
		if err != nil {
			res.Skipped++
			if errors.Is(err, kit.ErrNotFound) {
				s.log.Debug("archived message unavailable", logx.Int("msg_id", it.ID))
			} else {
				s.log.Warn("delivery failed; skipping item", logx.Int("msg_id", it.ID), logx.Int64("chat_id", dest.ChatID), logx.Err(err))
			}
			continue
		}
		res.Delivered = append(res.Delivered, ref)
	}
	s.metrics.Delivery(len(res.Delivered), res.Skipped)
	return res
}

// DeliverOne copies a single item to dest.
func (s *Service) DeliverOne(ctx context.Context, it archive.Item, dest kit.ChatTarget) (kit.MessageRef, error) {
	return s.deliverOne(ctx, s.config(), it, dest)
}

func (s *Service) deliverOne(ctx context.Context, cfg Config, it archive.Item, dest kit.ChatTarget) (kit.MessageRef, error) {
	opt := &kit.CopyOptions{
		Caption:   RenderCaption(cfg.CaptionTemplate, cfg.ParseMode, it.Content),
		ParseMode: cfg.ParseMode,
		Protected: cfg.ProtectContent,
	}
	from := kit.MessageRef{ChatID: s.source, MessageID: it.ID}
	out, _ := retry.Once(ctx, s.sleep, cfg.MaxWait, func(ctx context.Context, attempt int) retry.Outcome[kit.MessageRef] {
		ref, err := s.copier.Copy(ctx, dest, from, opt)
		return retry.From(ref, err)
	})
	if out.Kind != retry.Success {
		return kit.MessageRef{}, out.Err
	}
	return out.Value, nil
}

// RenderCaption returns the caption override for c, or nil to keep the original.
func RenderCaption(tmpl, parseMode string, c kit.Content) *string {
	if strings.TrimSpace(tmpl) == "" || !c.IsLabeledFile() {
		return nil
	}
	esc := func(s string) string { return s }
	if strings.EqualFold(parseMode, "HTML") {
		esc = html.EscapeString
	}
	out := strings.NewReplacer(
		PlaceholderCaption, esc(c.Caption),
		PlaceholderFileName, esc(c.FileName),
	).Replace(tmpl)
	out = strings.TrimSpace(out)
	return &out
}
