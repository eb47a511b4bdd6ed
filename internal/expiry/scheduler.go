// Package expiry deletes delivered messages after a delay.
//
// Pending batches live in memory only: a restart while a batch is Scheduled
// loses that deletion.
package expiry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"filegate/internal/observability/metrics"
	rtsup "filegate/internal/runtime/supervisor"
	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

type State int

const (
	Scheduled State = iota
	Expiring
	Completed
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Expiring:
		return "expiring"
	default:
		return "completed"
	}
}

// Messenger is the slice of the transport the scheduler needs.
type Messenger interface {
	Delete(ctx context.Context, ref kit.MessageRef) error
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// NoticeRenderer formats the completion edit.
type NoticeRenderer func(deleted, total int) string

func DefaultNotice(deleted, total int) string {
	return fmt.Sprintf("🗑 %d of %d file(s) deleted.", deleted, total)
}

// Snapshot counts batches per state. Completed is cumulative.
type Snapshot struct {
	Scheduled int    `json:"scheduled"`
	Expiring  int    `json:"expiring"`
	Completed uint64 `json:"completed"`
}

type batch struct {
	id       string
	messages []kit.MessageRef
	notice   kit.MessageRef
	delay    time.Duration
	state    State
}

type Scheduler struct {
	api     Messenger
	log     logx.Logger
	metrics *metrics.Metrics
	render  NoticeRenderer

	// deleteTimeout bounds each delete/edit call once expiring.
	deleteTimeout time.Duration

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	batches map[string]*batch

	seq       atomic.Uint64
	completed atomic.Uint64
	wg        sync.WaitGroup
}

type Option func(*Scheduler)

func WithNotice(r NoticeRenderer) Option { return func(s *Scheduler) { s.render = r } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }
func WithDeleteTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.deleteTimeout = d
		}
	}
}

func New(api Messenger, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		api:           api,
		log:           log,
		render:        DefaultNotice,
		deleteTimeout: 10 * time.Second,
		batches:       map[string]*batch{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds the scheduler to ctx. Batches scheduled before Start run on a
// background supervisor.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "expiry"))),
		rtsup.WithCancelOnError(false),
	)
}

// Supervisor returns the internal supervisor (nil before Start).
func (s *Scheduler) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Scheduler) supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		s.sup = rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	}
	return s.sup
}

// Schedule registers messages for deletion after delay and returns the batch id.
// notice, when non-zero, is edited once with the deleted count.
func (s *Scheduler) Schedule(messages []kit.MessageRef, notice kit.MessageRef, delay time.Duration) string {
	b := &batch{
		id:       "exp-" + strconv.FormatUint(s.seq.Add(1), 36),
		messages: append([]kit.MessageRef(nil), messages...),
		notice:   notice,
		delay:    delay,
		state:    Scheduled,
	}
	sup := s.supervisor()

	s.mu.Lock()
	s.batches[b.id] = b
	s.mu.Unlock()
	s.metrics.ExpiryPending(1)
	s.wg.Add(1)

	s.log.Debug("expiry scheduled", logx.String("batch", b.id), logx.Int("messages", len(b.messages)), logx.Duration("delay", delay))
	sup.Go0("expiry.batch", func(ctx context.Context) {
		defer s.wg.Done()
		s.run(ctx, b)
	})
	return b.id
}

func (s *Scheduler) run(ctx context.Context, b *batch) {
	if b.delay > 0 {
		t := time.NewTimer(b.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.forget(b)
			s.log.Warn("expiry dropped on shutdown", logx.String("batch", b.id), logx.Int("messages", len(b.messages)))
			return
		case <-t.C:
		}
	}

	s.setState(b, Expiring)
	// Once expiring, finish even if the parent is shutting down.
	dctx := context.WithoutCancel(ctx)

	deleted := 0
	for _, ref := range b.messages {
		cctx, cancel := context.WithTimeout(dctx, s.deleteTimeout)
		err := s.api.Delete(cctx, ref)
		cancel()
		s.metrics.ExpiryDelete(err == nil)
		if err != nil {
			s.log.Warn("expiry delete failed", logx.String("batch", b.id), logx.Int64("chat_id", ref.ChatID), logx.Int("msg_id", ref.MessageID), logx.Err(err))
			continue
		}
		deleted++
	}

	if b.notice.MessageID != 0 {
		cctx, cancel := context.WithTimeout(dctx, s.deleteTimeout)
		if err := s.api.EditText(cctx, b.notice, s.render(deleted, len(b.messages)), nil); err != nil {
			s.log.Warn("expiry notice edit failed", logx.String("batch", b.id), logx.Err(err))
		}
		cancel()
	}

	s.setState(b, Completed)
	s.forget(b)
	s.completed.Add(1)
	s.log.Info("expiry completed", logx.String("batch", b.id), logx.Int("deleted", deleted), logx.Int("total", len(b.messages)))
}

func (s *Scheduler) setState(b *batch, st State) {
	s.mu.Lock()
	b.state = st
	s.mu.Unlock()
}

func (s *Scheduler) forget(b *batch) {
	s.mu.Lock()
	_, ok := s.batches[b.id]
	delete(s.batches, b.id)
	s.mu.Unlock()
	if ok {
		s.metrics.ExpiryPending(-1)
	}
}

// State reports a batch's current state. Unknown ids (already finished) are Completed.
func (s *Scheduler) State(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		return b.state
	}
	return Completed
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{}
	for _, b := range s.batches {
		switch b.state {
		case Scheduled:
			snap.Scheduled++
		case Expiring:
			snap.Expiring++
		}
	}
	s.mu.Unlock()
	snap.Completed = s.completed.Load()
	return snap
}

// Wait blocks until every scheduled batch has finished or ctx is done.
// On timeout the helper goroutine stays parked until the batches end; Wait
// is only called on shutdown paths, where that is bounded by Stop.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop cancels pending batches and waits for expiring ones to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	pending := len(s.batches)
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if pending > 0 {
		s.log.Warn("stopping with pending expiries", logx.Int("batches", pending))
	}
	return sup.Stop(ctx)
}
