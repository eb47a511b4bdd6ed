package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"filegate/internal/retry"
	rtsup "filegate/internal/runtime/supervisor"
	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

const autoDeleteTimeout = 10 * time.Second

// Run executes req synchronously and returns the aggregate report.
func (e *Engine) Run(ctx context.Context, req Request) (Report, error) {
	return e.run(ctx, newID(), req)
}

func (e *Engine) run(ctx context.Context, id string, req Request) (Report, error) {
	cfg, lim := e.snapshot()
	rep := Report{ID: id, Mode: req.Mode.String(), StartedAt: time.Now()}
	if req.Mode == AutoDelete {
		rep.AutoDelete = req.AutoDelete
	}
	log := e.log.With(logx.String("job", id), logx.String("mode", rep.Mode))

	recipients := req.Recipients
	if recipients == nil {
		if e.dir == nil {
			rep.FinishedAt = time.Now()
			return rep, errors.New("broadcast: no recipient directory")
		}
		list, err := e.dir.ListRecipients(ctx)
		if err != nil {
			rep.FinishedAt = time.Now()
			return rep, fmt.Errorf("list recipients: %w", err)
		}
		recipients = list
	}

	rep.Total = len(recipients)
	if rep.Total == 0 {
		rep.Empty = true
		rep.FinishedAt = time.Now()
		log.Info("broadcast skipped: no recipients")
		return rep, nil
	}

	size := cfg.PlainChunk
	if req.Mode != Plain {
		size = cfg.HeavyChunk
	}
	log.Info("broadcast job started", logx.String("name", req.Name), logx.Int("total", rep.Total), logx.Int("chunk", size))

	for _, chunk := range lo.Chunk(recipients, size) {
		for _, uid := range chunk {
			if ctx.Err() != nil {
				rep.Aborted = true
				break
			}
			o, retried := e.sendOne(ctx, cfg, lim, req, log, uid)
			if retried {
				rep.Retried++
			}
			rep.add(o)
			e.metrics.BroadcastOutcome(rep.Mode, string(o))
		}
		if rep.Aborted {
			break
		}
		rep.Chunks++
		if req.Progress != nil {
			req.Progress(rep)
		}
	}

	rep.FinishedAt = time.Now()
	dur := rep.FinishedAt.Sub(rep.StartedAt)
	e.metrics.BroadcastRun(rep.Mode, dur)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("blocked", rep.Blocked),
		logx.Int("deactivated", rep.Deactivated),
		logx.Int("failed", rep.Failed),
		logx.Int("retried", rep.Retried),
		logx.Float64("success", rep.SuccessRatio()),
		logx.Duration("dur", dur),
	}
	switch {
	case rep.Aborted:
		log.Warn("broadcast job aborted", append(fields, logx.Int("processed", rep.Processed))...)
	case rep.Failed > 0:
		log.Warn("broadcast job finished with failures", fields...)
	default:
		log.Info("broadcast job finished", fields...)
	}
	return rep, nil
}

// sendOne contacts one recipient. A rate-limited step is retried once and the
// retry resumes at that step, so a copy that already landed is never repeated.
func (e *Engine) sendOne(ctx context.Context, cfg Config, lim *rate.Limiter, req Request, log logx.Logger, uid int64) (Outcome, bool) {
	to := kit.ChatTarget{ChatID: uid}
	var sent *kit.MessageRef

	out, rr := retry.Once(ctx, e.sleep, cfg.MaxWait, func(ctx context.Context, attempt int) retry.Outcome[kit.MessageRef] {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return retry.Fail[kit.MessageRef](err)
			}
		}
		if sent == nil {
			ref, err := e.api.Copy(ctx, to, req.Source, &kit.CopyOptions{})
			if err != nil {
				return retry.From(ref, err)
			}
			sent = &ref
		}
		if req.Mode == Pinned {
			if err := e.api.Pin(ctx, *sent); err != nil {
				return retry.From(*sent, err)
			}
		}
		return retry.Ok(*sent)
	})
	retried := rr.Attempts > 1
	if retried {
		log.Debug("broadcast recipient retried", logx.Int64("chat_id", uid), logx.Duration("waited", rr.Waited), logx.String("result", out.Kind.String()))
	}

	o := classify(out)
	switch o {
	case Delivered:
		if req.Mode == AutoDelete && req.AutoDelete > 0 {
			e.scheduleDelete(out.Value, req.AutoDelete)
		}
	case Blocked, Deactivated:
		if e.dir != nil {
			if err := e.dir.RemoveRecipient(ctx, uid); err != nil {
				log.Warn("remove recipient failed", logx.Int64("chat_id", uid), logx.Err(err))
			}
		}
		log.Debug("recipient removed", logx.Int64("chat_id", uid), logx.String("reason", string(o)))
	default:
		if sent != nil && req.Mode == Pinned {
			log.Warn("broadcast pin failed", logx.Int64("chat_id", uid), logx.Err(out.Err))
		} else {
			log.Warn("broadcast send failed", logx.Int64("chat_id", uid), logx.String("kind", out.Kind.String()), logx.Err(out.Err))
		}
	}
	return o, retried
}

// classify checks blocked before deactivated; a second rate limit counts as failed.
func classify(out retry.Outcome[kit.MessageRef]) Outcome {
	if out.Kind == retry.Success {
		return Delivered
	}
	switch {
	case errors.Is(out.Err, kit.ErrBlocked):
		return Blocked
	case errors.Is(out.Err, kit.ErrDeactivated):
		return Deactivated
	default:
		return Failed
	}
}

func (e *Engine) timers() *rtsup.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timerSup == nil {
		e.timerSup = rtsup.NewSupervisor(context.Background(),
			rtsup.WithLogger(e.log.With(logx.String("comp", "broadcast.autodelete"))),
			rtsup.WithCancelOnError(false),
		)
	}
	return e.timerSup
}

func (e *Engine) scheduleDelete(ref kit.MessageRef, after time.Duration) {
	sup := e.timers()
	e.deletes.Add(1)
	e.pendingDeletes.Add(1)
	sup.Go0("broadcast.autodelete", func(ctx context.Context) {
		defer e.deletes.Done()
		defer e.pendingDeletes.Add(-1)
		t := time.NewTimer(after)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), autoDeleteTimeout)
		defer cancel()
		if err := e.api.Delete(cctx, ref); err != nil {
			e.log.Warn("broadcast auto-delete failed", logx.Int64("chat_id", ref.ChatID), logx.Int("msg_id", ref.MessageID), logx.Err(err))
		}
	})
}

// Drain waits for every pending auto-delete timer or until ctx is done.
// On timeout the helper goroutine stays parked until the timers end; Stop
// cancels them, so it exits shortly after shutdown.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.deletes.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
