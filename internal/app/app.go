package app

import (
	"context"
	"fmt"
	"time"

	"filegate/internal/archive"
	"filegate/internal/broadcast"
	"filegate/internal/config"
	"filegate/internal/delivery"
	"filegate/internal/expiry"
	"filegate/internal/handlers"
	"filegate/internal/link"
	"filegate/internal/maintenance"
	"filegate/internal/observability/health"
	"filegate/internal/observability/metrics"
	rtsup "filegate/internal/runtime/supervisor"
	"filegate/internal/storage"
	kit "filegate/internal/transport"
	telegram "filegate/internal/transport/telegram/adapter"
	"filegate/internal/transport/telegram/router"
	logx "filegate/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	dir   *storage.Directory

	adapter *telegram.Adapter
	metrics *metrics.Metrics

	retriever *archive.Retriever
	delivery  *delivery.Service
	expiry    *expiry.Scheduler
	broadcast *broadcast.Engine
	handlers  *handlers.Handlers
	cmdm      *router.CommandManager
	maint     *maintenance.Service
	health    *health.Service

	updates chan kit.Update
}

// New loads the config at cfgPath (empty: environment only) and wires every
// component. Nothing runs until Start.
func New(cfgPath string, env config.Lookup) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetEnv(env)
	cfg, rt, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    rt.PollTimeout,
		RequestTimeout: rt.RequestTimeout,
	}, comp("telegram"))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	sc := mapStorageConfig(cfg, rt)
	st, err := storage.Open(sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	dir := storage.NewDirectory(st, cfg.Telegram.OwnerID, cfg.AdminIDs())
	dir.SetDefaultAutoDelete(rt.AutoDelete)

	codec, err := link.NewCodec(cfg.Telegram.ChannelID, cfg.Link.MaxSpan)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	met := metrics.New()
	ret := archive.NewRetriever(mapRetrieverConfig(cfg, rt), archive.NewIndexStore(dir), comp("archive"), archive.WithMetrics(met))
	dlv := delivery.New(mapDeliveryConfig(cfg, rt), cfg.Telegram.ChannelID, ad, comp("delivery"), delivery.WithMetrics(met))
	exp := expiry.New(ad, comp("expiry"), expiry.WithMetrics(met), expiry.WithDeleteTimeout(rt.RequestTimeout))
	bc := broadcast.New(mapBroadcastConfig(cfg, rt), dir, ad, comp("broadcast"), broadcast.WithMetrics(met))

	h := handlers.New(handlers.Deps{
		Adapter:   ad,
		Directory: dir,
		Codec:     codec,
		Retriever: ret,
		Delivery:  dlv,
		Expiry:    exp,
		Broadcast: bc,
		Metrics:   met,
		Logger:    comp("handlers"),
	}, mapHandlerSettings(cfg, rt))

	a := &App{
		cfgm:      cfgm,
		log:       comp("app"),
		logs:      logSvc,
		store:     st,
		dir:       dir,
		adapter:   ad,
		metrics:   met,
		retriever: ret,
		delivery:  dlv,
		expiry:    exp,
		broadcast: bc,
		handlers:  h,
		cmdm:      router.NewCommandManager(comp("commands"), ad, dir, router.WithMetrics(met)),
		maint:     maintenance.New(mapMaintenanceConfig(cfg, rt), st, comp("maintenance")),
		updates:   make(chan kit.Update, 256),
	}
	a.health = health.New(mapHealthConfig(cfg, rt), health.Deps{
		Check:       st.Ping,
		Gatherer:    met.Registry,
		Supervisors: a.supervisors,
	}, comp("health"))

	a.log.Info("app configured",
		logx.String("storage", sc.Driver),
		logx.Int64("channel_id", cfg.Telegram.ChannelID),
		logx.Int("admins", len(cfg.AdminIDs())),
		logx.Duration("auto_delete", rt.AutoDelete),
		logx.Bool("public_links", cfg.PublicLinks()),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.expiry.Start(run)
	a.broadcast.Start(run)
	if err := a.maint.Start(run); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if a.health.Enabled() {
		a.health.Start(run)
	}

	a.handlers.Register(run, a.cmdm)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// validate rejects reloads that parse but cannot be applied.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	rt, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	return a.maint.Validate(mapMaintenanceConfig(cfg, rt))
}

func (a *App) supervisors() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s.Snapshot()
		}
	}
	add("app", a.sup)
	add("telegram.adapter", a.adapter.Supervisor())
	add("commands", a.cmdm.Supervisor())
	add("expiry", a.expiry.Supervisor())
	add("broadcast", a.broadcast.Supervisor())
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// Stop intake first, then the workers that still hold outbound work.
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("broadcast", 3*time.Second, a.broadcast.Stop)
	step("expiry", 2*time.Second, a.expiry.Stop)
	step("maintenance", time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("health", time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
