// Package health serves liveness, Prometheus metrics and guarded pprof over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "filegate/internal/runtime/supervisor"
	logx "filegate/pkg/logx"
)

const pprofPrefix = "/debug/pprof/"

// Config controls the HTTP listener serving /healthz, /metrics and
// optionally /debug/pprof/.
//
// pprof is only mounted when Pprof is true, and then requires Token unless
// Addr is a loopback address.
type Config struct {
	Enabled bool
	Addr    string
	Pprof   bool
	Token   string

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// Deps feed the endpoints. Any of them may be nil.
type Deps struct {
	// Check reports store health; nil means always healthy.
	Check func(ctx context.Context) error
	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
	// Supervisors returns runtime snapshots keyed by component.
	Supervisors func() map[string]rtsup.Snapshot
}

// Report is the /healthz body.
type Report struct {
	Status      string                    `json:"status"`
	Store       string                    `json:"store"`
	StoreErr    string                    `json:"store_err,omitempty"`
	Uptime      string                    `json:"uptime"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

type Service struct {
	mu    sync.Mutex
	log   logx.Logger
	cfg   Config
	deps  Deps
	start time.Time

	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log, start: time.Now()}
}

// Supervisor returns the listener's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Reconfigure applies cfg and starts, stops or restarts the listener.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			// Observability must never take the bot down.
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
		s.log.Info("health server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = ":8000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("health listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.Handler(cur),
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       cur.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("health server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", cur.Pprof),
		logx.Bool("token_set", cur.Token != ""),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("health server exited unexpectedly")
	}
	return err
}

// Handler builds the mux for cfg.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)

	g := s.deps.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	if cfg.Pprof {
		addr := strings.TrimSpace(cfg.Addr)
		if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
			s.log.Error("pprof not mounted: non-loopback addr requires a token", logx.String("addr", addr))
		} else {
			wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }
			mux.HandleFunc(pprofPrefix, wrap(hpprof.Index))
			mux.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
			mux.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
			mux.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
			mux.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
		}
	}
	return mux
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	rep := Report{Status: "ok", Store: "ok", Uptime: time.Since(s.start).Round(time.Second).String()}
	code := http.StatusOK
	if s.deps.Check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := s.deps.Check(ctx)
		cancel()
		if err != nil {
			rep.Status, rep.Store, rep.StoreErr = "degraded", "down", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if s.deps.Supervisors != nil {
		rep.Supervisors = s.deps.Supervisors()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
