package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	rtsup "filegate/internal/runtime/supervisor"
	logx "filegate/pkg/logx"
)

func TestHealthzReportsStore(t *testing.T) {
	t.Parallel()
	var down error
	s := New(Config{}, Deps{
		Check: func(context.Context) error { return down },
		Supervisors: func() map[string]rtsup.Snapshot {
			return map[string]rtsup.Snapshot{"app": {Active: 2}}
		},
	}, logx.Nop())
	h := s.Handler(Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var rep Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Status != "ok" || rep.Supervisors["app"].Active != 2 {
		t.Fatalf("report = %+v", rep)
	}

	down = errors.New("connection refused")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("degraded: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpointUsesGatherer(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "filegate_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := New(Config{}, Deps{Gatherer: reg}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "filegate_test_total 1") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPprofRequiresToken(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{}, logx.Nop())

	open := s.Handler(Config{Addr: ":8000", Pprof: true})
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("tokenless public pprof mounted: %d", rec.Code)
	}

	guarded := s.Handler(Config{Addr: ":8000", Pprof: true, Token: "s3cret"})
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8000": true,
		"localhost:8000": true,
		"[::1]:8000":     true,
		":8000":          false,
		"0.0.0.0:8000":   false,
		"bad":            false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", in, got)
		}
	}
}
