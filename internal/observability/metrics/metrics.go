// Package metrics exposes Prometheus collectors for the delivery pipeline.
//
// All recording methods are nil-safe so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "filegate"

type Metrics struct {
	Registry *prometheus.Registry

	updates         *prometheus.CounterVec
	requests        *prometheus.HistogramVec
	linkResolves    *prometheus.CounterVec
	fetchBatches    *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	expiryDeletes   *prometheus.CounterVec
	expiryPending   prometheus.Gauge
	broadcastSends  *prometheus.CounterVec
	broadcastRuns   *prometheus.CounterVec
	broadcastLength prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_total", Help: "Inbound updates by kind.",
		}, []string{"kind"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds", Help: "Command handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cmd", "status"}),
		linkResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_resolves_total", Help: "Deep-link token decodes by result.",
		}, []string{"result"}),
		fetchBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_batches_total", Help: "Content store batch reads by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total", Help: "Delivered and skipped items.",
		}, []string{"result"}),
		expiryDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "expiry_deletes_total", Help: "Expiry deletions by result.",
		}, []string{"result"}),
		expiryPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "expiry_pending_batches", Help: "Batches scheduled or expiring.",
		}),
		broadcastSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_recipients_total", Help: "Broadcast recipient outcomes.",
		}, []string{"mode", "outcome"}),
		broadcastRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_runs_total", Help: "Broadcast runs by mode.",
		}, []string{"mode"}),
		broadcastLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "broadcast_duration_seconds", Help: "Broadcast wall time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.updates, m.requests, m.linkResolves, m.fetchBatches, m.deliveries,
		m.expiryDeletes, m.expiryPending, m.broadcastSends, m.broadcastRuns, m.broadcastLength,
	)
	return m
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) Request(cmd string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.requests.WithLabelValues(cmd, status).Observe(d.Seconds())
}

func (m *Metrics) LinkResolve(result string) {
	if m == nil {
		return
	}
	m.linkResolves.WithLabelValues(result).Inc()
}

func (m *Metrics) FetchBatch(outcome string) {
	if m == nil {
		return
	}
	m.fetchBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Delivery(delivered, skipped int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.deliveries.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) ExpiryDelete(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.expiryDeletes.WithLabelValues("deleted").Inc()
		return
	}
	m.expiryDeletes.WithLabelValues("failed").Inc()
}

func (m *Metrics) ExpiryPending(delta float64) {
	if m == nil {
		return
	}
	m.expiryPending.Add(delta)
}

func (m *Metrics) BroadcastOutcome(mode, outcome string) {
	if m == nil {
		return
	}
	m.broadcastSends.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) BroadcastRun(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.broadcastRuns.WithLabelValues(mode).Inc()
	m.broadcastLength.Observe(d.Seconds())
}
