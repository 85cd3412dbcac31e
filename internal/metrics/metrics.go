// Package metrics exposes Prometheus instruments for reconciliation cycles
// and remote API traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "follow_tracker"

// Cycle results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics holds the tracker's instruments.
type Metrics struct {
	cycles       *prometheus.CounterVec
	changes      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	snapshotSize *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
}

// New constructs the instruments and registers them against reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Reconciliation cycles by outcome.",
			},
			[]string{"target", "result"},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_total",
				Help:      "Follow changes applied to the snapshot.",
			},
			[]string{"target", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of reconciliation cycles, rate-limit cooldowns included.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"target"},
		),
		snapshotSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_size",
				Help:      "Number of followed accounts in the persisted snapshot.",
			},
			[]string{"target"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "requests_total",
				Help:      "Requests to the X API by endpoint and HTTP status (0 for transport errors).",
			},
			[]string{"endpoint", "status"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "rate_limited_total",
				Help:      "HTTP 429 responses from the X API.",
			},
			[]string{"endpoint"},
		),
	}
	reg.MustRegister(m.cycles, m.changes, m.duration, m.snapshotSize, m.requests, m.rateLimited)
	return m
}

// ObserveCycle records the outcome of one cycle.
func (m *Metrics) ObserveCycle(target, result string, d time.Duration) {
	m.cycles.WithLabelValues(target, result).Inc()
	if result != ResultSkipped {
		m.duration.WithLabelValues(target).Observe(d.Seconds())
	}
}

// ObserveChanges records applied additions and removals and the resulting snapshot size.
func (m *Metrics) ObserveChanges(target string, added, removed, snapshotSize int) {
	m.changes.WithLabelValues(target, "added").Add(float64(added))
	m.changes.WithLabelValues(target, "removed").Add(float64(removed))
	m.snapshotSize.WithLabelValues(target).Set(float64(snapshotSize))
}

// ObserveRequest implements remote.Observer.
func (m *Metrics) ObserveRequest(endpoint string, status int) {
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// ObserveRateLimited implements remote.Observer.
func (m *Metrics) ObserveRateLimited(endpoint string) {
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

// CyclesCounter exposes the cycle counter for a target/result pair.
func (m *Metrics) CyclesCounter(target, result string) prometheus.Counter {
	return m.cycles.WithLabelValues(target, result)
}

// ChangesCounter exposes the change counter for a target/kind pair.
func (m *Metrics) ChangesCounter(target, kind string) prometheus.Counter {
	return m.changes.WithLabelValues(target, kind)
}

// SnapshotGauge exposes the snapshot size gauge for a target.
func (m *Metrics) SnapshotGauge(target string) prometheus.Gauge {
	return m.snapshotSize.WithLabelValues(target)
}
