// Package prom implements the mailout.Metrics interface on Prometheus
// collectors.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records dispatch telemetry in Prometheus collectors.
type Metrics struct {
	cycleDuration prometheus.Histogram
	sent          prometheus.Counter
	failed        prometheus.Counter
	skipped       prometheus.Counter
	exhausted     prometheus.Counter
	pendingGauge  prometheus.Gauge
	exhaustGauge  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailout_cycle_duration_seconds",
			Help:    "Duration of one claim+dispatch cycle",
			Buckets: prometheus.DefBuckets,
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailout_emails_sent_total",
			Help: "Total emails handed to the provider",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailout_email_failures_total",
			Help: "Total failed send attempts",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailout_emails_skipped_total",
			Help: "Total jobs skipped as duplicate intents",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailout_emails_exhausted_total",
			Help: "Total jobs that exceeded the retry budget",
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailout_pending_emails",
			Help: "Current pending job count",
		}),
		exhaustGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailout_exhausted_emails",
			Help: "Current exhausted job count",
		}),
	}

	reg.MustRegister(
		m.cycleDuration,
		m.sent,
		m.failed,
		m.skipped,
		m.exhausted,
		m.pendingGauge,
		m.exhaustGauge,
	)

	return m
}

// ObserveCycleDuration implements mailout.Metrics.
func (m *Metrics) ObserveCycleDuration(d time.Duration) {
	m.cycleDuration.Observe(d.Seconds())
}

// AddSent implements mailout.Metrics.
func (m *Metrics) AddSent(count int) {
	m.sent.Add(float64(count))
}

// AddFailed implements mailout.Metrics.
func (m *Metrics) AddFailed(count int) {
	m.failed.Add(float64(count))
}

// AddSkipped implements mailout.Metrics.
func (m *Metrics) AddSkipped(count int) {
	m.skipped.Add(float64(count))
}

// AddExhausted implements mailout.Metrics.
func (m *Metrics) AddExhausted(count int) {
	m.exhausted.Add(float64(count))
}

// SetPending implements mailout.Metrics.
func (m *Metrics) SetPending(count int) {
	m.pendingGauge.Set(float64(count))
}

// SetExhausted implements mailout.Metrics.
func (m *Metrics) SetExhausted(count int) {
	m.exhaustGauge.Set(float64(count))
}
