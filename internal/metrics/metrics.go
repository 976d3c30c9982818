// Package metrics exposes Prometheus collectors for the delivery pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailrelay"

// Outcomes recorded by RecordResult.
const (
	OutcomeSent    = "sent"
	OutcomeQueued  = "queued"
	OutcomeInvalid = "invalid"
)

// Metrics holds the service collectors.
type Metrics struct {
	attempts       *prometheus.CounterVec
	sendDuration   *prometheus.HistogramVec
	results        *prometheus.CounterVec
	queueSize      prometheus.Gauge
	retryExhausted prometheus.Counter
	opens          prometheus.Counter
}

// New registers the collectors on reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "attempts_total",
			Help:      "Provider send attempts by outcome.",
		}, []string{"provider", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "send_duration_seconds",
			Help:      "Provider send latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "results_total",
			Help:      "Send calls by final outcome.",
		}, []string{"outcome"}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_size",
			Help:      "Messages waiting in the retry queue.",
		}),
		retryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_exhausted_total",
			Help:      "Messages dropped after the last retry.",
		}),
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "opens_total",
			Help:      "Tracking pixel hits.",
		}),
	}

	reg.MustRegister(m.attempts, m.sendDuration, m.results, m.queueSize, m.retryExhausted, m.opens)
	return m
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// RecordAttempt counts one provider call.
func (m *Metrics) RecordAttempt(provider string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.attempts.WithLabelValues(provider, outcome).Inc()
	m.sendDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordResult counts one Send by outcome.
func (m *Metrics) RecordResult(outcome string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(outcome).Inc()
}

// SetQueueSize sets the retry queue gauge.
func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(n))
}

func (m *Metrics) RecordRetryExhausted() {
	if m == nil {
		return
	}
	m.retryExhausted.Inc()
}

func (m *Metrics) RecordOpen() {
	if m == nil {
		return
	}
	m.opens.Inc()
}
