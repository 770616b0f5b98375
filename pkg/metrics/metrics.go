// Package metrics exposes the assessor's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the instruments. A nil *Recorder records nothing, so
// components can be used without metrics.
type Recorder struct {
	handshakes   *prometheus.CounterVec
	hosts        *prometheus.CounterVec
	hostTimeouts prometheus.Counter
	hostDuration prometheus.Histogram
	published    prometheus.Counter
	queueErrors  *prometheus.CounterVec
	revocations  *prometheus.CounterVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtls_handshakes_total",
			Help: "Handshake attempts by test and result.",
		}, []string{"test", "result"}),
		hosts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtls_hosts_processed_total",
			Help: "Hosts taken from the queue by outcome.",
		}, []string{"outcome"}),
		hostTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "mailtls_host_timeouts_total",
			Help: "Hosts abandoned because the per-host timeout fired first.",
		}),
		hostDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailtls_host_duration_seconds",
			Help:    "Wall-clock time spent assessing one host.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		published: f.NewCounter(prometheus.CounterOpts{
			Name: "mailtls_results_published_total",
			Help: "Result messages handed to publishers.",
		}),
		queueErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtls_queue_errors_total",
			Help: "Queue operations that failed.",
		}, []string{"op"}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtls_revocation_checks_total",
			Help: "Revocation lookups by source and status.",
		}, []string{"source", "status"}),
	}
}

// Handshake counts one handshake attempt; result is the TLS error or "ok".
func (r *Recorder) Handshake(test, result string) {
	if r == nil {
		return
	}
	r.handshakes.WithLabelValues(test, result).Inc()
}

// Host counts one processed host.
func (r *Recorder) Host(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.hosts.WithLabelValues(outcome).Inc()
	r.hostDuration.Observe(seconds)
}

// HostTimeout counts a host whose timeout fired.
func (r *Recorder) HostTimeout() {
	if r == nil {
		return
	}
	r.hostTimeouts.Inc()
}

// Published counts published result messages.
func (r *Recorder) Published(n int) {
	if r == nil {
		return
	}
	r.published.Add(float64(n))
}

// QueueError counts a failed queue operation.
func (r *Recorder) QueueError(op string) {
	if r == nil {
		return
	}
	r.queueErrors.WithLabelValues(op).Inc()
}

// Revocation counts a revocation lookup.
func (r *Recorder) Revocation(source, status string) {
	if r == nil {
		return
	}
	r.revocations.WithLabelValues(source, status).Inc()
}
