package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "replybridge"

// Metrics holds the Prometheus collectors of the reply pipeline
type Metrics struct {
	registry *prometheus.Registry

	Replies             *prometheus.CounterVec
	Analyses            *prometheus.CounterVec
	RateLimitRejections prometheus.Counter
	PersistenceFailures prometheus.Counter
	GenerationLatency   prometheus.Histogram
	AutoReplySkips      *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replies_total",
			Help:      "Reply requests by outcome.",
		}, []string{"outcome"}),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analyses_total",
			Help:      "Conversation analyses by outcome.",
		}, []string{"outcome"}),
		RateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests answered with the rate-limited message.",
		}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persistence_failures_total",
			Help:      "History writes that failed after a reply was generated.",
		}),
		GenerationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reply_duration_seconds",
			Help:      "End to end reply latency, streaming included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		AutoReplySkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auto_reply_skips_total",
			Help:      "Inbound messages not auto-replied, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Replies,
		m.Analyses,
		m.RateLimitRejections,
		m.PersistenceFailures,
		m.GenerationLatency,
		m.AutoReplySkips,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeReply(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(outcome).Inc()
	if outcome == outcomeSuccess {
		m.GenerationLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) observeAnalysis(outcome string) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) rateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejections.Inc()
}

func (m *Metrics) persistenceFailed() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

// SkippedAutoReply counts an inbound message that was not answered
func (m *Metrics) SkippedAutoReply(reason string) {
	if m == nil {
		return
	}
	m.AutoReplySkips.WithLabelValues(reason).Inc()
}
