package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the resume pipeline.
type Metrics struct {
	resolutions  *prometheus.CounterVec
	enqueued     prometheus.Counter
	resumed      *prometheus.CounterVec
	fetchLatency prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sfnresume",
			Name:      "resolutions_total",
			Help:      "Resolution attempts by outcome (resolved, failed).",
		}, []string{"outcome"}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfnresume",
			Name:      "enqueued_total",
			Help:      "Resume messages placed on the queue.",
		}),
		resumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sfnresume",
			Name:      "resumed_total",
			Help:      "Resumed execution starts by outcome (started, failed).",
		}, []string{"outcome"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sfnresume",
			Name:      "history_fetch_seconds",
			Help:      "Latency of execution history retrieval.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.resolutions, m.enqueued, m.resumed, m.fetchLatency)
	return m
}

// Instrument returns a copy of h whose callbacks also update m. Existing
// callbacks still run first.
func (m *Metrics) Instrument(h Hooks) Hooks {
	out := h
	out.OnHistoryFetched = func(ctx context.Context, arn string, events int, latency time.Duration) {
		h.SafeHistoryFetched(ctx, arn, events, latency)
		m.fetchLatency.Observe(latency.Seconds())
	}
	out.OnResolved = func(ctx context.Context, arn string, resumeState string) {
		h.SafeResolved(ctx, arn, resumeState)
		m.resolutions.WithLabelValues("resolved").Inc()
	}
	out.OnResolveError = func(ctx context.Context, arn string, err error) {
		h.SafeResolveError(ctx, arn, err)
		m.resolutions.WithLabelValues("failed").Inc()
	}
	out.OnEnqueued = func(ctx context.Context, arn string, delaySeconds int) {
		h.SafeEnqueued(ctx, arn, delaySeconds)
		m.enqueued.Inc()
	}
	out.OnResumed = func(ctx context.Context, arn string, err error) {
		h.SafeResumed(ctx, arn, err)
		outcome := "started"
		if err != nil {
			outcome = "failed"
		}
		m.resumed.WithLabelValues(outcome).Inc()
	}
	return out
}
