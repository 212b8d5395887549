// Package observability provides Prometheus metrics for the pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker process.
type Metrics struct {
	// Discovery
	TokensDiscovered    prometheus.Counter
	BatchesCompleted    *prometheus.CounterVec
	CandidatesRejected  *prometheus.CounterVec
	EnrichmentFailures  prometheus.Counter

	// Sources
	SourceErrors *prometheus.CounterVec

	// Price tracking
	PriceUpdates        prometheus.Counter
	RefreshDuration     prometheus.Histogram
	ActiveSubscriptions prometheus.Gauge
	CallbackPanics      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TokensDiscovered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tokenscope_tokens_discovered_total",
			Help: "Total number of tokens discovered and accepted.",
		}),
		BatchesCompleted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tokenscope_discovery_batches_total",
			Help: "Total number of completed discovery batches, by source.",
		}, []string{"source"}),
		CandidatesRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tokenscope_candidates_rejected_total",
			Help: "Total number of discovery candidates rejected, by reason.",
		}, []string{"reason"}),
		EnrichmentFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tokenscope_enrichment_failures_total",
			Help: "Total number of candidates whose enrichment failed.",
		}),
		SourceErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tokenscope_source_errors_total",
			Help: "Total number of transient source failures, by source.",
		}, []string{"source"}),
		PriceUpdates: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tokenscope_price_updates_total",
			Help: "Total number of price snapshots produced.",
		}),
		RefreshDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "tokenscope_price_refresh_duration_seconds",
			Help:    "Duration of one periodic price refresh cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSubscriptions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tokenscope_active_subscriptions",
			Help: "Current number of live price subscriptions.",
		}),
		CallbackPanics: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tokenscope_subscription_callback_panics_total",
			Help: "Total number of subscriber callbacks that panicked.",
		}),
	}
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
