// Package metrics exposes Prometheus instrumentation for feed refreshes
// and query serving.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the engine and refresh loops update.
type Metrics struct {
	FeedFetches      *prometheus.CounterVec
	FeedFetchErrors  *prometheus.CounterVec
	FeedSwaps        prometheus.Counter
	FeedRejections   prometheus.Counter
	RealtimeAge      prometheus.Gauge
	RealtimeTrips    prometheus.Gauge
	StaticTrips      prometheus.Gauge
	QueryDuration    *prometheus.HistogramVec
	QueryErrors      *prometheus.CounterVec
	ItinerariesFound prometheus.Histogram
}

// New builds the metric set and registers it with reg. Pass
// prometheus.DefaultRegisterer in the daemon, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transitq",
			Name:      "feed_fetches_total",
			Help:      "Feed fetch attempts by feed kind.",
		}, []string{"feed"}),
		FeedFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transitq",
			Name:      "feed_fetch_errors_total",
			Help:      "Failed feed fetches by feed kind.",
		}, []string{"feed"}),
		FeedSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transitq",
			Name:      "static_swaps_total",
			Help:      "Static schedule snapshots swapped in.",
		}),
		FeedRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transitq",
			Name:      "static_rejections_total",
			Help:      "Static feeds rejected by validation.",
		}),
		RealtimeAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transitq",
			Name:      "realtime_age_seconds",
			Help:      "Age of the newest realtime feed timestamp.",
		}),
		RealtimeTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transitq",
			Name:      "realtime_trips",
			Help:      "Trips with live realtime state.",
		}),
		StaticTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transitq",
			Name:      "static_trips",
			Help:      "Trips in the active schedule snapshot.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "transitq",
			Name:      "query_duration_seconds",
			Help:      "Query latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transitq",
			Name:      "query_errors_total",
			Help:      "Query failures by operation.",
		}, []string{"op"}),
		ItinerariesFound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "transitq",
			Name:      "itineraries_found",
			Help:      "Itineraries returned per plan query.",
			Buckets:   []float64{0, 1, 2, 3, 5},
		}),
	}
	reg.MustRegister(
		m.FeedFetches, m.FeedFetchErrors, m.FeedSwaps, m.FeedRejections,
		m.RealtimeAge, m.RealtimeTrips, m.StaticTrips,
		m.QueryDuration, m.QueryErrors, m.ItinerariesFound,
	)
	return m
}

// Nop returns a metric set registered nowhere, for callers that do not
// export metrics.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
