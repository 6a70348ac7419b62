// Package metrics exposes Prometheus instrumentation for route planning,
// ingestion and hotspot refreshes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "saferoute"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Route planning.
	RouteRequests      *prometheus.CounterVec // labels: outcome={ok,all_excluded,no_candidates,input_error,provider_error,superseded,error}
	RouteCache         *prometheus.CounterVec // labels: result={hit,miss}
	ProviderDuration   prometheus.Histogram
	RankingDuration    prometheus.Histogram
	CandidatesExcluded prometheus.Counter
	BestRouteRisk      prometheus.Histogram

	// Ingestion.
	ReportsAdded  prometheus.Counter
	NewsIngested  *prometheus.CounterVec // labels: source={http,kafka}
	NewsRejected  prometheus.Counter
	NewsIncidents prometheus.Gauge

	// Hotspots.
	HotspotRefreshes *prometheus.CounterVec // labels: outcome={success,error}
	Hotspots         prometheus.Gauge
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		RouteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      help("Route planning requests by outcome."),
		}, []string{"outcome"}),
		RouteCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_cache_total",
			Help:      help("Route candidate cache lookups by result."),
		}, []string{"result"}),
		ProviderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      help("Routing provider request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RankingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_duration_seconds",
			Help:      help("Time spent filtering and scoring candidates."),
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		CandidatesExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_excluded_total",
			Help:      help("Candidates removed by the hard safety check."),
		}),
		BestRouteRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "best_route_risk",
			Help:      help("Risk index of the top ranked route."),
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 75, 100},
		}),
		ReportsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_added_total",
			Help:      help("User reports stored."),
		}),
		NewsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_ingested_total",
			Help:      help("News incidents ingested by source."),
		}, []string{"source"}),
		NewsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_rejected_total",
			Help:      help("Malformed news items dropped at ingestion."),
		}),
		NewsIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "news_incidents",
			Help:      help("News incidents currently held for scoring."),
		}),
		HotspotRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hotspot_refreshes_total",
			Help:      help("Hotspot recomputations by outcome."),
		}, []string{"outcome"}),
		Hotspots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hotspots",
			Help:      help("Significant hotspots from the latest refresh."),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RouteRequests,
		m.RouteCache,
		m.ProviderDuration,
		m.RankingDuration,
		m.CandidatesExcluded,
		m.BestRouteRisk,
		m.ReportsAdded,
		m.NewsIngested,
		m.NewsRejected,
		m.NewsIncidents,
		m.HotspotRefreshes,
		m.Hotspots,
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// Register adds the metrics to a specific registry
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
