package guidance

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus collectors for the pattern store.
type Metrics struct {
	PatternsStored    *prometheus.CounterVec
	Searches          prometheus.Counter
	SearchDuration    prometheus.Histogram
	Outcomes          *prometheus.CounterVec
	Promotions        prometheus.Counter
	Pruned            prometheus.Counter
	Evicted           *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	Patterns          *prometheus.GaugeVec
	GuidanceRequests  prometheus.Counter
	Routes            *prometheus.CounterVec
	Redactions        prometheus.Counter
}

// NewMetrics returns the process-wide store collectors, registering them
// with the default registry on first use.
//
// Metrics:
//   - guidanced_store_patterns_stored_total{action}
//   - guidanced_store_searches_total
//   - guidanced_store_search_duration_seconds
//   - guidanced_store_outcomes_total{result}
//   - guidanced_store_promotions_total
//   - guidanced_store_pruned_total
//   - guidanced_store_evicted_total{tier}
//   - guidanced_store_persistence_errors_total{op}
//   - guidanced_store_patterns{tier}
//   - guidanced_store_guidance_requests_total
//   - guidanced_store_routes_total{agent}
//   - guidanced_store_redactions_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		const ns, sub = "guidanced", "store"
		globalMetrics = &Metrics{
			PatternsStored: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "patterns_stored_total",
				Help: "Total StorePattern calls by resulting action",
			}, []string{"action"}),
			Searches: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "searches_total",
				Help: "Total similarity searches",
			}),
			SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: ns, Subsystem: sub,
				Name:    "search_duration_seconds",
				Help:    "Similarity search latency",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			}),
			Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "outcomes_total",
				Help: "Recorded outcomes by result",
			}, []string{"result"}),
			Promotions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "promotions_total",
				Help: "Patterns promoted to long-term",
			}),
			Pruned: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "pruned_total",
				Help: "Short-term patterns pruned by consolidation",
			}),
			Evicted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "evicted_total",
				Help: "Patterns evicted by capacity bounds",
			}, []string{"tier"}),
			PersistenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "persistence_errors_total",
				Help: "Persistence delegate failures by operation",
			}, []string{"op"}),
			Patterns: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: ns, Subsystem: sub,
				Name: "patterns",
				Help: "Current pattern count by tier",
			}, []string{"tier"}),
			GuidanceRequests: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "guidance_requests_total",
				Help: "GenerateGuidance calls",
			}),
			Routes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "routes_total",
				Help: "Routing decisions by suggested agent",
			}, []string{"agent"}),
			Redactions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: ns, Subsystem: sub,
				Name: "redactions_total",
				Help: "Credentials redacted from stored strategies and metadata",
			}),
		}
	})
	return globalMetrics
}

// counters are the per-store totals reported by GetStats.
type counters struct {
	created           atomic.Int64
	updated           atomic.Int64
	searches          atomic.Int64
	searchNanos       atomic.Int64
	outcomes          atomic.Int64
	successes         atomic.Int64
	promotions        atomic.Int64
	pruned            atomic.Int64
	evicted           atomic.Int64
	persistenceErrors atomic.Int64
	guidanceRequests  atomic.Int64
	routes            atomic.Int64
	redactions        atomic.Int64
}
