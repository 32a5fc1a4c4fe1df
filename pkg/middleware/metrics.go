package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts hits per tier so promotion behavior is visible.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_cache_hits_total",
		Help: "Number of cache hits by tier (hot, warm, cold)",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_cache_misses_total",
		Help: "Number of lookups that missed every tier",
	})

	SavedUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_saved_usd_total",
		Help: "Dollar value of avoided origin calls",
	})

	BudgetRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_budget_rejections_total",
		Help: "Requests blocked by the daily spend circuit breaker",
	})

	RouteDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_route_downgrades_total",
		Help: "Routing decisions downgraded to a cheaper tier under budget pressure",
	})

	ComplianceBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_compliance_blocks_total",
		Help: "Provider choices rejected by the compliance gate",
	})

	RequestTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tollgate_request_tokens",
		Help:    "Token count per request payload",
		Buckets: []float64{1, 10, 50, 100, 500, 1_000, 2_000, 4_000, 8_000, 16_000},
	})

	LookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tollgate_lookup_latency_seconds",
		Help:    "Time spent in the tiered lookup path",
		Buckets: prometheus.DefBuckets,
	})
)
