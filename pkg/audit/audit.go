// Package audit is the append-only record of every cache and routing
// decision. Entries outlive the cache entries they describe by orders of
// magnitude; retention is a compliance concern, measured in years.
package audit

import "time"

// Operation labels what the gateway did.
type Operation string

const (
	OpCacheHit    Operation = "cache_hit"
	OpCacheMiss   Operation = "cache_miss"
	OpCacheSet    Operation = "cache_set"
	OpRouted      Operation = "routed"
	OpBudgetBlock Operation = "budget_block"
	OpCompliance  Operation = "compliance_block"
	OpInvalidate  Operation = "invalidate"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
	Outcome   string    `json:"outcome"`
	LatencyMs int64     `json:"latency_ms"`
}

// Filters narrows an export or stats query.
type Filters struct {
	Namespace string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Stats is the aggregation the /stats endpoint reads for short windows.
type Stats struct {
	TotalEntries int64            `json:"total_entries"`
	CacheHits    int64            `json:"cache_hits"`
	CacheMisses  int64            `json:"cache_misses"`
	HitRate      float64          `json:"hit_rate"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	ByOperation  map[string]int64 `json:"by_operation"`
	ByProvider   map[string]int64 `json:"by_provider"`
}
