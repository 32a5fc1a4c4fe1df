// Package savings records the dollar value of every avoided origin call.
// Counters are append-only accumulations per tenant and period; nothing
// here is ever decremented.
package savings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/cache"
)

// Source labels where a saving came from.
type Source string

const (
	SourceExactCache    Source = "exact_cache"
	SourceSemanticCache Source = "semantic_cache"
	SourceModelRouting  Source = "model_routing"
	SourceToolCache     Source = "tool_cache"
)

// DailySavings is the aggregation /stats reads.
type DailySavings struct {
	Date             string             `json:"date"`
	TotalSavedUSD    float64            `json:"total_saved_usd"`
	HitCount         int64              `json:"hit_count"`
	RequestCount     int64              `json:"request_count"`
	AvgSavingPerHit  float64            `json:"avg_saving_per_hit"`
	Breakdown        map[string]float64 `json:"breakdown"`
	BreakdownByModel map[string]float64 `json:"breakdown_by_model,omitempty"`
}

// Tracker accumulates savings in per-tenant per-day Redis hashes, with a
// monthly rollup. All writes are atomic hash increments so concurrent
// instances never under-count.
type Tracker struct {
	rdb *cache.Client
	ttl time.Duration
	now func() time.Time
}

// New creates the tracker. retentionDays bounds key growth.
func New(rdb *cache.Client, retentionDays int) *Tracker {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Tracker{
		rdb: rdb,
		ttl: time.Duration(retentionDays) * 24 * time.Hour,
		now: time.Now,
	}
}

func dayKey(tenant, date string) string { return "savings:" + tenant + ":" + date }

func monthKey(tenant, month string) string { return "savings:" + tenant + ":month:" + month }

// RecordSaving accumulates one avoided-call saving. Non-positive amounts
// are ignored; savings never go down.
func (t *Tracker) RecordSaving(ctx context.Context, tenant string, amountUSD float64, source Source, model string) error {
	if amountUSD <= 0 {
		return nil
	}
	if tenant == "" {
		tenant = "default"
	}

	now := t.now().UTC()
	day := dayKey(tenant, now.Format("2006-01-02"))
	month := monthKey(tenant, now.Format("2006-01"))

	pipe := t.rdb.Redis().Pipeline()
	pipe.HIncrByFloat(ctx, day, "total", amountUSD)
	pipe.HIncrBy(ctx, day, "hits", 1)
	pipe.HIncrByFloat(ctx, day, "source:"+string(source), amountUSD)
	pipe.HIncrByFloat(ctx, day, "model:"+model, amountUSD)
	pipe.Expire(ctx, day, t.ttl)
	pipe.HIncrByFloat(ctx, month, "total", amountUSD)
	pipe.HIncrBy(ctx, month, "hits", 1)
	pipe.Expire(ctx, month, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record saving: %w", err)
	}
	return nil
}

// RecordLookup counts a cache lookup (hit or miss) so daily hit rate is
// computable without scanning audit entries.
func (t *Tracker) RecordLookup(ctx context.Context, tenant string) {
	if tenant == "" {
		tenant = "default"
	}
	day := dayKey(tenant, t.now().UTC().Format("2006-01-02"))
	pipe := t.rdb.Redis().Pipeline()
	pipe.HIncrBy(ctx, day, "requests", 1)
	pipe.Expire(ctx, day, t.ttl)
	pipe.Exec(ctx)
}

// GetDailySavings is a pure read of one tenant-day.
func (t *Tracker) GetDailySavings(ctx context.Context, tenant, date string) (DailySavings, error) {
	if tenant == "" {
		tenant = "default"
	}
	fields, err := t.rdb.Redis().HGetAll(ctx, dayKey(tenant, date)).Result()
	if err != nil {
		return DailySavings{}, fmt.Errorf("read savings: %w", err)
	}

	out := DailySavings{
		Date:             date,
		Breakdown:        make(map[string]float64),
		BreakdownByModel: make(map[string]float64),
	}
	for field, raw := range fields {
		switch {
		case field == "total":
			out.TotalSavedUSD, _ = strconv.ParseFloat(raw, 64)
		case field == "hits":
			out.HitCount, _ = strconv.ParseInt(raw, 10, 64)
		case field == "requests":
			out.RequestCount, _ = strconv.ParseInt(raw, 10, 64)
		case len(field) > 7 && field[:7] == "source:":
			v, _ := strconv.ParseFloat(raw, 64)
			out.Breakdown[field[7:]] = v
		case len(field) > 6 && field[:6] == "model:":
			v, _ := strconv.ParseFloat(raw, 64)
			out.BreakdownByModel[field[6:]] = v
		}
	}
	if out.HitCount > 0 {
		out.AvgSavingPerHit = out.TotalSavedUSD / float64(out.HitCount)
	}
	return out, nil
}

// SumRange totals savings and lookups for a tenant over the last n days
// (inclusive of today).
func (t *Tracker) SumRange(ctx context.Context, tenant string, days int) (totalUSD float64, hits, requests int64, err error) {
	now := t.now().UTC()
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		day, derr := t.GetDailySavings(ctx, tenant, date)
		if derr != nil {
			return 0, 0, 0, derr
		}
		totalUSD += day.TotalSavedUSD
		hits += day.HitCount
		requests += day.RequestCount
	}
	return totalUSD, hits, requests, nil
}
