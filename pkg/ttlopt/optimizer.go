// Package ttlopt rebalances warm-tier TTLs out of band: frequently hit
// entries live longer, cold ones decay, and aged never-revisited entries
// are deleted outright.
package ttlopt

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/cache"
	"github.com/tollgate-ai/tollgate/pkg/tier"
)

// Config carries the watermarks and scan budget.
type Config struct {
	HighWatermark int64         // access_count >= this => extend TTL
	LowWatermark  int64         // access_count <= this (and stale) => shrink TTL
	StaleAge      time.Duration // age before an entry counts as stale
	DeleteAge     time.Duration // age before a single-access entry is deleted
	Bounds        tier.Bounds   // sector [min, max] TTL window
	ScanLimit     int           // max meta keys visited per run
}

// Stats summarizes one optimizer pass.
type Stats struct {
	Scanned  int
	Extended int
	Shrunk   int
	Deleted  int
}

// Optimizer is a periodic batch job over the warm tier's meta keys. A run
// is bounded by ScanLimit and resumes from a saved cursor, so a large
// keyspace is worked through across invocations. The job is idempotent:
// re-applying a rule to an entry it already touched converges (extensions
// cap at the sector max, shrinks floor at the sector min).
type Optimizer struct {
	rdb    *cache.Client
	cfg    Config
	cursor uint64
	now    func() time.Time
}

// New creates the optimizer.
func New(rdb *cache.Client, cfg Config) *Optimizer {
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 10
	}
	if cfg.LowWatermark < 0 {
		cfg.LowWatermark = 2
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = 30 * time.Minute
	}
	if cfg.DeleteAge <= 0 {
		cfg.DeleteAge = 2 * time.Hour
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 1000
	}
	return &Optimizer{rdb: rdb, cfg: cfg, now: time.Now}
}

// Start runs the optimizer on a ticker until ctx is done.
func (o *Optimizer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := o.RunOnce(ctx)
			if err != nil {
				log.Printf("[TTL] pass failed: %v", err)
				continue
			}
			log.Printf("[TTL] pass: scanned=%d extended=%d shrunk=%d deleted=%d",
				stats.Scanned, stats.Extended, stats.Shrunk, stats.Deleted)
		}
	}
}

// RunOnce performs one bounded pass and returns its stats. Partial progress
// is fine; the next call resumes from the saved cursor.
func (o *Optimizer) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	for stats.Scanned < o.cfg.ScanLimit {
		keys, next, err := o.rdb.Redis().Scan(ctx, o.cursor, "meta:warm:*", 100).Result()
		if err != nil {
			return stats, err
		}

		for _, metaKey := range keys {
			if stats.Scanned >= o.cfg.ScanLimit {
				break
			}
			stats.Scanned++
			o.apply(ctx, metaKey, &stats)
		}

		o.cursor = next
		if o.cursor == 0 {
			break // full keyspace covered this run
		}
	}

	return stats, nil
}

func (o *Optimizer) apply(ctx context.Context, metaKey string, stats *Stats) {
	fields, err := o.rdb.Redis().HGetAll(ctx, metaKey).Result()
	if err != nil || len(fields) == 0 {
		return
	}

	accessCount, _ := strconv.ParseInt(fields["access_count"], 10, 64)
	cachedAt, _ := strconv.ParseInt(fields["cached_at"], 10, 64)
	age := o.now().Sub(time.Unix(cachedAt, 0))

	valueKey := strings.TrimPrefix(metaKey, "meta:")
	currentTTL, err := o.rdb.TTL(ctx, valueKey)
	if err != nil || currentTTL <= 0 {
		// Value expired underneath us; drop the orphaned meta hash.
		o.rdb.Del(ctx, metaKey)
		return
	}

	switch {
	case accessCount >= o.cfg.HighWatermark:
		newTTL := currentTTL * 3 / 2
		if newTTL > o.cfg.Bounds.Max {
			newTTL = o.cfg.Bounds.Max
		}
		if newTTL > currentTTL {
			o.expireBoth(ctx, valueKey, metaKey, newTTL)
			stats.Extended++
		}

	case accessCount <= 1 && age > o.cfg.DeleteAge:
		// Never revisited and aged out: pure storage cost.
		o.rdb.Del(ctx, valueKey, metaKey)
		stats.Deleted++

	case accessCount <= o.cfg.LowWatermark && age > o.cfg.StaleAge:
		newTTL := currentTTL / 2
		if newTTL < o.cfg.Bounds.Min {
			newTTL = o.cfg.Bounds.Min
		}
		if newTTL < currentTTL {
			o.expireBoth(ctx, valueKey, metaKey, newTTL)
			stats.Shrunk++
		}
	}
}

func (o *Optimizer) expireBoth(ctx context.Context, valueKey, metaKey string, ttl time.Duration) {
	pipe := o.rdb.Redis().Pipeline()
	pipe.Expire(ctx, valueKey, ttl)
	pipe.Expire(ctx, metaKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[TTL] expire failed for %s: %v", valueKey, err)
	}
}
