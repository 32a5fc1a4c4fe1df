package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tollgate-ai/tollgate/pkg/cache"
)

// Log persists audit entries to Redis with ZSet time indexes, one global
// timeline plus one per namespace. Appends are fire-and-forget relative to
// the request path; in immutable mode a failed append is written to the
// local log in full instead of being dropped.
type Log struct {
	rdb       *cache.Client
	ttl       time.Duration
	immutable bool

	// wg tracks in-flight appends so Close can drain them before the
	// process exits.
	wg sync.WaitGroup
}

// NewLog creates the audit log. retention is how long entries are kept:
// compliance-scale, not cache-scale.
func NewLog(rdb *cache.Client, retention time.Duration, immutable bool) *Log {
	if retention == 0 {
		retention = 2 * 365 * 24 * time.Hour
	}
	return &Log{rdb: rdb, ttl: retention, immutable: immutable}
}

// Append dispatches the write in the background and returns immediately.
// The entry gets its ID and timestamp here so the caller's view and the
// stored record agree.
func (l *Log) Append(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.wg.Add(1)
	go func(e Entry) {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.save(ctx, &e); err != nil {
			if l.immutable {
				// Degraded-but-logged-locally beats silently dropping a
				// compliance record.
				raw, _ := json.Marshal(e)
				log.Printf("[AUDIT] store unreachable, entry logged locally: %s", raw)
			} else {
				log.Printf("[AUDIT] failed to persist entry %s: %v", e.ID, err)
			}
		}
	}(entry)

	return entry
}

// Close waits for in-flight appends to land, or to fail into the local
// fallback. Shutdown must never drop an entry silently.
func (l *Log) Close() {
	l.wg.Wait()
}

// save stores the full entry by ID and indexes it on the timelines.
func (l *Log) save(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := "audit:" + entry.ID
	if err := l.rdb.Set(ctx, key, data, l.ttl); err != nil {
		return err
	}

	timestamp := float64(entry.Timestamp.Unix())
	cutoff := fmt.Sprintf("%f", float64(time.Now().Add(-l.ttl).Unix()))

	// Global timeline
	timelineKey := "audit:timeline"
	l.rdb.Redis().ZAdd(ctx, timelineKey, redis.Z{Score: timestamp, Member: entry.ID})
	l.rdb.Redis().ZRemRangeByScore(ctx, timelineKey, "-inf", cutoff)
	l.rdb.Redis().Expire(ctx, timelineKey, l.ttl)

	// Per-namespace timeline
	if entry.Namespace != "" {
		nsKey := "audit:ns:" + entry.Namespace
		l.rdb.Redis().ZAdd(ctx, nsKey, redis.Z{Score: timestamp, Member: entry.ID})
		l.rdb.Redis().ZRemRangeByScore(ctx, nsKey, "-inf", cutoff)
		l.rdb.Redis().Expire(ctx, nsKey, l.ttl)
	}

	return nil
}

// Get retrieves a single entry by ID.
func (l *Log) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := l.rdb.Get(ctx, "audit:"+id)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Export queries entries in a time window, newest first.
func (l *Log) Export(ctx context.Context, filters Filters) ([]*Entry, error) {
	indexKey := "audit:timeline"
	if filters.Namespace != "" {
		indexKey = "audit:ns:" + filters.Namespace
	}

	maxScore := float64(time.Now().Unix())
	if !filters.To.IsZero() {
		maxScore = float64(filters.To.Unix())
	}
	minScore := float64(filters.From.Unix())

	limit := filters.Limit
	if limit == 0 {
		limit = 1000
	}

	ids, err := l.rdb.Redis().ZRevRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:    fmt.Sprintf("%f", minScore),
		Max:    fmt.Sprintf("%f", maxScore),
		Offset: int64(filters.Offset),
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if entry, err := l.Get(ctx, id); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// GetStats aggregates entries in a window into hit rate and latency figures.
func (l *Log) GetStats(ctx context.Context, filters Filters) (*Stats, error) {
	if filters.Limit == 0 {
		filters.Limit = 10000
	}
	entries, err := l.Export(ctx, filters)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByOperation: make(map[string]int64),
		ByProvider:  make(map[string]int64),
	}

	var totalLatency int64
	for _, e := range entries {
		stats.TotalEntries++
		stats.ByOperation[string(e.Operation)]++
		if e.Provider != "" {
			stats.ByProvider[e.Provider]++
		}
		switch e.Operation {
		case OpCacheHit:
			stats.CacheHits++
		case OpCacheMiss:
			stats.CacheMisses++
		}
		totalLatency += e.LatencyMs
	}

	if lookups := stats.CacheHits + stats.CacheMisses; lookups > 0 {
		stats.HitRate = float64(stats.CacheHits) / float64(lookups)
	}
	if stats.TotalEntries > 0 {
		stats.AvgLatencyMs = float64(totalLatency) / float64(stats.TotalEntries)
	}
	return stats, nil
}

// Ping checks the backing store.
func (l *Log) Ping(ctx context.Context) error {
	return l.rdb.Redis().Ping(ctx).Err()
}
