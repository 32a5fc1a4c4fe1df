package tier

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tollgate-ai/tollgate/pkg/cache"
)

const (
	warmPrefix = "warm:"
	metaPrefix = "meta:"
)

// WarmValueKey returns the Redis key holding the cached payload.
func WarmValueKey(key string) string { return warmPrefix + key }

// WarmMetaKey returns the sibling hash carrying access statistics. The
// optimizer scans these instead of deserializing every payload.
func WarmMetaKey(key string) string { return metaPrefix + warmPrefix + key }

// Warm is the shared Redis tier, the system of record for hit/miss
// decisions across process instances. Every entry has an explicit TTL and a
// sibling meta hash (access_count, cached_at, last_access) that the
// adaptive TTL optimizer feeds on.
type Warm struct {
	rdb    *cache.Client
	bounds Bounds
}

// NewWarm creates the warm tier with its TTL bounds.
func NewWarm(rdb *cache.Client, bounds Bounds) *Warm {
	return &Warm{rdb: rdb, bounds: bounds}
}

func (w *Warm) Name() string { return "warm" }

// Bounds exposes the tier's TTL window for promotion clamping.
func (w *Warm) Bounds() Bounds { return w.bounds }

func (w *Warm) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := w.rdb.Get(ctx, WarmValueKey(key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, err
	}

	// Bump access stats atomically on the sibling hash. HINCRBY is safe
	// under concurrent readers from many instances.
	now := time.Now()
	pipe := w.rdb.Redis().Pipeline()
	pipe.HIncrBy(ctx, WarmMetaKey(key), "access_count", 1)
	pipe.HSet(ctx, WarmMetaKey(key), "last_access", now.Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		// Stats are advisory; the hit still counts.
		return &entry, true, nil
	}

	entry.AccessCount++
	entry.LastAccessAt = now
	return &entry, true, nil
}

// Set stores the entry under the TTL it is given. Policy clamping happens
// upstream, where the sector window is known; a window tighter than the
// tier defaults must survive the write. Non-positive TTLs fall back to the
// tier minimum.
func (w *Warm) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = w.bounds.Clamp(ttl)
	}
	entry.TTLSeconds = int64(ttl.Seconds())

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := w.rdb.Redis().Pipeline()
	pipe.Set(ctx, WarmValueKey(key), data, ttl)
	pipe.HSet(ctx, WarmMetaKey(key), map[string]any{
		"access_count": entry.AccessCount,
		"cached_at":    entry.CreatedAt.Unix(),
		"last_access":  entry.CreatedAt.Unix(),
	})
	pipe.Expire(ctx, WarmMetaKey(key), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (w *Warm) Delete(ctx context.Context, key string) error {
	return w.rdb.Del(ctx, WarmValueKey(key), WarmMetaKey(key))
}

func (w *Warm) TTLRemaining(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := w.rdb.TTL(ctx, WarmValueKey(key))
	if err != nil {
		return 0, false, err
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// DeleteNamespace removes every warm entry (value + meta) under a namespace
// prefix using a bounded SCAN loop.
func (w *Warm) DeleteNamespace(ctx context.Context, namespace string) (int, error) {
	pattern := warmPrefix + namespace + ":*"
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := w.rdb.Redis().Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, err
		}
		for _, k := range keys {
			if err := w.rdb.Del(ctx, k, metaPrefix+k); err == nil {
				deleted++
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
