package tier

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-ai/tollgate/pkg/cache"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *cache.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, cache.Wrap(rdb)
}

func TestWarmRoundTrip(t *testing.T) {
	mr, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})
	ctx := context.Background()

	entry := &Entry{
		Fingerprint: "v1:abc",
		Namespace:   "default",
		Payload:     json.RawMessage(`{"text":"hello"}`),
		CreatedAt:   time.Now().Truncate(time.Second),
	}
	require.NoError(t, w.Set(ctx, "default:openai:gpt-4:v1:abc", entry, 6*time.Hour))

	got, ok, err := w.Get(ctx, "default:openai:gpt-4:v1:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1:abc", got.Fingerprint)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Payload))
	assert.Equal(t, int64(6*3600), got.TTLSeconds)

	// The value key carries a real Redis TTL.
	assert.InDelta(t, 6*time.Hour, mr.TTL(WarmValueKey("default:openai:gpt-4:v1:abc")), float64(time.Minute))
}

func TestWarmGetBumpsAccessStats(t *testing.T) {
	mr, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})
	ctx := context.Background()

	entry := &Entry{Fingerprint: "v1:abc", CreatedAt: time.Now()}
	require.NoError(t, w.Set(ctx, "default:k", entry, 2*time.Hour))

	for i := 0; i < 3; i++ {
		_, ok, err := w.Get(ctx, "default:k")
		require.NoError(t, err)
		require.True(t, ok)
	}

	count := mr.HGet(WarmMetaKey("default:k"), "access_count")
	assert.Equal(t, "3", count)
}

func TestWarmMiss(t *testing.T) {
	_, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})

	_, ok, err := w.Get(context.Background(), "default:absent")
	require.NoError(t, err, "an absent key is a miss, not an error")
	assert.False(t, ok)
}

func TestWarmSetStoresRequestedTTL(t *testing.T) {
	// TTL policy is decided upstream, where the sector window is known; the
	// tier stores what it is told so a window tighter than the tier defaults
	// survives the write.
	mr, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})
	ctx := context.Background()

	entry := &Entry{Fingerprint: "v1:short", CreatedAt: time.Now()}
	require.NoError(t, w.Set(ctx, "default:short", entry, 5*time.Minute))
	assert.InDelta(t, 5*time.Minute, mr.TTL(WarmValueKey("default:short")), float64(time.Second))
	assert.Equal(t, int64(300), entry.TTLSeconds)

	// A non-positive TTL falls back to the tier minimum.
	entry2 := &Entry{Fingerprint: "v1:default", CreatedAt: time.Now()}
	require.NoError(t, w.Set(ctx, "default:default", entry2, 0))
	assert.InDelta(t, time.Hour, mr.TTL(WarmValueKey("default:default")), float64(time.Minute))
}

func TestWarmExpiryIsAMiss(t *testing.T) {
	mr, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Minute, Max: 24 * time.Hour})
	ctx := context.Background()

	entry := &Entry{Fingerprint: "v1:abc", CreatedAt: time.Now()}
	require.NoError(t, w.Set(ctx, "default:k", entry, time.Minute))

	mr.FastForward(2 * time.Minute)

	_, ok, err := w.Get(ctx, "default:k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWarmDelete(t *testing.T) {
	mr, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})
	ctx := context.Background()

	entry := &Entry{Fingerprint: "v1:abc", CreatedAt: time.Now()}
	require.NoError(t, w.Set(ctx, "default:k", entry, 2*time.Hour))
	require.NoError(t, w.Delete(ctx, "default:k"))

	_, ok, _ := w.Get(ctx, "default:k")
	assert.False(t, ok)
	assert.False(t, mr.Exists(WarmMetaKey("default:k")), "meta hash is deleted with the value")
}

func TestWarmDeleteNamespace(t *testing.T) {
	mr, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})
	ctx := context.Background()

	for _, key := range []string{"tenant-a:k1", "tenant-a:k2", "tenant-b:k1"} {
		entry := &Entry{Fingerprint: key, CreatedAt: time.Now()}
		require.NoError(t, w.Set(ctx, key, entry, 2*time.Hour))
	}

	deleted, err := w.DeleteNamespace(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, ok, _ := w.Get(ctx, "tenant-a:k1")
	assert.False(t, ok)
	_, ok, _ = w.Get(ctx, "tenant-b:k1")
	assert.True(t, ok)
	assert.False(t, mr.Exists(WarmMetaKey("tenant-a:k1")))
}

func TestWarmTTLRemaining(t *testing.T) {
	_, rdb := testRedis(t)
	w := NewWarm(rdb, Bounds{Min: time.Hour, Max: 24 * time.Hour})
	ctx := context.Background()

	entry := &Entry{Fingerprint: "v1:abc", CreatedAt: time.Now()}
	require.NoError(t, w.Set(ctx, "default:k", entry, 2*time.Hour))

	ttl, ok, err := w.TTLRemaining(ctx, "default:k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2*time.Hour, ttl, float64(time.Minute))

	_, ok, err = w.TTLRemaining(ctx, "default:none")
	require.NoError(t, err)
	assert.False(t, ok)
}
