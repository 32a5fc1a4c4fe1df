package tier

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hotEntry(fp string) *Entry {
	return &Entry{
		Fingerprint: fp,
		Namespace:   "default",
		Payload:     json.RawMessage(`{"answer":42}`),
		CreatedAt:   time.Now(),
	}
}

func TestHotRoundTrip(t *testing.T) {
	h := NewHot(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "default:k1", hotEntry("fp1"), time.Minute))

	got, ok, err := h.Get(ctx, "default:k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fp1", got.Fingerprint)
	assert.Equal(t, int64(1), got.AccessCount)

	_, ok, err = h.Get(ctx, "default:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHotExpiry(t *testing.T) {
	h := NewHot(10, time.Minute)
	clock := time.Now()
	h.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "default:k1", hotEntry("fp1"), time.Minute))

	clock = clock.Add(61 * time.Second)
	_, ok, err := h.Get(ctx, "default:k1")
	require.NoError(t, err)
	assert.False(t, ok, "entry past its TTL must read as a miss")
	assert.Equal(t, 0, h.Len(), "expired entry is dropped on read")
}

func TestHotTTLCappedAtTierMax(t *testing.T) {
	h := NewHot(10, time.Minute)
	clock := time.Now()
	h.now = func() time.Time { return clock }
	ctx := context.Background()

	// Requested TTL far beyond the tier cap gets the cap, not the request.
	require.NoError(t, h.Set(ctx, "default:k1", hotEntry("fp1"), 24*time.Hour))

	clock = clock.Add(2 * time.Minute)
	_, ok, _ := h.Get(ctx, "default:k1")
	assert.False(t, ok)
}

func TestHotLRUEviction(t *testing.T) {
	h := NewHot(3, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("default:k%d", i)
		require.NoError(t, h.Set(ctx, key, hotEntry(key), time.Minute))
	}

	// Touch k1 so k2 becomes least recently used.
	_, ok, _ := h.Get(ctx, "default:k1")
	require.True(t, ok)

	require.NoError(t, h.Set(ctx, "default:k4", hotEntry("k4"), time.Minute))
	assert.Equal(t, 3, h.Len())

	_, ok, _ = h.Get(ctx, "default:k2")
	assert.False(t, ok, "least recently used entry must be the one evicted")
	_, ok, _ = h.Get(ctx, "default:k1")
	assert.True(t, ok)
	_, ok, _ = h.Get(ctx, "default:k4")
	assert.True(t, ok)
}

func TestHotDeletePrefix(t *testing.T) {
	h := NewHot(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "tenant-a:k1", hotEntry("a1"), time.Minute))
	require.NoError(t, h.Set(ctx, "tenant-a:k2", hotEntry("a2"), time.Minute))
	require.NoError(t, h.Set(ctx, "tenant-b:k1", hotEntry("b1"), time.Minute))

	h.DeletePrefix("tenant-a:")

	_, ok, _ := h.Get(ctx, "tenant-a:k1")
	assert.False(t, ok)
	_, ok, _ = h.Get(ctx, "tenant-b:k1")
	assert.True(t, ok)
}

func TestHotTTLRemaining(t *testing.T) {
	h := NewHot(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "default:k1", hotEntry("fp1"), time.Minute))

	ttl, ok, err := h.TTLRemaining(ctx, "default:k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, ttl, 50*time.Second)

	_, ok, err = h.TTLRemaining(ctx, "default:none")
	require.NoError(t, err)
	assert.False(t, ok)
}
