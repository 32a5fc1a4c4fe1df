package tier

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-ai/tollgate/pkg/embedding"
)

func testCold(t *testing.T) *Cold {
	t.Helper()
	_, rdb := testRedis(t)
	return NewCold(rdb, embedding.NewDeterministic(64), ColdConfig{
		Bounds:    Bounds{Min: time.Hour, Max: 7 * 24 * time.Hour},
		Threshold: 0.92,
		Timeout:   time.Second,
	})
}

func coldEntry(fp, source string) *Entry {
	return &Entry{
		Fingerprint: fp,
		Namespace:   "default",
		Payload:     json.RawMessage(`{"text":"cached answer"}`),
		CreatedAt:   time.Now(),
		SourceText:  source,
	}
}

func TestColdRoundTrip(t *testing.T) {
	c := testCold(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "default:k1", coldEntry("v1:abc", "what is the capital of France"), 24*time.Hour))

	got, ok, err := c.Get(ctx, "default:k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1:abc", got.Fingerprint)
}

func TestColdLookupMatchesIdenticalText(t *testing.T) {
	c := testCold(t)
	ctx := context.Background()
	text := "what is the capital of France"

	require.NoError(t, c.Set(ctx, "default:k1", coldEntry("v1:abc", text), 24*time.Hour))

	// The deterministic embedder maps identical text to identical vectors,
	// so an exact repeat scores 1.0.
	got, score, ok := c.Lookup(ctx, "default", text, 0.92)
	require.True(t, ok)
	assert.Equal(t, "v1:abc", got.Fingerprint)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestColdLookupPicksBestOfMany(t *testing.T) {
	c := testCold(t)
	ctx := context.Background()

	texts := []string{
		"write a haiku about Redis",
		"summarize this quarterly report",
		"translate hello to French",
		"explain the halting problem",
		"draft a polite rejection email",
		"list three uses for a paperclip",
	}
	for i, txt := range texts {
		key := fmt.Sprintf("default:k%d", i)
		require.NoError(t, c.Set(ctx, key, coldEntry(fmt.Sprintf("v1:%d", i), txt), 24*time.Hour))
	}
	require.NoError(t, c.Set(ctx, "default:match", coldEntry("v1:match", "what is the capital of France"), 24*time.Hour))

	got, score, ok := c.Lookup(ctx, "default", "what is the capital of France", 0.92)
	require.True(t, ok)
	assert.Equal(t, "v1:match", got.Fingerprint)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestColdLookupRejectsBelowThreshold(t *testing.T) {
	c := testCold(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "default:k1", coldEntry("v1:abc", "what is the capital of France"), 24*time.Hour))

	// Unrelated text embeds to an uncorrelated vector; nothing clears the bar.
	_, _, ok := c.Lookup(ctx, "default", "write a haiku about Redis", 0.92)
	assert.False(t, ok)
}

func TestColdLookupScopedToNamespace(t *testing.T) {
	c := testCold(t)
	ctx := context.Background()
	text := "what is the capital of France"

	require.NoError(t, c.Set(ctx, "tenant-a:k1", coldEntry("v1:abc", text), 24*time.Hour))

	_, _, ok := c.Lookup(ctx, "tenant-b", text, 0.92)
	assert.False(t, ok, "similarity search must never cross tenant namespaces")
}

func TestColdLazyExpiry(t *testing.T) {
	_, rdb := testRedis(t)
	c := NewCold(rdb, embedding.NewDeterministic(64), ColdConfig{
		Bounds:  Bounds{Min: time.Millisecond, Max: 50 * time.Millisecond},
		Timeout: time.Second,
	})
	ctx := context.Background()
	text := "short lived entry"

	require.NoError(t, c.Set(ctx, "default:k1", coldEntry("v1:abc", text), 10*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	_, ok, err := c.Get(ctx, "default:k1")
	require.NoError(t, err)
	assert.False(t, ok, "entries past their recorded expiry read as misses")

	_, _, ok = c.Lookup(ctx, "default", text, 0.92)
	assert.False(t, ok)
}

func TestColdDeleteNamespace(t *testing.T) {
	c := testCold(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "tenant-a:k1", coldEntry("v1:a", "text one"), 24*time.Hour))
	require.NoError(t, c.Set(ctx, "tenant-b:k1", coldEntry("v1:b", "text two"), 24*time.Hour))

	require.NoError(t, c.DeleteNamespace(ctx, "tenant-a"))

	_, ok, _ := c.Get(ctx, "tenant-a:k1")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "tenant-b:k1")
	assert.True(t, ok)
}

func TestSplitKey(t *testing.T) {
	ns, field := splitKey("tenant-a:openai:gpt-4:v1:abc")
	assert.Equal(t, "tenant-a", ns)
	assert.Equal(t, "openai:gpt-4:v1:abc", field)

	ns, field = splitKey("bare")
	assert.Equal(t, "default", ns)
	assert.Equal(t, "bare", field)
}
