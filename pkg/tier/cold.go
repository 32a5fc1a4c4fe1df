package tier

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/cache"
	"github.com/tollgate-ai/tollgate/pkg/embedding"
)

const coldPrefix = "cold:"

// coldRecord is what actually sits in the per-namespace Redis hash: the
// entry plus its embedding and an absolute expiry (hash fields cannot carry
// their own TTL, so expiry is enforced lazily on read).
type coldRecord struct {
	Entry     Entry     `json:"entry"`
	Vector    []float64 `json:"vector"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cold is the similarity tier. Entries carry an embedding of their source
// text; lookup embeds the incoming text and returns the nearest stored
// entry above the sector's cosine threshold. Best-effort: a slow backend or
// an under-threshold candidate both just report miss.
type Cold struct {
	rdb       *cache.Client
	embedder  embedding.Provider
	bounds    Bounds
	threshold float64
	timeout   time.Duration
	maxScan   int
}

// ColdConfig tunes the similarity tier.
type ColdConfig struct {
	Bounds    Bounds
	Threshold float64
	Timeout   time.Duration
	MaxScan   int
}

// NewCold creates the cold tier.
func NewCold(rdb *cache.Client, embedder embedding.Provider, cfg ColdConfig) *Cold {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 150 * time.Millisecond
	}
	if cfg.MaxScan <= 0 {
		cfg.MaxScan = 500
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.92
	}
	return &Cold{
		rdb:       rdb,
		embedder:  embedder,
		bounds:    cfg.Bounds,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		maxScan:   cfg.MaxScan,
	}
}

func (c *Cold) Name() string { return "cold" }

// ProviderName reports which embedding backend this tier runs on, so the
// deterministic fallback is visible in audit entries.
func (c *Cold) ProviderName() string { return c.embedder.Name() }

func coldKey(namespace string) string { return coldPrefix + namespace }

// Get looks up by exact fingerprint field first, which makes the Store
// contract hold (set-then-get round-trips), before any similarity scoring.
func (c *Cold) Get(ctx context.Context, key string) (*Entry, bool, error) {
	ns, field := splitKey(key)
	data, err := c.rdb.Redis().HGet(ctx, coldKey(ns), field).Bytes()
	if err != nil {
		return nil, false, nil // treat as miss; redis.Nil and transport errors alike
	}
	rec, ok := c.decodeLive(ctx, ns, field, data)
	if !ok {
		return nil, false, nil
	}
	return &rec.Entry, true, nil
}

// Lookup performs the similarity search: embed the source text, scan the
// namespace hash (bounded), return the nearest entry over the threshold.
// The whole operation runs under the tier's small time budget; on timeout
// it reports a miss rather than delaying the request.
func (c *Cold) Lookup(ctx context.Context, namespace, sourceText string, threshold float64) (*Entry, float64, bool) {
	if threshold <= 0 {
		threshold = c.threshold
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query, err := c.embedder.EmbedQuery(ctx, sourceText)
	if err != nil {
		log.Printf("[COLD] embed failed, treating as miss: %v", err)
		return nil, 0, false
	}

	// Page through the namespace hash with HSCAN so maxScan bounds the
	// transfer, not just the scoring.
	var (
		best      *coldRecord
		bestScore float64
		scanned   int
		cursor    uint64
	)
	for {
		kvs, next, err := c.rdb.Redis().HScan(ctx, coldKey(namespace), cursor, "*", 100).Result()
		if err != nil {
			log.Printf("[COLD] scan failed, treating as miss: %v", err)
			return nil, 0, false
		}
		for i := 0; i+1 < len(kvs) && scanned < c.maxScan; i += 2 {
			scanned++
			rec, ok := c.decodeLive(ctx, namespace, kvs[i], []byte(kvs[i+1]))
			if !ok {
				continue
			}
			score := embedding.Cosine(query, rec.Vector)
			if score >= threshold && score > bestScore {
				best = rec
				bestScore = score
			}
		}
		cursor = next
		if cursor == 0 || scanned >= c.maxScan {
			break
		}
	}

	if best == nil {
		return nil, 0, false
	}
	return &best.Entry, bestScore, true
}

// Set stores the entry with its embedding, under the TTL it is given;
// policy clamping happens upstream. Embedding failures degrade to a
// skipped write; cold population is an optimization, never a request error.
func (c *Cold) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.bounds.Clamp(ttl)
	}

	vec, err := c.embedder.EmbedQuery(ctx, sourceTextOf(entry))
	if err != nil {
		return err
	}

	ns, field := splitKey(key)
	rec := coldRecord{
		Entry:     *entry,
		Vector:    vec,
		ExpiresAt: time.Now().Add(ttl),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := c.rdb.Redis().Pipeline()
	pipe.HSet(ctx, coldKey(ns), field, data)
	// Keep the whole namespace hash from outliving its longest entry by much.
	pipe.Expire(ctx, coldKey(ns), c.bounds.Max)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Cold) Delete(ctx context.Context, key string) error {
	ns, field := splitKey(key)
	return c.rdb.Redis().HDel(ctx, coldKey(ns), field).Err()
}

// DeleteNamespace drops the whole similarity index for a namespace.
func (c *Cold) DeleteNamespace(ctx context.Context, namespace string) error {
	return c.rdb.Del(ctx, coldKey(namespace))
}

func (c *Cold) TTLRemaining(ctx context.Context, key string) (time.Duration, bool, error) {
	ns, field := splitKey(key)
	data, err := c.rdb.Redis().HGet(ctx, coldKey(ns), field).Bytes()
	if err != nil {
		return 0, false, nil
	}
	var rec coldRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, false, nil
	}
	remaining := time.Until(rec.ExpiresAt)
	if remaining <= 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

// decodeLive parses a record and enforces lazy expiry, deleting dead fields
// as it finds them.
func (c *Cold) decodeLive(ctx context.Context, ns, field string, raw []byte) (*coldRecord, bool) {
	var rec coldRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	if time.Now().After(rec.ExpiresAt) {
		c.rdb.Redis().HDel(ctx, coldKey(ns), field)
		return nil, false
	}
	return &rec, true
}

// splitKey separates "<namespace>:rest" into hash key and field.
func splitKey(key string) (namespace, field string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "default", key
}

// sourceTextOf recovers the embeddable text for an entry. The payload is an
// opaque provider response, so the fingerprinted source text is carried on
// the entry itself.
func sourceTextOf(entry *Entry) string {
	if entry.SourceText != "" {
		return entry.SourceText
	}
	return entry.Fingerprint
}
