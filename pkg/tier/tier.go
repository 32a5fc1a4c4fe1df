// Package tier holds the three cache tiers behind one store contract.
// Hot is a process-local bounded map, Warm is shared Redis and the system
// of record, Cold trades exactness for recall via embedding similarity.
package tier

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached response plus the access metadata the optimizer and
// savings accounting need. Promotion copies entries between tiers; each
// tier's copy runs its own TTL clock.
type Entry struct {
	Fingerprint  string          `json:"fingerprint"`
	Namespace    string          `json:"namespace"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccessAt time.Time       `json:"last_access_at"`
	AccessCount  int64           `json:"access_count"`
	TTLSeconds   int64           `json:"ttl_seconds"`
	OriginTier   string          `json:"origin_tier"`
	// SourceText is the flattened message text the fingerprint was computed
	// from. The cold tier embeds it; the payload stays opaque.
	SourceText string `json:"source_text,omitempty"`
}

// Store is the uniform contract every tier implements. Lookups and writes
// are blocking network I/O for the warm and cold tiers, so every method
// takes a context; callers attach timeouts.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	TTLRemaining(ctx context.Context, key string) (time.Duration, bool, error)
	Name() string
}

// Bounds is a tier's [min, max] TTL window.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

// Clamp forces ttl into the bounds. Caller-supplied overrides are clamped,
// never rejected.
func (b Bounds) Clamp(ttl time.Duration) time.Duration {
	if b.Max > 0 && ttl > b.Max {
		ttl = b.Max
	}
	if ttl < b.Min {
		ttl = b.Min
	}
	return ttl
}
