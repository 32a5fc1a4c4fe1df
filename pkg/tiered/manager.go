// Package tiered orchestrates the Hot → Warm → Cold lookup path, promotion
// into warmer tiers, and best-effort write-through on miss.
package tiered

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/tier"
)

// Result describes a lookup outcome: the entry, the tier it was served
// from, and (for cold hits) the similarity score.
type Result struct {
	Entry      *tier.Entry
	Tier       string
	Similarity float64
}

// Config carries the warm-tier TTL window, used when promotions and
// defaulted write-backs need a ceiling, and the pipeline's I/O budgets.
type Config struct {
	WarmBounds tier.Bounds
	// StoreTimeout bounds every warm/cold I/O call on the request path.
	StoreTimeout time.Duration
}

// Manager runs the tier pipeline. Tier failures degrade to misses; the only
// thing that can fail a request here is invalid input upstream of us.
type Manager struct {
	hot  *tier.Hot
	warm *tier.Warm
	cold *tier.Cold // nil when similarity matching is disabled
	cfg  Config

	// wb tracks in-flight write-backs so Close can drain them. Write-backs
	// are optimizations for future requests, so caller cancellation does
	// not propagate into them.
	wb sync.WaitGroup
}

// New builds the manager. cold may be nil.
func New(hot *tier.Hot, warm *tier.Warm, cold *tier.Cold, cfg Config) *Manager {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	return &Manager{hot: hot, warm: warm, cold: cold, cfg: cfg}
}

// Lookup walks Hot → Warm → Cold with early exit on the first hit. A hit at
// a colder tier is promoted into every warmer tier under the entry's
// recorded TTL. coldEnabled lets the compliance gate switch similarity
// matching off per request.
func (m *Manager) Lookup(ctx context.Context, key, namespace, sourceText string, threshold float64, coldEnabled bool) (*Result, bool) {
	if entry, ok, _ := m.hot.Get(ctx, key); ok {
		return &Result{Entry: entry, Tier: "hot"}, true
	}

	wctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	entry, ok, err := m.warm.Get(wctx, key)
	cancel()
	if err != nil {
		log.Printf("[CACHE] warm tier degraded, skipping: %v", err)
	}
	if ok {
		m.promote(key, entry, "hot")
		return &Result{Entry: entry, Tier: "warm"}, true
	}

	if m.cold != nil && coldEnabled {
		if entry, score, ok := m.cold.Lookup(ctx, namespace, sourceText, threshold); ok {
			m.promote(key, entry, "hot", "warm")
			return &Result{Entry: entry, Tier: "cold", Similarity: score}, true
		}
	}

	return nil, false
}

// WriteBack populates all tiers after a successful origin call. The TTL
// passes through as the caller decided it; policy clamping happens at the
// API layer, so a sector window tighter than the tier defaults takes
// effect here. The hot tier caps it at its own fixed TTL internally. Each
// tier write is independent and idempotent; a failed write is logged and
// the others proceed: cache population is best-effort, the response is not
// contingent on it. The work runs detached from the caller's context so a
// client disconnect cannot abort a write-back already dispatched.
func (m *Manager) WriteBack(_ context.Context, key string, entry *tier.Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.cfg.WarmBounds.Clamp(ttl)
	}
	entry.TTLSeconds = int64(ttl.Seconds())

	m.wb.Add(1)
	go func() {
		defer m.wb.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
		defer cancel()

		if err := m.hot.Set(ctx, key, entry, ttl); err != nil {
			log.Printf("[CACHE] hot write-back failed for %s: %v", short(key), err)
		}
		if err := m.warm.Set(ctx, key, entry, ttl); err != nil {
			log.Printf("[CACHE] warm write-back failed for %s: %v", short(key), err)
		}
		if m.cold != nil {
			if err := m.cold.Set(ctx, key, entry, ttl); err != nil {
				log.Printf("[CACHE] cold write-back failed for %s: %v", short(key), err)
			}
		}
	}()
}

// promote copies an entry found in a colder tier into the named warmer
// tiers. Promotion creates independent copies: each tier's TTL clock
// restarts. The entry's recorded TTL is capped at the warm ceiling but
// never raised, so a tight policy window survives promotion too.
func (m *Manager) promote(key string, entry *tier.Entry, tiers ...string) {
	base := time.Duration(entry.TTLSeconds) * time.Second

	m.wb.Add(1)
	go func() {
		defer m.wb.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
		defer cancel()

		for _, t := range tiers {
			cpy := *entry
			var err error
			switch t {
			case "hot":
				err = m.hot.Set(ctx, key, &cpy, base)
			case "warm":
				err = m.warm.Set(ctx, key, &cpy, capAt(base, m.cfg.WarmBounds.Max))
			}
			if err != nil {
				log.Printf("[CACHE] promotion to %s failed for %s: %v", t, short(key), err)
			}
		}
	}()
}

// capAt lowers ttl to max without ever raising it.
func capAt(ttl, max time.Duration) time.Duration {
	if max > 0 && ttl > max {
		return max
	}
	return ttl
}

// Check reports whether the key is cached anywhere and the warm-tier TTL if so.
func (m *Manager) Check(ctx context.Context, key string) (time.Duration, bool) {
	if ttl, ok, _ := m.hot.TTLRemaining(ctx, key); ok {
		return ttl, true
	}
	wctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if ttl, ok, err := m.warm.TTLRemaining(wctx, key); err == nil && ok {
		return ttl, true
	}
	return 0, false
}

// Invalidate removes a single key from every tier.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.hot.Delete(ctx, key)
	wctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if err := m.warm.Delete(wctx, key); err != nil {
		log.Printf("[CACHE] warm invalidate failed for %s: %v", short(key), err)
	}
	if m.cold != nil {
		if err := m.cold.Delete(wctx, key); err != nil {
			log.Printf("[CACHE] cold invalidate failed for %s: %v", short(key), err)
		}
	}
}

// InvalidateNamespace drops everything under a tenant namespace.
func (m *Manager) InvalidateNamespace(ctx context.Context, namespace string) int {
	m.hot.DeletePrefix(namespace + ":")

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	deleted, err := m.warm.DeleteNamespace(wctx, namespace)
	if err != nil {
		log.Printf("[CACHE] namespace invalidation incomplete for %s: %v", namespace, err)
	}
	if m.cold != nil {
		if err := m.cold.DeleteNamespace(wctx, namespace); err != nil {
			log.Printf("[CACHE] cold namespace invalidation failed for %s: %v", namespace, err)
		}
	}
	return deleted
}

// Close waits for in-flight write-backs and promotions to finish.
func (m *Manager) Close() {
	m.wb.Wait()
}

func short(key string) string {
	if len(key) > 24 {
		return key[:24] + "…"
	}
	return key
}
