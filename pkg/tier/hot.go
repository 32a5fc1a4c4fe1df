package tier

import (
	"context"
	"sync"
	"time"
)

// Hot is the process-local tier: a bounded map with a short fixed TTL and
// least-recently-used eviction on overflow. The hosting process may be
// short-lived, so this tier is a latency optimization only, never the
// source of truth.
type Hot struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*hotNode
	head     *hotNode // most recently used
	tail     *hotNode // least recently used
	now      func() time.Time
}

type hotNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	prev      *hotNode
	next      *hotNode
}

// NewHot creates the hot tier with a hard entry cap and fixed TTL.
func NewHot(capacity int, ttl time.Duration) *Hot {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Hot{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*hotNode),
		now:      time.Now,
	}
}

func (h *Hot) Name() string { return "hot" }

func (h *Hot) Get(_ context.Context, key string) (*Entry, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	node, ok := h.items[key]
	if !ok {
		return nil, false, nil
	}
	if h.now().After(node.expiresAt) {
		h.removeNode(node)
		delete(h.items, key)
		return nil, false, nil
	}

	h.moveToHead(node)
	node.entry.AccessCount++
	node.entry.LastAccessAt = h.now()
	return node.entry, true, nil
}

// Set stores a copy-by-pointer of the entry. The requested ttl is capped at
// the tier's fixed TTL; the hot tier never holds anything longer than that.
func (h *Hot) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 || ttl > h.ttl {
		ttl = h.ttl
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if node, ok := h.items[key]; ok {
		node.entry = entry
		node.expiresAt = h.now().Add(ttl)
		h.moveToHead(node)
		return nil
	}

	if len(h.items) >= h.capacity {
		h.evictTail()
	}

	node := &hotNode{
		key:       key,
		entry:     entry,
		expiresAt: h.now().Add(ttl),
	}
	h.items[key] = node
	h.addToHead(node)
	return nil
}

func (h *Hot) Delete(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if node, ok := h.items[key]; ok {
		h.removeNode(node)
		delete(h.items, key)
	}
	return nil
}

func (h *Hot) TTLRemaining(_ context.Context, key string) (time.Duration, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.items[key]
	if !ok {
		return 0, false, nil
	}
	remaining := node.expiresAt.Sub(h.now())
	if remaining <= 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

// DeletePrefix drops every entry whose key starts with prefix. Used for
// namespace-scoped invalidation.
func (h *Hot) DeletePrefix(prefix string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, node := range h.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			h.removeNode(node)
			delete(h.items, key)
		}
	}
}

// Len reports the current entry count.
func (h *Hot) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *Hot) addToHead(node *hotNode) {
	node.prev = nil
	node.next = h.head
	if h.head != nil {
		h.head.prev = node
	}
	h.head = node
	if h.tail == nil {
		h.tail = node
	}
}

func (h *Hot) removeNode(node *hotNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		h.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		h.tail = node.prev
	}
}

func (h *Hot) moveToHead(node *hotNode) {
	if node == h.head {
		return
	}
	h.removeNode(node)
	h.addToHead(node)
}

func (h *Hot) evictTail() {
	if h.tail == nil {
		return
	}
	victim := h.tail
	h.removeNode(victim)
	delete(h.items, victim.key)
}
