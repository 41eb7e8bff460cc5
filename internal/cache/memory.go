// Package cache implements the in-process memory tier: a least-recently-used
// cache with per-entry TTL. It is the fastest path of the read pipeline and
// survives only for the process lifetime.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the cache when no capacity is configured.
const DefaultMaxEntries = 100

type entry struct {
	key       string
	value     any
	expiresAt time.Time // zero means no expiry
}

// Memory is a size-bounded LRU cache with per-entry TTL. A Get refreshes
// recency; an expired entry is treated as a miss and evicted.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	now        func() time.Time
}

// NewMemory creates a memory cache bounded by maxEntries.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns the cached value for key, reporting a miss for absent or
// expired entries.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false
	}

	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.removeElement(el)
		return nil, false
	}

	m.order.MoveToFront(el)
	return e.value, true
}

// Set stores value under key. A ttl <= 0 means the entry never expires on
// its own; it leaves the cache through eviction or explicit deletion. When
// the cache is full the least-recently-used entry is evicted.
func (m *Memory) Set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if el, ok := m.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		m.order.MoveToFront(el)
		return
	}

	el := m.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	m.items[key] = el

	if m.order.Len() > m.maxEntries {
		if oldest := m.order.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
}

// Delete removes key from the cache if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
}

// DeletePrefix removes every entry whose key starts with prefix.
func (m *Memory) DeletePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); len(e.key) >= len(prefix) && e.key[:len(prefix)] == prefix {
			m.removeElement(el)
		}
		el = next
	}
}

// Purge drops every entry.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	m.items = make(map[string]*list.Element)
}

// Len returns the number of live entries, counting expired ones not yet
// observed by Get.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	m.order.Remove(el)
	delete(m.items, e.key)
}
