package transport

import (
	"container/list"
	"context"
	"net/http"
	"sync"
	"time"
)

// Entry is a cached GET response.
type Entry struct {
	Body       []byte      `json:"body"`
	Header     http.Header `json:"header"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Cache stores successful GET responses keyed by URL. Implementations must
// never return an entry older than their TTL.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, e Entry)
}

// MemoryCache is a bounded in-process Cache. Stale entries are dropped when
// touched, and once the bound is exceeded the oldest entries go first.
type MemoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	order   *list.List // oldest capture at the front
	entries map[string]*list.Element
}

type memoryItem struct {
	key   string
	entry Entry
}

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get returns a fresh entry for key.
func (m *MemoryCache) Get(_ context.Context, key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	item := el.Value.(*memoryItem)
	if !m.fresh(item.entry) {
		m.remove(el)
		return Entry{}, false
	}
	return item.entry, true
}

// Set stores e under key, replacing any previous entry.
func (m *MemoryCache) Set(_ context.Context, key string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
	m.entries[key] = m.order.PushBack(&memoryItem{key: key, entry: e})

	if m.order.Len() > m.maxEntries {
		m.purgeStale()
	}
	for m.order.Len() > m.maxEntries {
		m.remove(m.order.Front())
	}
}

// Len returns the number of stored entries, stale ones included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryCache) fresh(e Entry) bool {
	return m.now().Sub(e.CapturedAt) < m.ttl
}

func (m *MemoryCache) purgeStale() {
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !m.fresh(el.Value.(*memoryItem).entry) {
			m.remove(el)
		}
		el = next
	}
}

func (m *MemoryCache) remove(el *list.Element) {
	item := m.order.Remove(el).(*memoryItem)
	delete(m.entries, item.key)
}
