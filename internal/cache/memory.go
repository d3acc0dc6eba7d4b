package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/models"
)

const defaultMaxEntries = 1000

type memoryItem struct {
	key      string
	quote    models.Quote
	expireAt time.Time
}

// Memory is an in-process QuoteCache with TTL expiry and LRU eviction once
// maxEntries is reached. Expired entries are dropped lazily on access.
type Memory struct {
	mu         sync.Mutex
	clock      clock.Clock
	ttl        time.Duration
	maxEntries int
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
}

var _ QuoteCache = (*Memory)(nil)

// NewMemory creates a memory cache. A non-positive ttl disables caching;
// a non-positive maxEntries falls back to 1000.
func NewMemory(ttl time.Duration, maxEntries int, clk clock.Clock) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		clock:      clk,
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
	}
}

func (m *Memory) Get(_ context.Context, symbol string) (models.Quote, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key(symbol)]
	if !ok {
		return models.Quote{}, false, nil
	}
	item := el.Value.(*memoryItem)
	if !m.clock.Now().Before(item.expireAt) {
		m.remove(el)
		return models.Quote{}, false, nil
	}
	m.lru.MoveToFront(el)
	return item.quote, true, nil
}

func (m *Memory) Set(_ context.Context, symbol string, q models.Quote) error {
	if m.ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(symbol)
	expireAt := m.clock.Now().Add(m.ttl)
	if el, ok := m.items[k]; ok {
		item := el.Value.(*memoryItem)
		item.quote = q
		item.expireAt = expireAt
		m.lru.MoveToFront(el)
		return nil
	}

	for m.lru.Len() >= m.maxEntries {
		m.remove(m.lru.Back())
	}
	m.items[k] = m.lru.PushFront(&memoryItem{key: k, quote: q, expireAt: expireAt})
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Memory) remove(el *list.Element) {
	m.lru.Remove(el)
	delete(m.items, el.Value.(*memoryItem).key)
}
