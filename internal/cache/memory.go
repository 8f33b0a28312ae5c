package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// DefaultMemoryCapacity bounds a MemoryRepository created with capacity <= 0.
const DefaultMemoryCapacity = 10000

// MemoryRepository is a thread-safe LRU-bounded Repository. Expiry is left
// to the Store; the LRU only caps memory use.
type MemoryRepository struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

// NewMemoryRepository creates an in-process repository holding at most
// capacity entries.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRepository{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Upsert stores e, replacing any entry under the same key.
func (m *MemoryRepository) Upsert(_ context.Context, e domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[e.Key]; ok {
		m.order.MoveToFront(elem)
		elem.Value = &e
		return nil
	}
	m.items[e.Key] = m.order.PushFront(&e)
	if m.order.Len() > m.capacity {
		m.removeElement(m.order.Back())
	}
	return nil
}

// Get returns a copy of the entry under key.
func (m *MemoryRepository) Get(_ context.Context, key string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	m.order.MoveToFront(elem)
	cp := *elem.Value.(*domain.CacheEntry)
	return &cp, nil
}

// Touch increments the access count of key.
func (m *MemoryRepository) Touch(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return 0, ErrNotFound
	}
	e := elem.Value.(*domain.CacheEntry)
	e.AccessCount++
	return e.AccessCount, nil
}

// Delete removes key if present.
func (m *MemoryRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
	return nil
}

// Clear removes all entries.
func (m *MemoryRepository) Clear(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(m.order.Len())
	m.items = make(map[string]*list.Element, m.capacity)
	m.order.Init()
	return n, nil
}

// DeleteExpired removes entries whose expiry is at or before now.
func (m *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	var prev *list.Element
	for elem := m.order.Back(); elem != nil; elem = prev {
		prev = elem.Prev()
		if !now.Before(elem.Value.(*domain.CacheEntry).ExpiresAt) {
			m.removeElement(elem)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored entries.
func (m *MemoryRepository) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.order.Len()), nil
}

func (m *MemoryRepository) removeElement(elem *list.Element) {
	m.order.Remove(elem)
	delete(m.items, elem.Value.(*domain.CacheEntry).Key)
}
