package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/statdash/statdash/internal/dataset"
)

// DefaultMemoryCapacity is the number of tables held in memory when no
// capacity is configured.
const DefaultMemoryCapacity = 100

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// MemoryTier is a bounded map from key to table with least-recently-accessed
// eviction. Reads and writes both count as an access.
type MemoryTier struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
	now       Clock
}

type memoryEntry struct {
	key          string
	value        *dataset.Table
	lastAccessed time.Time
}

// NewMemoryTier creates a tier holding at most capacity entries. A capacity
// below one falls back to DefaultMemoryCapacity.
func NewMemoryTier(capacity int) *MemoryTier {
	return newMemoryTier(capacity, time.Now)
}

func newMemoryTier(capacity int, now Clock) *MemoryTier {
	if capacity < 1 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryTier{
		capacity:  capacity,
		items:     make(map[string]*list.Element, capacity),
		evictList: list.New(),
		now:       now,
	}
}

// Get returns the table for key and marks it as most recently accessed.
func (m *MemoryTier) Get(key string) (*dataset.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	entry.lastAccessed = m.now()
	m.evictList.MoveToFront(elem)
	return entry.value, true
}

// Contains reports whether key is resident without touching its access time.
func (m *MemoryTier) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

// Put inserts or replaces key. When a new key arrives at a full tier the least
// recently accessed entry is dropped first and its key returned.
func (m *MemoryTier) Put(key string, value *dataset.Table) (evicted string, didEvict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.lastAccessed = now
		m.evictList.MoveToFront(elem)
		return "", false
	}

	if m.evictList.Len() >= m.capacity {
		if oldest := m.evictList.Back(); oldest != nil {
			evicted = oldest.Value.(*memoryEntry).key
			m.removeElement(oldest)
			didEvict = true
		}
	}

	entry := &memoryEntry{key: key, value: value, lastAccessed: now}
	m.items[key] = m.evictList.PushFront(entry)
	return evicted, didEvict
}

// Remove drops key. It reports whether the key was present.
func (m *MemoryTier) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return false
	}
	m.removeElement(elem)
	return true
}

// Clear drops every entry and returns how many were held.
func (m *MemoryTier) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.evictList.Len()
	m.items = make(map[string]*list.Element, m.capacity)
	m.evictList.Init()
	return n
}

// Len returns the number of resident entries.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Capacity returns the configured entry limit.
func (m *MemoryTier) Capacity() int {
	return m.capacity
}

// Keys returns resident keys from most to least recently accessed.
func (m *MemoryTier) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, m.evictList.Len())
	for e := m.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*memoryEntry).key)
	}
	return keys
}

func (m *MemoryTier) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	delete(m.items, elem.Value.(*memoryEntry).key)
}
