package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultMemoCapacity bounds a Memoizer built with a non-positive capacity.
const DefaultMemoCapacity = 10000

// Memoizer caches the results of fn by key in memory. Errors are never
// cached. When full, the oldest stored result is dropped first.
//
// Invalidation is generation based: a call that started before Invalidate or
// InvalidateAll cannot store its result afterwards, and later callers never
// join it. A shared computation runs to completion even if the caller that
// started it gives up; each caller stops waiting when its own ctx ends.
type Memoizer[V any] struct {
	fn       func(ctx context.Context, key string) (V, error)
	capacity int

	mu         sync.Mutex
	values     map[string]*list.Element
	order      *list.List
	generation uint64

	group singleflight.Group
}

type memoEntry[V any] struct {
	key   string
	value V
}

// NewMemoizer wraps fn.
func NewMemoizer[V any](fn func(ctx context.Context, key string) (V, error), capacity int) *Memoizer[V] {
	if capacity < 1 {
		capacity = DefaultMemoCapacity
	}
	return &Memoizer[V]{
		fn:       fn,
		capacity: capacity,
		values:   make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Call returns the memoized result for key, computing it on first use.
func (m *Memoizer[V]) Call(ctx context.Context, key string) (V, error) {
	m.mu.Lock()
	if elem, ok := m.values[key]; ok {
		v := elem.Value.(*memoEntry[V]).value
		m.mu.Unlock()
		return v, nil
	}
	gen := m.generation
	m.mu.Unlock()

	flight := strconv.FormatUint(gen, 10) + "\x00" + key
	ch := m.group.DoChan(flight, func() (any, error) {
		v, err := m.fn(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		m.store(key, v, gen)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (m *Memoizer[V]) store(key string, v V, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	if elem, ok := m.values[key]; ok {
		elem.Value.(*memoEntry[V]).value = v
		return
	}
	for m.order.Len() >= m.capacity {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.values, oldest.Value.(*memoEntry[V]).key)
	}
	m.values[key] = m.order.PushBack(&memoEntry[V]{key: key, value: v})
}

// Invalidate forgets the result for key. Calls in flight for any key are
// not stored.
func (m *Memoizer[V]) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if elem, ok := m.values[key]; ok {
		m.order.Remove(elem)
		delete(m.values, key)
	}
}

// InvalidateAll forgets every result.
func (m *Memoizer[V]) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.values = make(map[string]*list.Element)
	m.order.Init()
}

// Len returns the number of memoized results.
func (m *Memoizer[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
