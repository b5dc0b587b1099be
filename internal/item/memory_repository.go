package item

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-process Repository used by the memory storage
// driver and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[int64]Item
}

// NewMemoryRepository creates a MemoryRepository seeded with items.
func NewMemoryRepository(items ...Item) *MemoryRepository {
	r := &MemoryRepository{items: make(map[int64]Item, len(items))}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

// Put adds or replaces an item.
func (r *MemoryRepository) Put(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.ID] = it
}

func (r *MemoryRepository) GetItem(_ context.Context, id int64) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (r *MemoryRepository) GetItems(_ context.Context, ids []int64) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []Item
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if it, ok := r.items[id]; ok {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
