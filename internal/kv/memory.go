package kv

import (
	"context"
	"sync"
)

// MemoryTable keeps items in process. It is used by tests and local runs.
type MemoryTable struct {
	schema Schema

	mu    sync.RWMutex
	items map[Key]Item
}

func NewMemoryTable(schema Schema) *MemoryTable {
	return &MemoryTable{
		schema: schema,
		items:  make(map[Key]Item),
	}
}

func (t *MemoryTable) Schema() Schema {
	return t.schema
}

func (t *MemoryTable) Put(ctx context.Context, item Item) error {
	key, err := t.schema.validate(item)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.items[key] = cloneItem(item)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTable) Get(ctx context.Context, key Key) (Item, error) {
	t.mu.RLock()
	item, ok := t.items[key]
	t.mu.RUnlock()
	if !ok {
		return Item{}, ErrNotFound
	}
	return cloneItem(item), nil
}

func (t *MemoryTable) Query(ctx context.Context, q Query) ([]Item, error) {
	idx, err := t.schema.validateQuery(q)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	var out []Item
	for _, item := range t.items {
		if item.Attrs[idx.PartitionKey] != q.Partition {
			continue
		}
		if idx.SortKey != "" {
			sv, ok := item.Attrs[idx.SortKey]
			if !ok || !q.Sort.Match(sv) {
				continue
			}
		}
		out = append(out, cloneItem(item))
	}
	t.mu.RUnlock()

	sortItems(t.schema, idx, out)
	return out, nil
}

func (t *MemoryTable) Delete(ctx context.Context, key Key) error {
	t.mu.Lock()
	delete(t.items, key)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTable) BatchDelete(ctx context.Context, keys []Key) error {
	t.mu.Lock()
	for _, key := range keys {
		delete(t.items, key)
	}
	t.mu.Unlock()
	return nil
}

// Len returns the number of stored items.
func (t *MemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
