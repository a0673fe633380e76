// Package kv is the key-value capability the usage and organization stores
// are built on: partitioned items, optional sort keys and sparse secondary
// indexes, with interchangeable backends.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound     = errors.New("kv: item not found")
	ErrUnknownIndex = errors.New("kv: unknown index")
	ErrInvalidItem  = errors.New("kv: invalid item")
)

// Key addresses one item. Sort is empty for tables without a sort key.
type Key struct {
	Partition string
	Sort      string
}

// Index names the attributes a secondary index is keyed on. SortKey may be
// empty.
type Index struct {
	PartitionKey string
	SortKey      string
}

// Schema describes a logical table.
type Schema struct {
	Name         string
	PartitionKey string
	SortKey      string
	Indexes      map[string]Index
}

// Item is a stored entry. Attrs carries the key and index attributes; Body is
// an opaque JSON document owned by the caller.
type Item struct {
	Attrs map[string]string
	Body  []byte
}

// Table is the capability consumed by the stores.
//
// Query returns every matching item ordered by the queried sort attribute,
// then by primary key. Items lacking an index attribute are absent from that
// index. Delete and BatchDelete of missing keys succeed.
type Table interface {
	Schema() Schema
	Put(ctx context.Context, item Item) error
	Get(ctx context.Context, key Key) (Item, error)
	Query(ctx context.Context, q Query) ([]Item, error)
	Delete(ctx context.Context, key Key) error
	BatchDelete(ctx context.Context, keys []Key) error
}

type sortOp int

const (
	opEqual sortOp = iota + 1
	opBetween
)

// SortCondition restricts the sort attribute of a query.
type SortCondition struct {
	op     sortOp
	lo, hi string
}

// Equal matches sort values equal to v.
func Equal(v string) *SortCondition {
	return &SortCondition{op: opEqual, lo: v, hi: v}
}

// Between matches sort values in [lo, hi], compared bytewise.
func Between(lo, hi string) *SortCondition {
	return &SortCondition{op: opBetween, lo: lo, hi: hi}
}

// Match reports whether v satisfies the condition. A nil condition matches
// everything.
func (c *SortCondition) Match(v string) bool {
	if c == nil {
		return true
	}
	return v >= c.lo && v <= c.hi
}

// Query selects items by partition value on the primary key (Index == "") or
// on a named index.
type Query struct {
	Index     string
	Partition string
	Sort      *SortCondition
}

// KeyOf extracts the primary key of item.
func (s Schema) KeyOf(item Item) (Key, error) {
	pk := item.Attrs[s.PartitionKey]
	if pk == "" {
		return Key{}, fmt.Errorf("%w: missing partition key %s", ErrInvalidItem, s.PartitionKey)
	}
	var sk string
	if s.SortKey != "" {
		sk = item.Attrs[s.SortKey]
		if sk == "" {
			return Key{}, fmt.Errorf("%w: missing sort key %s", ErrInvalidItem, s.SortKey)
		}
	}
	return Key{Partition: pk, Sort: sk}, nil
}

// keyAttrs returns the primary key as attributes.
func (s Schema) keyAttrs(key Key) map[string]string {
	attrs := map[string]string{s.PartitionKey: key.Partition}
	if s.SortKey != "" {
		attrs[s.SortKey] = key.Sort
	}
	return attrs
}

// lookupIndex resolves a query's index; the empty name is the primary key.
func (s Schema) lookupIndex(name string) (Index, error) {
	if name == "" {
		return Index{PartitionKey: s.PartitionKey, SortKey: s.SortKey}, nil
	}
	idx, ok := s.Indexes[name]
	if !ok {
		return Index{}, fmt.Errorf("%w: %s on %s", ErrUnknownIndex, name, s.Name)
	}
	return idx, nil
}

// indexNames returns the schema's index names in a stable order.
func (s Schema) indexNames() []string {
	names := make([]string, 0, len(s.Indexes))
	for name := range s.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Schema) validate(item Item) (Key, error) {
	key, err := s.KeyOf(item)
	if err != nil {
		return Key{}, err
	}
	for name, v := range item.Attrs {
		if strings.ContainsRune(v, 0) || strings.ContainsRune(name, 0) {
			return Key{}, fmt.Errorf("%w: attribute %q contains NUL", ErrInvalidItem, name)
		}
	}
	return key, nil
}

func (s Schema) validateQuery(q Query) (Index, error) {
	idx, err := s.lookupIndex(q.Index)
	if err != nil {
		return Index{}, err
	}
	if q.Partition == "" {
		return Index{}, fmt.Errorf("kv: query on %s needs a partition value", s.Name)
	}
	if q.Sort != nil && idx.SortKey == "" {
		return Index{}, fmt.Errorf("kv: index %q on %s has no sort key", q.Index, s.Name)
	}
	return idx, nil
}

func cloneItem(item Item) Item {
	out := Item{Attrs: make(map[string]string, len(item.Attrs))}
	for k, v := range item.Attrs {
		out.Attrs[k] = v
	}
	if item.Body != nil {
		out.Body = append([]byte(nil), item.Body...)
	}
	return out
}

// sortItems orders query results by the index sort attribute, then by the
// primary key.
func sortItems(s Schema, idx Index, items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Attrs, items[j].Attrs
		if idx.SortKey != "" && a[idx.SortKey] != b[idx.SortKey] {
			return a[idx.SortKey] < b[idx.SortKey]
		}
		if a[s.PartitionKey] != b[s.PartitionKey] {
			return a[s.PartitionKey] < b[s.PartitionKey]
		}
		return a[s.SortKey] < b[s.SortKey]
	})
}
