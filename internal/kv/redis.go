package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned when an optimistic Redis transaction keeps losing
// to concurrent writers.
var ErrConflict = errors.New("kv: too many concurrent updates")

const maxTxRetries = 10

// RedisTable stores each item as a JSON string. Every partition is a sorted
// set of sort keys and every index partition a sorted set of
// "sortValue\x00partition\x00sort" members, all scored 0 so ZRANGEBYLEX
// gives bytewise range scans.
type RedisTable struct {
	client redis.UniversalClient
	schema Schema
	prefix string
}

func NewRedisTable(client redis.UniversalClient, schema Schema) *RedisTable {
	return &RedisTable{
		client: client,
		schema: schema,
		prefix: "kv:" + schema.Name + ":",
	}
}

type redisEnvelope struct {
	Attrs map[string]string `json:"attrs"`
	Body  []byte            `json:"body"`
}

func (t *RedisTable) Schema() Schema {
	return t.schema
}

func (t *RedisTable) itemKey(key Key) string {
	// length prefix keeps "a:b"+"c" and "a"+"b:c" apart
	return fmt.Sprintf("%sitem:%d:%s:%s", t.prefix, len(key.Partition), key.Partition, key.Sort)
}

func (t *RedisTable) partitionKey(pk string) string {
	return t.prefix + "part:" + pk
}

func (t *RedisTable) indexKey(index, pk string) string {
	return t.prefix + "idx:" + index + ":" + pk
}

func indexMember(sortValue string, key Key) string {
	return sortValue + "\x00" + key.Partition + "\x00" + key.Sort
}

func parseIndexMember(member string) (Key, bool) {
	parts := strings.SplitN(member, "\x00", 3)
	if len(parts) != 3 {
		return Key{}, false
	}
	return Key{Partition: parts[1], Sort: parts[2]}, true
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (t *RedisTable) load(ctx context.Context, c stringGetter, itemKey string) (Item, error) {
	raw, err := c.Get(ctx, itemKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("redis get %s: %w", itemKey, err)
	}
	return decodeEnvelope(raw)
}

func decodeEnvelope(raw []byte) (Item, error) {
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Item{}, fmt.Errorf("failed to decode item: %w", err)
	}
	return Item{Attrs: env.Attrs, Body: env.Body}, nil
}

// indexEntries lists the sorted-set entries item contributes to.
func (t *RedisTable) indexEntries(key Key, item Item) map[string]string {
	entries := map[string]string{t.partitionKey(key.Partition): key.Sort}
	for _, name := range t.schema.indexNames() {
		idx := t.schema.Indexes[name]
		ipk, ok := item.Attrs[idx.PartitionKey]
		if !ok || ipk == "" {
			continue
		}
		var isk string
		if idx.SortKey != "" {
			if isk, ok = item.Attrs[idx.SortKey]; !ok {
				continue
			}
		}
		entries[t.indexKey(name, ipk)] = indexMember(isk, key)
	}
	return entries
}

// update runs fn inside a WATCH on the item key, retrying on conflicts.
func (t *RedisTable) update(ctx context.Context, key Key, fn func(tx *redis.Tx, old *Item) error) error {
	ik := t.itemKey(key)
	txf := func(tx *redis.Tx) error {
		old, err := t.load(ctx, tx, ik)
		switch {
		case errors.Is(err, ErrNotFound):
			return fn(tx, nil)
		case err != nil:
			return err
		default:
			return fn(tx, &old)
		}
	}

	for i := 0; i < maxTxRetries; i++ {
		err := t.client.Watch(ctx, txf, ik)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (t *RedisTable) Put(ctx context.Context, item Item) error {
	key, err := t.schema.validate(item)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(redisEnvelope{Attrs: item.Attrs, Body: item.Body})
	if err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}

	ik := t.itemKey(key)
	return t.update(ctx, key, func(tx *redis.Tx, old *Item) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil {
				for set, member := range t.indexEntries(key, *old) {
					pipe.ZRem(ctx, set, member)
				}
			}
			pipe.Set(ctx, ik, payload, 0)
			for set, member := range t.indexEntries(key, item) {
				pipe.ZAdd(ctx, set, redis.Z{Member: member})
			}
			return nil
		})
		return err
	})
}

func (t *RedisTable) Get(ctx context.Context, key Key) (Item, error) {
	return t.load(ctx, t.client, t.itemKey(key))
}

func (t *RedisTable) Query(ctx context.Context, q Query) ([]Item, error) {
	idx, err := t.schema.validateQuery(q)
	if err != nil {
		return nil, err
	}

	var keys []Key
	if q.Index == "" {
		lo, hi := "-", "+"
		if q.Sort != nil {
			lo, hi = "["+q.Sort.lo, "["+q.Sort.hi
		}
		sks, err := t.client.ZRangeByLex(ctx, t.partitionKey(q.Partition), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis query %s: %w", t.schema.Name, err)
		}
		for _, sk := range sks {
			keys = append(keys, Key{Partition: q.Partition, Sort: sk})
		}
	} else {
		lo, hi := "-", "+"
		if q.Sort != nil {
			// members are "sortValue\x00...", so "\x01" bounds the whole hi value
			lo, hi = "["+q.Sort.lo, "("+q.Sort.hi+"\x01"
		}
		members, err := t.client.ZRangeByLex(ctx, t.indexKey(q.Index, q.Partition), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis query %s/%s: %w", t.schema.Name, q.Index, err)
		}
		for _, m := range members {
			if key, ok := parseIndexMember(m); ok {
				keys = append(keys, key)
			}
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	itemKeys := make([]string, len(keys))
	for i, key := range keys {
		itemKeys[i] = t.itemKey(key)
	}
	vals, err := t.client.MGet(ctx, itemKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", t.schema.Name, err)
	}

	out := make([]Item, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// deleted between the range scan and the read
			continue
		}
		item, err := decodeEnvelope([]byte(s))
		if err != nil {
			return nil, err
		}
		// a concurrent rewrite may have moved the item out of range
		if idx.SortKey != "" && !q.Sort.Match(item.Attrs[idx.SortKey]) {
			continue
		}
		if item.Attrs[idx.PartitionKey] != q.Partition {
			continue
		}
		out = append(out, item)
	}
	sortItems(t.schema, idx, out)
	return out, nil
}

func (t *RedisTable) Delete(ctx context.Context, key Key) error {
	ik := t.itemKey(key)
	return t.update(ctx, key, func(tx *redis.Tx, old *Item) error {
		if old == nil {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, ik)
			for set, member := range t.indexEntries(key, *old) {
				pipe.ZRem(ctx, set, member)
			}
			return nil
		})
		return err
	})
}

func (t *RedisTable) BatchDelete(ctx context.Context, keys []Key) error {
	for _, key := range keys {
		if err := t.Delete(ctx, key); err != nil {
			return fmt.Errorf("redis batch delete %s: %w", t.schema.Name, err)
		}
	}
	return nil
}
