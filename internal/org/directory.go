package org

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vnmchuo/usage-tracker/internal/kv"
)

// KVDirectory is a Directory over a kv.Table shaped by OrgSchema.
type KVDirectory struct {
	table kv.Table
}

func NewKVDirectory(table kv.Table) *KVDirectory {
	return &KVDirectory{table: table}
}

func (d *KVDirectory) Create(ctx context.Context, o *Organization) error {
	if o.TokenHash == "" {
		return fmt.Errorf("auth_token_hash is required")
	}
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode organization: %w", err)
	}
	item := kv.Item{
		Attrs: map[string]string{
			AttrOrganizationID: o.ID,
			AttrTokenHash:      o.TokenHash,
		},
		Body: body,
	}
	if err := d.table.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (d *KVDirectory) Get(ctx context.Context, id string) (*Organization, error) {
	item, err := d.table.Get(ctx, kv.Key{Partition: id})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return decodeOrganization(item)
}

func (d *KVDirectory) LookupByToken(ctx context.Context, token string) (*Organization, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	items, err := d.table.Query(ctx, kv.Query{Index: IndexAuthToken, Partition: HashToken(token)})
	if err != nil {
		return nil, fmt.Errorf("failed to look up auth token: %w", err)
	}
	switch len(items) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return decodeOrganization(items[0])
	default:
		return nil, ErrAmbiguousToken
	}
}

func (d *KVDirectory) Delete(ctx context.Context, o *Organization) error {
	if err := d.table.Delete(ctx, kv.Key{Partition: o.ID}); err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return nil
}

func decodeOrganization(item kv.Item) (*Organization, error) {
	var o Organization
	if err := json.Unmarshal(item.Body, &o); err != nil {
		return nil, fmt.Errorf("failed to decode organization %s: %w", item.Attrs[AttrOrganizationID], err)
	}
	return &o, nil
}
