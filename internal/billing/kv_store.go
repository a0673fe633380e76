package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vnmchuo/usage-tracker/internal/kv"
)

// purgeBatchSize bounds one BatchDelete call during a purge.
const purgeBatchSize = 100

// KVStore is a Store over a kv.Table shaped by UsageSchema.
type KVStore struct {
	table kv.Table
}

func NewKVStore(table kv.Table) *KVStore {
	return &KVStore{table: table}
}

func orgUser(organizationID, userID string) string {
	return organizationID + "#" + userID
}

func (s *KVStore) Put(ctx context.Context, rec *UsageRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode usage record: %w", err)
	}

	item := kv.Item{
		Attrs: map[string]string{
			AttrOrganizationID: rec.OrganizationID,
			AttrRecordID:       rec.RecordID,
			AttrUserID:         rec.UserID,
			AttrTimestamp:      FormatTimestamp(rec.Timestamp),
			AttrOrgUser:        orgUser(rec.OrganizationID, rec.UserID),
			AttrModelName:      rec.ModelName,
		},
		Body: body,
	}
	if err := s.table.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}
	return nil
}

func (s *KVStore) QueryOrganization(ctx context.Context, organizationID string, from, to time.Time) ([]*UsageRecord, error) {
	items, err := s.table.Query(ctx, kv.Query{
		Index:     IndexOrgTimestamp,
		Partition: organizationID,
		Sort:      kv.Between(FormatTimestamp(from), FormatTimestamp(to)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	return decodeRecords(items, func(r *UsageRecord) bool {
		return r.OrganizationID == organizationID
	})
}

func (s *KVStore) QueryUser(ctx context.Context, organizationID, userID string, from, to time.Time) ([]*UsageRecord, error) {
	items, err := s.table.Query(ctx, kv.Query{
		Index:     IndexOrgUserTimestamp,
		Partition: orgUser(organizationID, userID),
		Sort:      kv.Between(FormatTimestamp(from), FormatTimestamp(to)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	// "a#b"+"c" and "a"+"b#c" share an index partition
	return decodeRecords(items, func(r *UsageRecord) bool {
		return r.OrganizationID == organizationID && r.UserID == userID
	})
}

func (s *KVStore) PurgeOrganization(ctx context.Context, organizationID string) (int, error) {
	items, err := s.table.Query(ctx, kv.Query{Partition: organizationID})
	if err != nil {
		return 0, fmt.Errorf("failed to list usage records: %w", err)
	}

	purged := 0
	for start := 0; start < len(items); start += purgeBatchSize {
		end := start + purgeBatchSize
		if end > len(items) {
			end = len(items)
		}
		keys := make([]kv.Key, 0, end-start)
		for _, it := range items[start:end] {
			keys = append(keys, kv.Key{Partition: organizationID, Sort: it.Attrs[AttrRecordID]})
		}
		if err := s.table.BatchDelete(ctx, keys); err != nil {
			return purged, fmt.Errorf("failed to delete usage records: %w", err)
		}
		purged += len(keys)
	}
	return purged, nil
}

func decodeRecords(items []kv.Item, keep func(*UsageRecord) bool) ([]*UsageRecord, error) {
	records := make([]*UsageRecord, 0, len(items))
	for _, it := range items {
		var rec UsageRecord
		if err := json.Unmarshal(it.Body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode usage record %s: %w", it.Attrs[AttrRecordID], err)
		}
		if keep(&rec) {
			records = append(records, &rec)
		}
	}
	return records, nil
}
