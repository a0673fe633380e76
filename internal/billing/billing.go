// Package billing records metered model usage and answers cost queries over
// the stored records.
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-tracker/internal/kv"
)

// Attribute and index names of the usage table.
const (
	AttrOrganizationID = "organization_id"
	AttrRecordID       = "record_id"
	AttrUserID         = "user_id"
	AttrTimestamp      = "timestamp"
	AttrOrgUser        = "org_user"
	AttrModelName      = "model_name"

	IndexOrgTimestamp     = "OrgTimestampIndex"
	IndexOrgUserTimestamp = "OrgUserTimestampIndex"
)

// TimestampLayout is the stored form of record timestamps. It is fixed
// width and always UTC, so string order is time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// UsageSchema describes the usage table named table.
func UsageSchema(table string) kv.Schema {
	return kv.Schema{
		Name:         table,
		PartitionKey: AttrOrganizationID,
		SortKey:      AttrRecordID,
		Indexes: map[string]kv.Index{
			IndexOrgTimestamp:     {PartitionKey: AttrOrganizationID, SortKey: AttrTimestamp},
			IndexOrgUserTimestamp: {PartitionKey: AttrOrgUser, SortKey: AttrTimestamp},
		},
	}
}

// UsageRecord is one metered model call. It is immutable once stored.
type UsageRecord struct {
	OrganizationID    string          `json:"organization_id"`
	RecordID          string          `json:"record_id"`
	UserID            string          `json:"user_id"`
	Timestamp         time.Time       `json:"timestamp"`
	ModelName         string          `json:"model_name"`
	InputTokens       int64           `json:"input_tokens"`
	OutputTokens      int64           `json:"output_tokens"`
	CachedInputTokens int64           `json:"cached_input_tokens"`
	ReasoningTokens   int64           `json:"reasoning_tokens"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Store persists usage records and answers time-window queries over them.
type Store interface {
	Put(ctx context.Context, rec *UsageRecord) error
	// QueryOrganization returns the organization's records with from <= timestamp <= to.
	QueryOrganization(ctx context.Context, organizationID string, from, to time.Time) ([]*UsageRecord, error)
	// QueryUser is QueryOrganization narrowed to one user.
	QueryUser(ctx context.Context, organizationID, userID string, from, to time.Time) ([]*UsageRecord, error)
	// PurgeOrganization deletes every record of the organization and reports
	// how many were removed. Re-running it after a failure finishes the job.
	PurgeOrganization(ctx context.Context, organizationID string) (int, error)
}
