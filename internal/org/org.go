// Package org manages organization identity: registration, token lookup
// and deletion.
package org

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/vnmchuo/usage-tracker/internal/kv"
)

var (
	ErrNotFound       = errors.New("organization not found")
	ErrAmbiguousToken = errors.New("auth token matches more than one organization")
)

const StatusActive = "active"

// Attribute and index names of the organization table.
const (
	AttrOrganizationID = "organization_id"
	AttrTokenHash      = "auth_token_hash"

	IndexAuthToken = "AuthTokenIndex"
)

// OrgSchema describes the organization table named table.
func OrgSchema(table string) kv.Schema {
	return kv.Schema{
		Name:         table,
		PartitionKey: AttrOrganizationID,
		Indexes: map[string]kv.Index{
			IndexAuthToken: {PartitionKey: AttrTokenHash},
		},
	}
}

type Organization struct {
	ID           string    `json:"organization_id"`
	Name         string    `json:"organization_name"`
	TokenHash    string    `json:"auth_token_hash"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Description  string    `json:"description,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (o *Organization) MarshalBinary() ([]byte, error) {
	return json.Marshal(o)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (o *Organization) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, o)
}

func (o *Organization) Active() bool {
	return o.Status == StatusActive
}

// HashToken returns the stored form of an auth token.
func HashToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// Directory stores organizations and resolves auth tokens to them.
type Directory interface {
	Create(ctx context.Context, o *Organization) error
	Get(ctx context.Context, id string) (*Organization, error)
	// LookupByToken resolves a plaintext token. It returns ErrNotFound when
	// no organization holds it and ErrAmbiguousToken when several do.
	LookupByToken(ctx context.Context, token string) (*Organization, error)
	Delete(ctx context.Context, o *Organization) error
}
