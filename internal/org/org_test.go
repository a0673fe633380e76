package org

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
	"github.com/vnmchuo/usage-tracker/internal/billing"
	"github.com/vnmchuo/usage-tracker/internal/kv"
)

type mockPurger struct {
	PurgeFunc func(ctx context.Context, organizationID string) (int, error)
}

func (m *mockPurger) PurgeOrganization(ctx context.Context, organizationID string) (int, error) {
	return m.PurgeFunc(ctx, organizationID)
}

type fixture struct {
	dir     *KVDirectory
	orgs    *kv.MemoryTable
	usage   *billing.KVStore
	manager *Manager
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	orgs := kv.NewMemoryTable(OrgSchema("orgs"))
	usage := billing.NewKVStore(kv.NewMemoryTable(billing.UsageSchema("usage")))
	dir := NewKVDirectory(orgs)
	return &fixture{
		dir:     dir,
		orgs:    orgs,
		usage:   usage,
		manager: NewManager(dir, usage, zap.NewNop(), noop.NewTracerProvider().Tracer("test")),
	}
}

func (f *fixture) addUsage(t *testing.T, organizationID string, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := f.usage.Put(context.Background(), &billing.UsageRecord{
			OrganizationID: organizationID,
			RecordID:       organizationID + "-" + time.Duration(i).String(),
			UserID:         "u1",
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			ModelName:      "gpt-4",
			TotalCost:      decimal.RequireFromString("0.01"),
		})
		require.NoError(t, err)
	}
}

func (f *fixture) usageCount(t *testing.T, organizationID string) int {
	t.Helper()
	recs, err := f.usage.QueryOrganization(context.Background(), organizationID,
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return len(recs)
}

func TestRegister(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	reg, err := f.manager.Register(ctx, RegisterRequest{Name: "Acme", ContactEmail: "ops@acme.test"})
	require.NoError(t, err)
	assert.Regexp(t, `^org_[0-9a-f-]{36}$`, reg.OrganizationID)
	assert.NotEmpty(t, reg.AuthToken)
	assert.Equal(t, "Acme", reg.Name)

	stored, err := f.dir.Get(ctx, reg.OrganizationID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, "ops@acme.test", stored.ContactEmail)
	assert.Equal(t, HashToken(reg.AuthToken), stored.TokenHash)
	assert.NotContains(t, stored.TokenHash, reg.AuthToken)
	assert.False(t, stored.CreatedAt.IsZero())

	found, err := f.dir.LookupByToken(ctx, reg.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, reg.OrganizationID, found.ID)
}

func TestRegister_NotIdempotent(t *testing.T) {
	f := setupTest(t)
	a, err := f.manager.Register(context.Background(), RegisterRequest{Name: "Acme"})
	require.NoError(t, err)
	b, err := f.manager.Register(context.Background(), RegisterRequest{Name: "Acme"})
	require.NoError(t, err)

	assert.NotEqual(t, a.OrganizationID, b.OrganizationID)
	assert.NotEqual(t, a.AuthToken, b.AuthToken)
	assert.Equal(t, 2, f.orgs.Len())
}

func TestRegister_MissingName(t *testing.T) {
	f := setupTest(t)
	for _, name := range []string{"", "   "} {
		_, err := f.manager.Register(context.Background(), RegisterRequest{Name: name})
		assert.EqualError(t, err, "Missing required field: organization_name")
	}
	assert.Equal(t, 0, f.orgs.Len())
}

func TestDelete(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	reg, err := f.manager.Register(ctx, RegisterRequest{Name: "Acme"})
	require.NoError(t, err)
	f.addUsage(t, reg.OrganizationID, 130)

	del, err := f.manager.Delete(ctx, reg.OrganizationID, reg.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, 130, del.PurgedRecords)
	assert.Equal(t, 0, f.usageCount(t, reg.OrganizationID))

	_, err = f.dir.Get(ctx, reg.OrganizationID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.dir.LookupByToken(ctx, reg.AuthToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_OtherOrganizationsToken(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	a, err := f.manager.Register(ctx, RegisterRequest{Name: "A"})
	require.NoError(t, err)
	b, err := f.manager.Register(ctx, RegisterRequest{Name: "B"})
	require.NoError(t, err)
	f.addUsage(t, a.OrganizationID, 3)
	f.addUsage(t, b.OrganizationID, 2)

	_, err = f.manager.Delete(ctx, a.OrganizationID, b.AuthToken)
	var authErr *apperr.AuthenticationError
	require.True(t, errors.As(err, &authErr))

	_, err = f.manager.Delete(ctx, a.OrganizationID, "not-a-token")
	require.True(t, errors.As(err, &authErr))

	assert.Equal(t, 3, f.usageCount(t, a.OrganizationID))
	assert.Equal(t, 2, f.usageCount(t, b.OrganizationID))
	assert.Equal(t, 2, f.orgs.Len())
}

func TestDelete_MissingFields(t *testing.T) {
	f := setupTest(t)
	_, err := f.manager.Delete(context.Background(), "", "tok")
	assert.EqualError(t, err, "Missing required field: organization_id")
	_, err = f.manager.Delete(context.Background(), "org_1", "")
	assert.EqualError(t, err, "Missing required field: auth_token")
}

func TestDelete_PurgeFailureKeepsOrganization(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	reg, err := f.manager.Register(ctx, RegisterRequest{Name: "Acme"})
	require.NoError(t, err)

	f.manager.purger = &mockPurger{PurgeFunc: func(context.Context, string) (int, error) {
		return 100, errors.New("throttled")
	}}
	_, err = f.manager.Delete(ctx, reg.OrganizationID, reg.AuthToken)
	var ierr *apperr.InternalError
	require.True(t, errors.As(err, &ierr))

	_, err = f.dir.Get(ctx, reg.OrganizationID)
	assert.NoError(t, err, "organization must survive a failed purge")
}

func TestKVDirectory_AmbiguousToken(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	for _, id := range []string{"org_a", "org_b"} {
		require.NoError(t, f.dir.Create(ctx, &Organization{ID: id, Name: id, TokenHash: HashToken("shared"), Status: StatusActive}))
	}

	_, err := f.dir.LookupByToken(ctx, "shared")
	assert.ErrorIs(t, err, ErrAmbiguousToken)

	_, err = f.manager.Delete(ctx, "org_a", "shared")
	var authErr *apperr.AuthenticationError
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, 2, f.orgs.Len())
}

func TestCachedDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	f := setupTest(t)
	cached := NewCachedDirectory(f.dir, rdb, time.Minute, zap.NewNop())

	o := &Organization{ID: "org_1", Name: "Acme", TokenHash: HashToken("tok-1"), Status: StatusActive}
	require.NoError(t, cached.Create(ctx, o))

	found, err := cached.LookupByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", found.ID)
	assert.True(t, mr.Exists("auth:"+HashToken("tok-1")))
	assert.Equal(t, time.Minute, mr.TTL("auth:"+HashToken("tok-1")))

	// served from cache while the row is gone
	require.NoError(t, f.dir.Delete(ctx, o))
	found, err = cached.LookupByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", found.ID)

	require.NoError(t, cached.Delete(ctx, o))
	assert.False(t, mr.Exists("auth:"+HashToken("tok-1")))
	_, err = cached.LookupByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedDirectory_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	f := setupTest(t)
	cached := NewCachedDirectory(f.dir, rdb, time.Minute, zap.NewNop())
	require.NoError(t, f.dir.Create(ctx, &Organization{ID: "org_1", TokenHash: HashToken("tok-1"), Status: StatusActive}))

	mr.Close()
	found, err := cached.LookupByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", found.ID)
}
