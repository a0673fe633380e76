package seeder

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/org"
)

const (
	TestAuthToken      = "test-auth-token-12345"
	TestOrganizationID = "org_00000000-0000-0000-0000-000000000001"
)

// SeedTestOrganization creates a fixed development organization unless it
// already exists.
func SeedTestOrganization(ctx context.Context, dir org.Directory, logger *zap.Logger) error {
	if _, err := dir.Get(ctx, TestOrganizationID); err == nil {
		logger.Info("seed organization already exists, skipping", zap.String("organization_id", TestOrganizationID))
		return nil
	} else if !errors.Is(err, org.ErrNotFound) {
		return err
	}

	o := &org.Organization{
		ID:          TestOrganizationID,
		Name:        "Development",
		TokenHash:   org.HashToken(TestAuthToken),
		Status:      org.StatusActive,
		CreatedAt:   time.Now().UTC(),
		Description: "seeded for local development",
	}
	if err := dir.Create(ctx, o); err != nil {
		return err
	}

	logger.Info("seed organization created",
		zap.String("organization_id", TestOrganizationID),
		zap.String("auth_token", TestAuthToken),
	)
	return nil
}
