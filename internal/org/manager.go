package org

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
	"github.com/vnmchuo/usage-tracker/internal/metrics"
)

// UsagePurger removes every usage record of an organization and reports
// how many were deleted.
type UsagePurger interface {
	PurgeOrganization(ctx context.Context, organizationID string) (int, error)
}

type RegisterRequest struct {
	Name         string `json:"organization_name"`
	ContactEmail string `json:"contact_email,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Registration is returned once; AuthToken is not stored in plaintext.
type Registration struct {
	OrganizationID string
	Name           string
	AuthToken      string
}

type Deletion struct {
	OrganizationID string
	PurgedRecords  int
}

// Manager registers and deletes organizations.
type Manager struct {
	dir    Directory
	purger UsagePurger
	logger *zap.Logger
	tracer trace.Tracer

	now func() time.Time
}

func NewManager(dir Directory, purger UsagePurger, logger *zap.Logger, tracer trace.Tracer) *Manager {
	return &Manager{
		dir:    dir,
		purger: purger,
		logger: logger,
		tracer: tracer,
		now:    time.Now,
	}
}

// Register provisions a new organization. Repeated calls with the same name
// create distinct organizations.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	ctx, span := m.tracer.Start(ctx, "org.register")
	defer span.End()

	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Missing("organization_name")
	}

	token := uuid.New().String()
	o := &Organization{
		ID:           "org_" + uuid.New().String(),
		Name:         req.Name,
		TokenHash:    HashToken(token),
		Status:       StatusActive,
		CreatedAt:    m.now().UTC(),
		ContactEmail: req.ContactEmail,
		Description:  req.Description,
	}
	span.SetAttributes(attribute.String("organization_id", o.ID))

	if err := m.dir.Create(ctx, o); err != nil {
		m.logger.Error("failed to register organization", zap.Error(err))
		return nil, apperr.Internal("register organization", err)
	}

	metrics.OrganizationsRegisteredTotal.Inc()
	m.logger.Info("organization registered",
		zap.String("organization_id", o.ID),
		zap.String("organization_name", o.Name),
	)
	return &Registration{OrganizationID: o.ID, Name: o.Name, AuthToken: token}, nil
}

// Delete removes an organization and all of its usage records. authToken
// must belong to organizationID. Records are purged first; if that fails the
// organization is kept so the call can be retried.
func (m *Manager) Delete(ctx context.Context, organizationID, authToken string) (*Deletion, error) {
	ctx, span := m.tracer.Start(ctx, "org.delete")
	defer span.End()

	if organizationID == "" {
		return nil, apperr.Missing("organization_id")
	}
	if authToken == "" {
		return nil, apperr.Missing("auth_token")
	}
	span.SetAttributes(attribute.String("organization_id", organizationID))

	o, err := m.dir.LookupByToken(ctx, authToken)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, m.denied(organizationID, "invalid auth token")
	case errors.Is(err, ErrAmbiguousToken):
		return nil, m.denied(organizationID, "auth token matches several organizations")
	case err != nil:
		m.logger.Error("failed to look up auth token", zap.String("organization_id", organizationID), zap.Error(err))
		return nil, apperr.Internal("look up auth token", err)
	}
	if o.ID != organizationID {
		return nil, m.denied(organizationID, "auth token does not match organization")
	}

	purged, err := m.purger.PurgeOrganization(ctx, organizationID)
	if purged > 0 {
		metrics.PurgedRecordsTotal.Add(float64(purged))
	}
	if err != nil {
		m.logger.Error("failed to delete usage data",
			zap.String("organization_id", organizationID),
			zap.Int("purged", purged),
			zap.Error(err),
		)
		return nil, apperr.Internal("delete usage data", err)
	}

	if err := m.dir.Delete(ctx, o); err != nil {
		m.logger.Error("failed to delete organization", zap.String("organization_id", organizationID), zap.Error(err))
		return nil, apperr.Internal("delete organization", err)
	}

	metrics.OrganizationsDeletedTotal.Inc()
	m.logger.Info("organization deleted",
		zap.String("organization_id", organizationID),
		zap.Int("purged_records", purged),
	)
	return &Deletion{OrganizationID: organizationID, PurgedRecords: purged}, nil
}

func (m *Manager) denied(organizationID, reason string) error {
	m.logger.Warn("organization deletion denied",
		zap.String("organization_id", organizationID),
		zap.String("reason", reason),
	)
	return &apperr.AuthenticationError{Reason: reason}
}
