package billing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
)

// CostQuery carries the raw query parameters of a cost lookup.
type CostQuery struct {
	OrganizationID string
	UserID         string
	StartDate      string
	EndDate        string
}

// UserCostSummary is one user's spend within an organization.
type UserCostSummary struct {
	OrganizationID string
	UserID         string
	Start          time.Time
	End            time.Time
	TotalCost      decimal.Decimal
	UsageCount     int
	TimePeriodDays int
}

type UserCost struct {
	UserID     string
	TotalCost  decimal.Decimal
	UsageCount int
}

// OrganizationCostSummary is an organization's spend broken down by user.
type OrganizationCostSummary struct {
	OrganizationID string
	Start          time.Time
	End            time.Time
	TotalCost      decimal.Decimal
	TotalUsers     int
	UsageCount     int
	TimePeriodDays int
	// UserCosts is ordered by cost, highest first; equal costs keep the
	// order users first appeared in.
	UserCosts []UserCost
}

// Aggregator answers cost queries for authorized callers.
type Aggregator struct {
	store  Store
	authz  Authorizer
	logger *zap.Logger
	tracer trace.Tracer
}

func NewAggregator(store Store, authz Authorizer, logger *zap.Logger, tracer trace.Tracer) *Aggregator {
	return &Aggregator{store: store, authz: authz, logger: logger, tracer: tracer}
}

func requireParams(q CostQuery, names ...string) error {
	values := map[string]string{
		"organization_id": q.OrganizationID,
		"user_id":         q.UserID,
		"start_date":      q.StartDate,
		"end_date":        q.EndDate,
	}
	for _, name := range names {
		if values[name] == "" {
			return apperr.MissingParam(name)
		}
	}
	return nil
}

// UserCosts sums one user's usage within an organization over the window.
func (a *Aggregator) UserCosts(ctx context.Context, credential string, q CostQuery) (*UserCostSummary, error) {
	ctx, span := a.tracer.Start(ctx, "billing.user_costs")
	defer span.End()

	if err := requireParams(q, "user_id", "organization_id", "start_date", "end_date"); err != nil {
		return nil, err
	}
	window, err := ParseRange(q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("organization_id", q.OrganizationID))

	if !a.authz.Authorize(ctx, credential, q.OrganizationID) {
		return nil, apperr.ErrUnauthorized
	}

	records, err := a.store.QueryUser(ctx, q.OrganizationID, q.UserID, window.Start, window.End)
	if err != nil {
		a.logger.Error("failed to query user usage",
			zap.String("organization_id", q.OrganizationID),
			zap.Error(err),
		)
		return nil, apperr.Internal("query user usage", err)
	}

	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.TotalCost)
	}
	return &UserCostSummary{
		OrganizationID: q.OrganizationID,
		UserID:         q.UserID,
		Start:          window.Start,
		End:            window.End,
		TotalCost:      total,
		UsageCount:     len(records),
		TimePeriodDays: window.Days,
	}, nil
}

// OrganizationCosts breaks an organization's usage down by user.
func (a *Aggregator) OrganizationCosts(ctx context.Context, credential string, q CostQuery) (*OrganizationCostSummary, error) {
	ctx, span := a.tracer.Start(ctx, "billing.organization_costs")
	defer span.End()

	if err := requireParams(q, "organization_id", "start_date", "end_date"); err != nil {
		return nil, err
	}
	window, err := ParseRange(q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("organization_id", q.OrganizationID))

	if !a.authz.Authorize(ctx, credential, q.OrganizationID) {
		return nil, apperr.ErrUnauthorized
	}

	records, err := a.store.QueryOrganization(ctx, q.OrganizationID, window.Start, window.End)
	if err != nil {
		a.logger.Error("failed to query organization usage",
			zap.String("organization_id", q.OrganizationID),
			zap.Error(err),
		)
		return nil, apperr.Internal("query organization usage", err)
	}

	summary := &OrganizationCostSummary{
		OrganizationID: q.OrganizationID,
		Start:          window.Start,
		End:            window.End,
		TotalCost:      decimal.Zero,
		UsageCount:     len(records),
		TimePeriodDays: window.Days,
	}
	byUser := make(map[string]int)
	for _, rec := range records {
		i, ok := byUser[rec.UserID]
		if !ok {
			i = len(summary.UserCosts)
			byUser[rec.UserID] = i
			summary.UserCosts = append(summary.UserCosts, UserCost{UserID: rec.UserID, TotalCost: decimal.Zero})
		}
		summary.UserCosts[i].TotalCost = summary.UserCosts[i].TotalCost.Add(rec.TotalCost)
		summary.UserCosts[i].UsageCount++
		summary.TotalCost = summary.TotalCost.Add(rec.TotalCost)
	}
	sort.SliceStable(summary.UserCosts, func(i, j int) bool {
		return summary.UserCosts[i].TotalCost.GreaterThan(summary.UserCosts[j].TotalCost)
	})
	summary.TotalUsers = len(summary.UserCosts)
	return summary, nil
}
