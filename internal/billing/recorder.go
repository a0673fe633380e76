package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/apperr"
	"github.com/vnmchuo/usage-tracker/internal/metrics"
	"github.com/vnmchuo/usage-tracker/internal/pricing"
	"github.com/vnmchuo/usage-tracker/pkg/ratelimit"
)

// Authorizer reports whether credential may act for organizationID.
type Authorizer interface {
	Authorize(ctx context.Context, credential, organizationID string) bool
}

// Recorder turns validated usage events into stored, priced records.
type Recorder struct {
	store   Store
	pricing *pricing.Table
	authz   Authorizer
	policy  ratelimit.Policy
	logger  *zap.Logger
	tracer  trace.Tracer

	now func() time.Time
}

func NewRecorder(store Store, table *pricing.Table, authz Authorizer, policy ratelimit.Policy, logger *zap.Logger, tracer trace.Tracer) *Recorder {
	if policy == nil {
		policy = ratelimit.AllowAll{}
	}
	return &Recorder{
		store:   store,
		pricing: table,
		authz:   authz,
		policy:  policy,
		logger:  logger,
		tracer:  tracer,
		now:     time.Now,
	}
}

// Record validates ev, checks that credential may write for its
// organization, prices it and stores exactly one record. Nothing is written
// unless every check passes.
func (r *Recorder) Record(ctx context.Context, credential string, ev *UsageEvent) (*UsageRecord, error) {
	ctx, span := r.tracer.Start(ctx, "billing.record")
	defer span.End()

	// Step 1: validate
	if err := ev.Validate(); err != nil {
		metrics.UsageRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	ts := r.now().UTC()
	if ev.Timestamp != "" {
		t, _, err := ParseTimestamp(ev.Timestamp)
		if err != nil {
			metrics.UsageRejectedTotal.WithLabelValues("validation").Inc()
			return nil, apperr.Invalid("timestamp", "Invalid timestamp format. Please use ISO format (YYYY-MM-DDTHH:MM:SS)")
		}
		ts = t
	}
	span.SetAttributes(
		attribute.String("organization_id", ev.OrganizationID),
		attribute.String("model", ev.ModelName),
	)

	// Step 2: authorize
	if !r.authz.Authorize(ctx, credential, ev.OrganizationID) {
		metrics.UsageRejectedTotal.WithLabelValues("unauthorized").Inc()
		return nil, apperr.ErrUnauthorized
	}

	// Step 3: admission
	if !r.policy.Admit(ctx, ev.OrganizationID) {
		metrics.UsageRejectedTotal.WithLabelValues("rate_limited").Inc()
		return nil, apperr.ErrRateLimited
	}

	// Step 4: price
	cost, err := r.pricing.ComputeCost(ev.ModelName, pricing.Tokens{
		Input:       *ev.InputTokens,
		Output:      *ev.OutputTokens,
		CachedInput: ev.CachedInputTokens,
		Reasoning:   ev.ReasoningTokens,
	})
	if err != nil {
		metrics.UsageRejectedTotal.WithLabelValues("unsupported_model").Inc()
		return nil, err
	}

	// Step 5: store
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal("generate record id", err)
	}
	rec := &UsageRecord{
		OrganizationID:    ev.OrganizationID,
		RecordID:          id.String(),
		UserID:            ev.UserID,
		Timestamp:         ts,
		ModelName:         ev.ModelName,
		InputTokens:       *ev.InputTokens,
		OutputTokens:      *ev.OutputTokens,
		CachedInputTokens: ev.CachedInputTokens,
		ReasoningTokens:   ev.ReasoningTokens,
		TotalCost:         cost,
		Metadata:          ev.Metadata,
	}
	if err := r.store.Put(ctx, rec); err != nil {
		r.logger.Error("failed to store usage record",
			zap.String("organization_id", rec.OrganizationID),
			zap.String("record_id", rec.RecordID),
			zap.Error(err),
		)
		span.RecordError(err)
		return nil, apperr.Internal("store usage record", err)
	}

	metrics.RecordUsage(rec.ModelName, cost.InexactFloat64())
	r.logger.Debug("usage recorded",
		zap.String("organization_id", rec.OrganizationID),
		zap.String("user_id", rec.UserID),
		zap.String("record_id", rec.RecordID),
		zap.Stringer("total_cost", cost),
	)
	return rec, nil
}
