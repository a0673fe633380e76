package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.uber.org/zap"
)

// Policy decides whether an organization's request may proceed.
type Policy interface {
	Admit(ctx context.Context, organizationID string) bool
}

// AllowAll admits every request.
type AllowAll struct{}

func (AllowAll) Admit(context.Context, string) bool { return true }

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter giving
// each organization a fixed number of requests per minute.
type Limiter struct {
	store  extratelimit.Limiter
	logger *zap.Logger
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int, logger *zap.Logger) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(requestsPerMinute),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store, logger: logger}
}

func NewTestLimiter(store extratelimit.Limiter, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

func key(organizationID string) string {
	return fmt.Sprintf("ratelimit:org:%s", organizationID)
}

// Admit fails open: a limiter store error admits the request and logs a
// warning.
func (l *Limiter) Admit(ctx context.Context, organizationID string) bool {
	res, err := l.store.Allow(ctx, key(organizationID))
	if err != nil {
		l.logger.Warn("rate limiter unavailable, admitting request",
			zap.String("organization_id", organizationID),
			zap.Error(err),
		)
		return true
	}
	return res.Allowed
}
