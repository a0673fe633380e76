package org

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedDirectory keeps token lookups in Redis for ttl. Cache failures fall
// through to the underlying directory.
type CachedDirectory struct {
	Directory
	cache  redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedDirectory(next Directory, cache redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedDirectory {
	return &CachedDirectory{Directory: next, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(tokenHash string) string {
	return fmt.Sprintf("auth:%s", tokenHash)
}

func (d *CachedDirectory) LookupByToken(ctx context.Context, token string) (*Organization, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	key := cacheKey(HashToken(token))

	var o Organization
	err := d.cache.Get(ctx, key).Scan(&o)
	if err == nil {
		return &o, nil
	} else if !errors.Is(err, redis.Nil) {
		d.logger.Warn("auth cache read failed", zap.Error(err))
	}

	found, err := d.Directory.LookupByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := d.cache.Set(ctx, key, found, d.ttl).Err(); err != nil {
		d.logger.Warn("auth cache write failed", zap.Error(err))
	}
	return found, nil
}

// Delete removes o and evicts its token so it stops resolving immediately.
func (d *CachedDirectory) Delete(ctx context.Context, o *Organization) error {
	if err := d.Directory.Delete(ctx, o); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, cacheKey(o.TokenHash)).Err(); err != nil {
		d.logger.Warn("auth cache eviction failed",
			zap.String("organization_id", o.ID),
			zap.Error(err),
		)
	}
	return nil
}
