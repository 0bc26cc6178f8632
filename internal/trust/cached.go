package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"anchorage/internal/anchoring/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const trustKeyPrefix = "anchorage:trust:"

// CachedOracle caches trust levels in Redis for a short TTL. Concurrent
// misses for the same identity share one upstream lookup. Redis failures
// degrade to the upstream oracle; upstream failures are never cached.
type CachedOracle struct {
	next   Oracle
	client redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// CachedOption configures a CachedOracle.
type CachedOption func(*CachedOracle)

func WithLogger(logger *slog.Logger) CachedOption {
	return func(o *CachedOracle) {
		o.logger = logger
	}
}

func NewCachedOracle(next Oracle, client redis.Cmdable, ttl time.Duration, opts ...CachedOption) *CachedOracle {
	o := &CachedOracle{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func cacheKey(entityType models.EntityType, entityID string) string {
	return trustKeyPrefix + string(entityType) + ":" + entityID
}

func (o *CachedOracle) TrustLevel(ctx context.Context, entityID string, entityType models.EntityType) (int, error) {
	key := cacheKey(entityType, entityID)

	raw, err := o.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if level, convErr := strconv.Atoi(raw); convErr == nil {
			return level, nil
		}
		o.logger.WarnContext(ctx, "discarding malformed cached trust level", "key", key)
	case !errors.Is(err, redis.Nil):
		o.logger.WarnContext(ctx, "trust cache read failed", "key", key, "error", err)
	}

	v, err, _ := o.group.Do(key, func() (any, error) {
		level, err := o.next.TrustLevel(ctx, entityID, entityType)
		if err != nil {
			return 0, err
		}
		if err := o.client.Set(ctx, key, strconv.Itoa(level), o.ttl).Err(); err != nil {
			o.logger.WarnContext(ctx, "trust cache write failed", "key", key, "error", err)
		}
		return level, nil
	})
	if err != nil {
		return 0, fmt.Errorf("trust level for %s: %w", entityID, err)
	}
	return v.(int), nil
}

// Invalidate drops the cached level so the next lookup reads upstream.
func (o *CachedOracle) Invalidate(ctx context.Context, entityID string, entityType models.EntityType) error {
	return o.client.Del(ctx, cacheKey(entityType, entityID)).Err()
}
