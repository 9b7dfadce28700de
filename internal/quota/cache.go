package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	usageKey     = "quota:usage:%s" // quota:usage:userID
	usageTTL     = 30 * time.Second
	redisTimeout = 500 * time.Millisecond
)

// CachedSource fronts another Source with Redis. Redis failures are logged
// and the request falls through to the wrapped source.
type CachedSource struct {
	next  Source
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedSource(next Source, rdb *redis.Client) *CachedSource {
	return &CachedSource{
		next:  next,
		redis: rdb,
		ttl:   usageTTL,
	}
}

func (c *CachedSource) GetUserQuota(ctx context.Context, userID string) (Usage, error) {
	key := fmt.Sprintf(usageKey, userID)

	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	cached, err := c.redis.Get(rctx, key).Bytes()
	cancel()

	if err == nil {
		var u Usage
		if err := json.Unmarshal(cached, &u); err == nil {
			return u, nil
		}
	} else if err != redis.Nil {
		zap.L().Warn("Quota cache unavailable, reading from database", zap.String("user_id", userID), zap.Error(err))
	}

	u, err := c.next.GetUserQuota(ctx, userID)
	if err != nil {
		return Usage{}, err
	}

	data, _ := json.Marshal(u)

	rctx, cancel = context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := c.redis.Set(rctx, key, data, c.ttl).Err(); err != nil {
		zap.L().Debug("Failed to cache quota", zap.String("user_id", userID), zap.Error(err))
	}

	return u, nil
}

// Invalidate drops the cached usage so the next check sees a fresh commit.
func (c *CachedSource) Invalidate(ctx context.Context, userID string) {
	if err := c.redis.Del(ctx, fmt.Sprintf(usageKey, userID)).Err(); err != nil {
		zap.L().Warn("Failed to invalidate quota cache", zap.String("user_id", userID), zap.Error(err))
	}
}
