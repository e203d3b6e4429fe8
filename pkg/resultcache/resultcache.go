// Package resultcache implements the process-wide L1, Redis-backed L2
// result cache C10 (pkg/executor) consults before ever hitting a tenant
// warehouse. Entries are keyed by the executor's own digest (dialect,
// SQL, params, user-context digest, semantic version), so a cache hit is
// only ever served to the exact user scope and schema generation that
// produced it.
package resultcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/cache"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// redisKeyPrefix namespaces result-cache entries away from the plan
// cache's own keys in a shared Redis instance.
const redisKeyPrefix = "resultv1:"

// Cache is the result cache: an in-process sharded LRU (L1) in front of
// an optional Redis store (L2). It satisfies pkg/executor.ResultCache.
// Redis may be nil, in which case the cache is L1-only.
type Cache struct {
	l1     *cache.Sharded[models.ResultSet]
	redis  *redis.Client
	logger *zap.Logger
}

// New builds a result cache. size bounds each L1 shard; defaultTTL
// bounds every L1 entry's age. The TTL passed to Put (which the executor
// computes from pkg/config.PipelineConfig.ResultCacheTTLSeconds) applies
// only to the Redis (L2) copy.
func New(size int, defaultTTL time.Duration, redisClient *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		l1:     cache.NewSharded[models.ResultSet](size, defaultTTL),
		redis:  redisClient,
		logger: logger.Named("resultcache"),
	}
}

// Get checks L1 first, then L2 on an L1 miss, populating L1 from any L2
// hit. The returned ResultSet always has CachedResult stamped true, so
// the orchestrator's performance.result_cached reporting (spec.md §4.12)
// is correct regardless of which tier served the hit.
func (c *Cache) Get(ctx context.Context, key string) (*models.ResultSet, bool) {
	if result, ok := c.l1.Get(key); ok {
		result.CachedResult = true
		return &result, true
	}
	if c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("result cache L2 read failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}

	var result models.ResultSet
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("result cache L2 entry failed to unmarshal, treating as miss", zap.Error(err))
		return nil, false
	}
	c.l1.Put(key, result)
	result.CachedResult = true
	return &result, true
}

// Put writes through to both L1 and, if configured, L2 with the given
// TTL. An L2 write failure is logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, key string, result models.ResultSet, ttl time.Duration) {
	c.l1.Put(key, result)
	if c.redis == nil {
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("result cache entry failed to marshal for L2", zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("result cache L2 write failed", zap.Error(err))
	}
}
