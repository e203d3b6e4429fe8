// Package plancache implements the process-wide L1, Redis-backed L2 plan
// cache C5 (pkg/intent) consults before ever calling the LLM: a
// deterministic cache key built from the connection, normalized question
// text, user scope, and semantic context version maps straight to a
// previously resolved models.QueryPlan.
package plancache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/cache"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// redisKeyPrefix namespaces plan-cache entries in a shared Redis
// instance away from the result cache's own keys.
const redisKeyPrefix = "planv1:"

// Cache is the plan cache: an in-process sharded LRU (L1) in front of an
// optional Redis store (L2) shared across process instances. It
// satisfies pkg/intent.PlanCache. Redis may be nil, in which case the
// cache is L1-only.
type Cache struct {
	l1     *cache.Sharded[models.QueryPlan]
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a plan cache. size bounds each L1 shard; ttl bounds both L1
// entry age and, when redisClient is non-nil, the Redis key's own
// expiry.
func New(size int, ttl time.Duration, redisClient *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		l1:     cache.NewSharded[models.QueryPlan](size, ttl),
		redis:  redisClient,
		ttl:    ttl,
		logger: logger.Named("plancache"),
	}
}

// Get checks L1 first, then L2 on an L1 miss, populating L1 from any L2
// hit so the next lookup on this process avoids the Redis round trip.
func (c *Cache) Get(ctx context.Context, key string) (*models.QueryPlan, bool) {
	if plan, ok := c.l1.Get(key); ok {
		return &plan, true
	}
	if c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("plan cache L2 read failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}

	var plan models.QueryPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		c.logger.Warn("plan cache L2 entry failed to unmarshal, treating as miss", zap.Error(err))
		return nil, false
	}
	c.l1.Put(key, plan)
	return &plan, true
}

// Put writes through to both L1 and, if configured, L2. An L2 write
// failure is logged and otherwise ignored — the cache is a performance
// optimization, never a correctness dependency.
func (c *Cache) Put(ctx context.Context, key string, plan models.QueryPlan) {
	c.l1.Put(key, plan)
	if c.redis == nil {
		return
	}

	raw, err := json.Marshal(plan)
	if err != nil {
		c.logger.Warn("plan cache entry failed to marshal for L2", zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("plan cache L2 write failed", zap.Error(err))
	}
}
