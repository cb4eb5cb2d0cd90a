package context

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	noetlredis "github.com/noetl/noetl/common/redis"
	"github.com/noetl/noetl/internal/value"
)

// RedisCache caches built context maps keyed by (execution_id,
// max_event_id), the scoping spec.md §4.C/§5 names explicitly. Grounded on
// common/redis.Client.
type RedisCache struct {
	client *noetlredis.Client
	ttl    time.Duration
}

func NewRedisCache(client *noetlredis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(executionID string, maxEventID int64) string {
	return fmt.Sprintf("noetl:ctxcache:%s:%d", executionID, maxEventID)
}

func (c *RedisCache) Get(ctx context.Context, executionID string, maxEventID int64) (value.Value, bool) {
	raw, err := c.client.Get(ctx, cacheKey(executionID, maxEventID))
	if err != nil {
		return value.Null(), false
	}
	var native interface{}
	if err := json.Unmarshal([]byte(raw), &native); err != nil {
		return value.Null(), false
	}
	return value.FromNative(native), true
}

func (c *RedisCache) Set(ctx context.Context, executionID string, maxEventID int64, ctxValue value.Value) {
	raw, err := json.Marshal(ctxValue.Native())
	if err != nil {
		return
	}
	_ = c.client.SetWithExpiry(ctx, cacheKey(executionID, maxEventID), string(raw), c.ttl)
}

// Invalidate drops the cached context for an execution's current event
// frontier, used on terminal events per spec.md §5 "explicit invalidation
// on execution terminal events". Since keys are fingerprinted by
// max_event_id, a terminal event naturally produces a new key; Invalidate
// additionally clears the previous-generation key so it can't be served
// stale if a caller holds an older max_event_id snapshot.
func (c *RedisCache) Invalidate(ctx context.Context, executionID string, maxEventID int64) {
	_ = c.client.GetUnderlying().Del(ctx, cacheKey(executionID, maxEventID)).Err()
}
