package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedGuard is a Redis-backed at-most-once lock for completion requests,
// used when several engine instances watch the same goals. A nil guard is
// valid and always grants.
type SharedGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSharedGuard(rdb *redis.Client, ttl time.Duration) *SharedGuard {
	return &SharedGuard{rdb: rdb, ttl: ttl}
}

// Acquire returns true if this instance is the first to attempt completion
// for the goal within the TTL. When Redis is unavailable it grants anyway:
// a duplicate completion request is harmless server-side (completedAt is
// monotonic there too), a missed one is not.
func (g *SharedGuard) Acquire(ctx context.Context, goalID string) bool {
	if g == nil {
		return true
	}

	key := fmt.Sprintf("completion:inflight:%s", goalID)
	ok, err := g.rdb.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release frees the lock so a later recomputation may retry after a failed
// completion call.
func (g *SharedGuard) Release(ctx context.Context, goalID string) {
	if g == nil {
		return
	}
	key := fmt.Sprintf("completion:inflight:%s", goalID)
	_ = g.rdb.Del(ctx, key).Err()
}
