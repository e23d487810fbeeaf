package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"habitflow/pkg/metrics"
)

const (
	redisKeyPrefix  = "habitflow:cache"
	redisVersionKey = "habitflow:cache:version"
)

type redisEntry struct {
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisStore is the shared-deployment Store. Entries carry their own
// timestamp so TTL decisions use the injected clock, not Redis expiry;
// Redis expiry is only a floor that garbage-collects dead entries. Clear
// bumps the version key, which namespaces every entry key, so a global
// invalidation never has to enumerate keys.
//
// Redis outages fail open: reads miss, writes drop. The engine degrades to
// uncached fetches instead of erroring.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	grace  time.Duration
	clock  Clock
	logger *zap.Logger
}

func NewRedisStore(rdb *redis.Client, ttl, grace time.Duration, clock Clock, logger *zap.Logger) *RedisStore {
	if clock == nil {
		clock = SystemClock
	}
	return &RedisStore{
		rdb:    rdb,
		ttl:    ttl,
		grace:  grace,
		clock:  clock,
		logger: logger,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	e, ok := s.load(ctx, key)
	if !ok {
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if age := s.clock.Now().Sub(e.Timestamp); age > s.ttl {
		if age > s.ttl+s.grace {
			_ = s.rdb.Del(ctx, s.entryKey(ctx, key)).Err()
		}
		metrics.RecordCacheLookup("expired")
		return nil, false
	}
	metrics.RecordCacheLookup("hit")
	return e.Data, true
}

func (s *RedisStore) GetStale(ctx context.Context, key string) ([]byte, bool) {
	e, ok := s.load(ctx, key)
	if !ok {
		return nil, false
	}
	if s.clock.Now().Sub(e.Timestamp) > s.ttl+s.grace {
		_ = s.rdb.Del(ctx, s.entryKey(ctx, key)).Err()
		return nil, false
	}
	return e.Data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, data []byte) {
	e := redisEntry{Data: data, Timestamp: s.clock.Now()}
	b, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to marshal cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, s.entryKey(ctx, key), b, s.ttl+s.grace).Err(); err != nil {
		s.logger.Warn("Cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.rdb.Del(ctx, s.entryKey(ctx, key)).Err(); err != nil {
			s.logger.Warn("Cache delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *RedisStore) Clear(ctx context.Context) {
	if err := s.rdb.Incr(ctx, redisVersionKey).Err(); err != nil {
		s.logger.Warn("Cache version bump failed", zap.Error(err))
	}
}

func (s *RedisStore) Version(ctx context.Context) int64 {
	v, err := s.rdb.Get(ctx, redisVersionKey).Int64()
	if err != nil {
		return 0
	}
	return v
}

func (s *RedisStore) load(ctx context.Context, key string) (redisEntry, bool) {
	b, err := s.rdb.Get(ctx, s.entryKey(ctx, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Cache get failed", zap.String("key", key), zap.Error(err))
		}
		return redisEntry{}, false
	}

	var e redisEntry
	if err := json.Unmarshal(b, &e); err != nil {
		s.logger.Warn("Corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		_ = s.rdb.Del(ctx, s.entryKey(ctx, key)).Err()
		return redisEntry{}, false
	}
	return e, true
}

func (s *RedisStore) entryKey(ctx context.Context, key string) string {
	return fmt.Sprintf("%s:v%d:%s", redisKeyPrefix, s.Version(ctx), key)
}
