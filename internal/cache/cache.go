package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"habitflow/pkg/metrics"
)

// Clock abstracts time so tests can control TTL expiry deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var SystemClock Clock = systemClock{}

// Store is a short-TTL cache for serialized goal data. A Get past the TTL
// is a miss; entries linger for a grace window beyond the TTL so GetStale
// can serve a display-only fallback when the backend is down. GetStale
// results must never feed completion decisions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	GetStale(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
	Delete(ctx context.Context, keys ...string)
	// Clear drops every entry and bumps the version counter. Consumers
	// using the version as a re-fetch trigger must treat any change as
	// "data may be stale, refetch".
	Clear(ctx context.Context)
	Version(ctx context.Context) int64
}

type entry struct {
	data      []byte
	timestamp time.Time
}

// MemoryStore is the default in-process Store, bounded by an LRU so a long
// session cannot grow the cache without limit.
type MemoryStore struct {
	entries *lru.Cache[string, entry]
	ttl     time.Duration
	grace   time.Duration
	clock   Clock
	version atomic.Int64
}

const DefaultMaxEntries = 512

func NewMemoryStore(ttl, grace time.Duration, maxEntries int, clock Clock) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = SystemClock
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		panic(err)
	}
	return &MemoryStore{
		entries: entries,
		ttl:     ttl,
		grace:   grace,
		clock:   clock,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool) {
	e, ok := s.entries.Get(key)
	if !ok {
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if age := s.clock.Now().Sub(e.timestamp); age > s.ttl {
		if age > s.ttl+s.grace {
			s.entries.Remove(key)
		}
		metrics.RecordCacheLookup("expired")
		return nil, false
	}
	metrics.RecordCacheLookup("hit")
	return e.data, true
}

func (s *MemoryStore) GetStale(ctx context.Context, key string) ([]byte, bool) {
	e, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if s.clock.Now().Sub(e.timestamp) > s.ttl+s.grace {
		s.entries.Remove(key)
		return nil, false
	}
	return e.data, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, data []byte) {
	s.entries.Add(key, entry{data: data, timestamp: s.clock.Now()})
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) {
	for _, key := range keys {
		s.entries.Remove(key)
	}
}

func (s *MemoryStore) Clear(ctx context.Context) {
	s.entries.Purge()
	s.version.Add(1)
}

func (s *MemoryStore) Version(ctx context.Context) int64 {
	return s.version.Load()
}
