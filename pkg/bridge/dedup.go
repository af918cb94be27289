package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinyland-inc/picobridge/pkg/expiry"
)

// DedupStore tracks inbound message keys within a TTL window.
type DedupStore interface {
	// SeenOrAdd atomically checks membership and inserts if absent,
	// returning true iff the key was already present.
	SeenOrAdd(ctx context.Context, key string) (bool, error)
}

// MemoryDedupStore is a TTL-bounded in-process dedup backend.
type MemoryDedupStore struct {
	keys *expiry.Map[struct{}]
}

// NewMemoryDedupStore creates an in-memory dedup store with the given TTL.
func NewMemoryDedupStore(ttl time.Duration) *MemoryDedupStore {
	return &MemoryDedupStore{keys: expiry.NewMap[struct{}](ttl, 0)}
}

func (s *MemoryDedupStore) SeenOrAdd(_ context.Context, key string) (bool, error) {
	return s.keys.Add(key, struct{}{}), nil
}

// RedisDedupStore delegates to Redis SET NX EX, which is atomic across
// processes.
type RedisDedupStore struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

// NewRedisDedupStore creates a dedup store on an existing Redis client.
func NewRedisDedupStore(client *redis.Client, ttl time.Duration, namespace string) *RedisDedupStore {
	if namespace == "" {
		namespace = "bridge:dedup"
	}
	return &RedisDedupStore{client: client, ttl: ttl, namespace: namespace}
}

func (s *RedisDedupStore) SeenOrAdd(ctx context.Context, key string) (bool, error) {
	created, err := s.client.SetNX(ctx, fmt.Sprintf("%s:%s", s.namespace, key), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup set: %w", err)
	}
	return !created, nil
}

// CompositeDedupStore fans out to an ordered list of backends. Every backend
// is written on every call, even after one has already reported the key as
// seen; this keeps backends converged when one is added later. The key is
// considered seen when any backend reports a prior sighting.
type CompositeDedupStore struct {
	stores []DedupStore
}

// NewCompositeDedupStore combines dedup backends.
func NewCompositeDedupStore(stores ...DedupStore) *CompositeDedupStore {
	return &CompositeDedupStore{stores: stores}
}

func (s *CompositeDedupStore) SeenOrAdd(ctx context.Context, key string) (bool, error) {
	seen := false
	var firstErr error
	for _, store := range s.stores {
		storeSeen, err := store.SeenOrAdd(ctx, key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		seen = seen || storeSeen
	}
	return seen, firstErr
}
