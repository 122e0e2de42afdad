package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed fast path for duplicate suppression. Keys are
// scoped per consumer and request id; the database-level processed-request
// markers remain the authoritative guard.
//
// Seen is a read-only check and Mark runs only after a successful apply.
// A crash between apply and offset commit therefore leaves no marker, and
// the redelivered message is reprocessed against the database guard
// instead of being skipped.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(consumer, requestID string) string {
	return fmt.Sprintf("idem:%s:%s", consumer, requestID)
}

// Seen reports whether the key has been marked. It never writes.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records a completed apply. Best effort: a lost marker only costs
// one extra round through the database guard.
func (s *Store) Mark(ctx context.Context, key string) {
	_ = s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
