package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "phonefactor:challenge:"

// Store keeps out-of-band challenge records in Redis as JSON values under
// phonefactor:challenge:<accountID>. Expiry semantics live in the record's
// expires_at field; the Redis TTL is only a backstop against records
// housekeeping never gets to.
type Store struct {
	rdb *redis.Client

	// backstopFactor scales the challenge window into the Redis TTL.
	backstopFactor int
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, backstopFactor: 2}
}

func (s *Store) Close() error { return s.rdb.Close() }

// Ping verifies the Redis connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func key(accountID string) string {
	return keyPrefix + accountID
}

func (s *Store) backstopTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) * time.Duration(s.backstopFactor)
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}
