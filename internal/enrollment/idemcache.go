package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"drip/internal/constants"
)

// IdempotencyCache maps client-supplied idempotency keys to enrollment IDs
// for a bounded window, so a retried create returns the original enrollment
// instead of hitting the natural-key conflict path.
type IdempotencyCache interface {
	Lookup(ctx context.Context, accountID, key string) (string, bool, error)
	Store(ctx context.Context, accountID, key, enrollmentID string) error
}

type RedisIdempotencyCache struct {
	client *redis.Client
}

func NewIdempotencyCache(client *redis.Client) IdempotencyCache {
	return &RedisIdempotencyCache{client: client}
}

func (c *RedisIdempotencyCache) Lookup(ctx context.Context, accountID, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(accountID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return val, true, nil
}

func (c *RedisIdempotencyCache) Store(ctx context.Context, accountID, key, enrollmentID string) error {
	err := c.client.Set(ctx, cacheKey(accountID, key), enrollmentID, constants.EnrollmentIdemKeyTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

func cacheKey(accountID, key string) string {
	return constants.CacheKeyPrefixEnrollmentIdem + accountID + ":" + key
}
