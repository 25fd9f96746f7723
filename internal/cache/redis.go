// Package cache provides the Redis-backed implementation of types.Cache,
// used for reminder deduplication. The cache is never authoritative: an
// outage degrades to duplicate reminders, not lost state.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lifeline/internal/types"
)

// Compile-time assertion that RedisCache implements Cache.
var _ types.Cache = (*RedisCache)(nil)

// RedisCache wraps a go-redis client behind the Cache interface.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache connects to the given Redis address and verifies the
// connection with a ping.
func NewRedisCache(ctx context.Context, addr string, password types.SecretString, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password.Unmask(),
		DB:              db,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCache,
			fmt.Sprintf("redis ping failed for %s", addr), err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient wraps an existing client. Useful for tests.
func NewRedisCacheWithClient(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// SetNX stores the value only if the key is absent. Returns true when this
// caller won the set.
func (c *RedisCache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	won, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalCache, "redis SETNX failed", err)
	}
	return won, nil
}

// Del removes the key. Deleting a missing key is not an error.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "redis DEL failed", err)
	}
	return nil
}

// Get returns the value and whether the key exists. A missing key is not
// an error.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, types.NewAppError(types.ErrCodeInternalCache, "redis GET failed", err)
	}
	return val, true, nil
}
