package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisScanCount bounds how many keys each SCAN iteration asks for.
const redisScanCount = 100

// Redis stages batch snapshots in a Redis instance, so staged events can
// outlive not just the process but the host. Any Cmdable works, including
// cluster clients.
type Redis struct {
	client redis.Cmdable
}

// NewRedis wraps an existing Redis client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Keys returns all keys beginning with prefix using cursor-based SCAN.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := r.client.Scan(ctx, cursor, prefix+"*", redisScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Get returns the value for key, or (nil, nil) if absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, nil
}

// Set writes the value for key with no expiry: staged batches must survive
// until delivery removes them.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}
