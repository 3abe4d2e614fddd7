package localcache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backend over a shared redis instance, used when several
// API replicas must serve the same mirror.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an established redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Dial connects to the given redis address and verifies the connection.
func Dial(ctx context.Context, address, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return NewRedis(client), nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set implements Cache. Mirror records have no TTL: the cache is a durability
// backstop, not an eviction cache.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
