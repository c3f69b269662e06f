package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis.
const DefaultRedisPrefix = "sessionbridge:cache:"

// Redis is a cache shared by every instance.
type Redis struct {
	client redis.Cmdable
	prefix string
	closed atomic.Bool
}

// NewRedis creates a cache on an existing client. An empty prefix selects
// DefaultRedisPrefix. Close does not close the client.
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.closed.Load() {
		return nil, false, ErrClosed
	}
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Close implements Cache.
func (r *Redis) Close() error {
	r.closed.Store(true)
	return nil
}
