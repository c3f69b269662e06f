package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed snapshot store shared by every instance.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	closed atomic.Bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*redisStoreConfig)

type redisStoreConfig struct {
	prefix string
}

// WithRedisPrefix sets the key prefix.
// Default: "sessionbridge:snapshot:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.prefix = prefix
	}
}

// NewRedisStore creates a store on top of an existing client. The client is
// not closed by Close since it may be shared with the response cache.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	cfg := &redisStoreConfig{
		prefix: "sessionbridge:snapshot:",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.prefix,
	}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

// Put implements Store.
func (r *RedisStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrStoreClosed{}
	}
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(key)).Err()
	}
	return r.client.Set(ctx, r.key(key), data, ttl).Err()
}

// Take implements Store using GETDEL so two instances can never both consume
// the same entry.
func (r *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed{}
	}

	data, err := r.client.GetDel(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Close marks the store as closed.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}

// Prefix returns the key prefix.
func (r *RedisStore) Prefix() string {
	return r.prefix
}
