package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
)

// Redis is a Cache implementation backed by a shared Redis instance, for
// deployments where several relay processes serve the same principals.
// Values are JSON-encoded. Redis expires entries server-side, so Close
// only drops the client reference; the client is owned by the caller.
type Redis[V any] struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
	stats  *Statistics
	prefix string
}

// NewRedis creates a Redis-backed cache on an existing client.
func NewRedis[V any](ctx context.Context, client *redis.Client, prefix string, ttl time.Duration) (*Redis[V], error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewRedis", "nil redis client")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Redis[V]{
		client: client,
		ttl:    ttl,
		ctx:    ctx,
		stats:  NewStatistics(),
		prefix: prefix,
	}, nil
}

func (c *Redis[V]) key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get retrieves a value by key. Any Redis error reads as a miss: the
// cache is best-effort and absence never changes correctness.
func (c *Redis[V]) Get(key string) (V, bool) {
	var zero V

	data, err := c.client.Get(c.ctx, c.key(key)).Bytes()
	if err != nil {
		c.stats.Miss()
		return zero, false
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		c.stats.Miss()
		return zero, false
	}

	c.stats.Hit()
	return value, true
}

// Set stores a value with the configured TTL.
func (c *Redis[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, errors.WrapInvalid(err, "cache", "Set", "encode value")
	}

	created, err := c.client.Exists(c.ctx, c.key(key)).Result()
	if err != nil {
		created = 0
	}

	if err := c.client.Set(c.ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return false, errors.WrapTransient(err, "cache", "Set", "redis set")
	}

	c.stats.Set()
	return created == 0, nil
}

// Delete removes an entry by key.
func (c *Redis[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	n, err := c.client.Del(c.ctx, c.key(key)).Result()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return false, errors.WrapTransient(err, "cache", "Delete", "redis del")
	}

	if n > 0 {
		c.stats.Delete()
	}
	return n > 0, nil
}

// Size returns the number of keys under this cache's prefix.
// Approximate and O(keys); intended for diagnostics only.
func (c *Redis[V]) Size() int {
	keys, err := c.client.Keys(c.ctx, c.key("*")).Result()
	if err != nil {
		return 0
	}
	return len(keys)
}

// Stats returns cache statistics.
func (c *Redis[V]) Stats() *Statistics {
	return c.stats
}

// Close drops the client reference. The client is owned by the caller.
func (c *Redis[V]) Close() error {
	return nil
}
