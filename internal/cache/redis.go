package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, errNamespaceRequired
	}

	fullKey := c.makeKey(namespace, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return errNamespaceRequired
	}

	fullKey := c.makeKey(namespace, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, namespace string, key string) error {
	if namespace == "" {
		return errNamespaceRequired
	}

	fullKey := c.makeKey(namespace, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetVerdict retrieves a cached auth verdict.
func (c *RedisCache) GetVerdict(ctx context.Context, tokenDigest string) (*domain.TokenVerdict, error) {
	return getVerdict(ctx, c, tokenDigest)
}

// SetVerdict caches an auth verdict.
func (c *RedisCache) SetVerdict(ctx context.Context, tokenDigest string, v *domain.TokenVerdict, ttl time.Duration) error {
	return setVerdict(ctx, c, tokenDigest, v, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(namespace, key string) string {
	return "kestrel:" + namespace + ":" + key
}
