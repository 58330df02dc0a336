package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Keys are namespaced so several consumers can share one cache.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// GetVerdict retrieves a cached auth verdict for a token digest.
	GetVerdict(ctx context.Context, tokenDigest string) (*TokenVerdict, error)

	// SetVerdict caches an auth verdict for a token digest.
	SetVerdict(ctx context.Context, tokenDigest string, v *TokenVerdict, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheNamespaceAuth holds auth verdicts keyed by token digest.
const CacheNamespaceAuth = "auth"

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis
}
