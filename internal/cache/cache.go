package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
)

// New creates a new cache based on configuration.
// "memory" returns an LRU cache.
// "redis" with two-phase returns TwoPhaseCache wrapping LRU + Redis.
// "redis" without two-phase returns a Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis shared by every replica
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

var _ domain.Cache = (*TwoPhaseCache)(nil)

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, namespace, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	// L1 never outlives L2
	l1TTL := min(c.l1TTL, ttl)
	if err := c.local.Set(ctx, namespace, key, value, l1TTL); err != nil {
		return err
	}

	return c.remote.Set(ctx, namespace, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, namespace string, key string) error {
	if err := c.local.Delete(ctx, namespace, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, namespace, key)
}

// GetVerdict retrieves a cached auth verdict.
func (c *TwoPhaseCache) GetVerdict(ctx context.Context, tokenDigest string) (*domain.TokenVerdict, error) {
	return getVerdict(ctx, c, tokenDigest)
}

// SetVerdict caches an auth verdict in both L1 and L2.
func (c *TwoPhaseCache) SetVerdict(ctx context.Context, tokenDigest string, v *domain.TokenVerdict, ttl time.Duration) error {
	return setVerdict(ctx, c, tokenDigest, v, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}

type byteStore interface {
	Get(ctx context.Context, namespace string, key string) ([]byte, error)
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error
}

func verdictKey(tokenDigest string) string {
	return "verdict:" + tokenDigest
}

func getVerdict(ctx context.Context, s byteStore, tokenDigest string) (*domain.TokenVerdict, error) {
	data, err := s.Get(ctx, domain.CacheNamespaceAuth, verdictKey(tokenDigest))
	if err != nil || data == nil {
		return nil, err
	}

	var v domain.TokenVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func setVerdict(ctx context.Context, s byteStore, tokenDigest string, v *domain.TokenVerdict, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, domain.CacheNamespaceAuth, verdictKey(tokenDigest), data, ttl)
}
