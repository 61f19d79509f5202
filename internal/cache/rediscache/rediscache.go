// Package rediscache is the shared-backend implementation for the model
// registry cache (spec.md §4.8) and the registry's cross-replica refresh
// lock (models.DistributedLock), grounded on the teacher's caches/redis
// package.
// Unlike the teacher's LLM-response cache, this one stores a handful of
// long-lived blobs (model cards) and short-lived locks, not per-request
// entries, so it carries neither the teacher's hit/miss statistics nor its
// pipeline/batch API.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config mirrors the single-node subset of the teacher's redis cache
// config; cluster/sentinel topologies are out of scope for a model-card
// cache this small.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Namespace    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Namespace:    "ccproxy",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// Cache is a Redis-backed models.CacheBackend, and also satisfies
// models.DistributedLock for coordinating background model-card refreshes
// when the gateway runs with more than one replica.
type Cache struct {
	client    goredis.UniversalClient
	namespace string
}

// New dials Redis and verifies the connection with a PING. Tests that
// already hold a client use NewFromClient instead.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	return NewFromClient(client, cfg.Namespace)
}

// NewFromClient wraps an already-constructed client, letting tests pass a
// miniredis-backed *redis.Client directly.
func NewFromClient(client goredis.UniversalClient, namespace string) (*Cache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	return &Cache{client: client, namespace: namespace}, nil
}

func (c *Cache) prefixKey(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Load implements models.CacheBackend. A missing key returns (nil, nil).
func (c *Cache) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("rediscache: get: %w", err)
	}
	return val, nil
}

// Save implements models.CacheBackend with no expiry — model-card blobs
// live until the next successful refresh overwrites them.
func (c *Cache) Save(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, c.prefixKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// TryLock attempts to acquire a process-wide named lock via SETNX with a
// TTL, so a crashed holder doesn't wedge the lock forever. It implements
// models.DistributedLock: when installed via Registry.SetDistributedLock,
// only the replica holding the lock runs a background model-card refresh;
// the others skip that tick.
func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefixKey("lock:"+key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("rediscache: setnx: %w", err)
	}
	return ok, nil
}

// Unlock releases a lock acquired by TryLock.
func (c *Cache) Unlock(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefixKey("lock:"+key)).Err(); err != nil {
		return fmt.Errorf("rediscache: del: %w", err)
	}
	return nil
}

// Close releases the underlying client's connections.
func (c *Cache) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
