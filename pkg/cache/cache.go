// Package cache keeps recent check results in redis so repeated checks of
// the same target skip scraping.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"igmutual/pkg/config"
	"igmutual/pkg/models"
)

// Entry is a cached check outcome
type Entry struct {
	SourceCheckID string            `json:"source_check_id"`
	Counts        models.Counts     `json:"counts"`
	NonMutual     []models.Identity `json:"non_mutual"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// ResultCache looks up and stores results by platform and target.
// Get returns nil, nil on a miss.
type ResultCache interface {
	Get(ctx context.Context, platform, target string) (*Entry, error)
	Put(ctx context.Context, platform, target string, entry *Entry) error
}

// RedisCache is a ResultCache on redis
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ ResultCache = (*RedisCache)(nil)

type RedisOption func(*RedisCache)

func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets how long entries live; it should match the freshness window
func WithTTL(d time.Duration) RedisOption {
	return func(c *RedisCache) { c.ttl = d }
}

// WithClock sets the clock entry ages are measured against
func WithClock(now func() time.Time) RedisOption {
	return func(c *RedisCache) { c.now = now }
}

// NewRedisCache wraps an existing client
func NewRedisCache(rdb *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		rdb:    rdb,
		prefix: "igmutual",
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect creates a client from cfg and pings it
func Connect(ctx context.Context, cfg config.CacheConfig, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	opts := []RedisOption{WithTTL(ttl)}
	if cfg.KeyPrefix != "" {
		opts = append(opts, WithPrefix(cfg.KeyPrefix))
	}
	return NewRedisCache(rdb, opts...), nil
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisCache) key(platform, target string) string {
	return fmt.Sprintf("%s:result:%s:%s", c.prefix, platform, strings.ToLower(target))
}

func (c *RedisCache) Get(ctx context.Context, platform, target string) (*Entry, error) {
	data, err := c.rdb.Get(ctx, c.key(platform, target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &entry, nil
}

// Put stores entry for what remains of the TTL after its CompletedAt. An
// entry already older than the TTL is not stored.
func (c *RedisCache) Put(ctx context.Context, platform, target string, entry *Entry) error {
	ttl := c.ttl
	if !entry.CompletedAt.IsZero() {
		ttl -= c.now().Sub(entry.CompletedAt)
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(platform, target), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Nop never hits
type Nop struct{}

func (Nop) Get(context.Context, string, string) (*Entry, error) { return nil, nil }
func (Nop) Put(context.Context, string, string, *Entry) error   { return nil }
