package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "articles:seen:"

// Config configures the Redis connection backing the seen-URL cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache is a Redis-backed guard against re-ingesting recently seen
// source URLs. It is advisory only: the article table's unique
// constraint stays the correctness backstop.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// MarkSeen records the URL and reports whether it was already present.
// SET NX makes the check-and-mark atomic across workers.
func (c *Cache) MarkSeen(ctx context.Context, sourceURL string) (bool, error) {
	created, err := c.client.SetNX(ctx, key(sourceURL), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return !created, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func key(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return keyPrefix + hex.EncodeToString(sum[:])
}
