package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idcard-ocr/internal/idcard"
)

const cachePrefix = "idocr:result:"

// CacheKey derives the cache key of an image under a configuration
// fingerprint.
func CacheKey(image []byte, fingerprint string) string {
	sum := sha256.Sum256(image)
	return cachePrefix + fingerprint + ":" + hex.EncodeToString(sum[:])
}

// ResultCache stores results as JSON in Redis.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache connects to redisURL.
func NewResultCache(ctx context.Context, redisURL string, ttl time.Duration) (*ResultCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &ResultCache{client: client, ttl: ttl}, nil
}

// Get returns a cached result. A miss is (nil, false, nil).
func (c *ResultCache) Get(ctx context.Context, key string) (*idcard.Result, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var res idcard.Result
	if err := json.Unmarshal(data, &res); err != nil {
		// Corrupt entries are dropped and treated as misses.
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	return &res, true, nil
}

// Set stores a result with the cache TTL.
func (c *ResultCache) Set(ctx context.Context, key string, res *idcard.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *ResultCache) Close() error {
	return c.client.Close()
}
