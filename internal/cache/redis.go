package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis as the backend
type RedisCache struct {
	client *redis.Client
	config *Config
	stats  *Stats
}

// NewRedisCache creates a new Redis-backed cache
func NewRedisCache(redisURL string, config *Config) (*RedisCache, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		config: config,
		stats:  &Stats{},
	}, nil
}

// Get retrieves a cached entry from Redis
func (rc *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	if !rc.config.Enabled {
		return nil, false
	}

	val, err := rc.client.Get(ctx, "cache:"+key).Result()
	if err == redis.Nil {
		rc.stats.Misses++
		return nil, false
	}
	if err != nil {
		// Redis error - treat as cache miss
		rc.stats.Misses++
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		// Corrupted entry - delete and treat as miss
		rc.client.Del(ctx, "cache:"+key)
		rc.stats.Misses++
		return nil, false
	}

	rc.stats.Hits++
	entry.Hits++

	// Update entry in Redis with new hit count
	if data, err := json.Marshal(entry); err == nil {
		ttl := time.Until(entry.ExpiresAt)
		if ttl > 0 {
			rc.client.Set(ctx, "cache:"+key, data, ttl)
		}
	}

	return &entry, true
}

// Set stores a value in Redis with a TTL
func (rc *RedisCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if !rc.config.Enabled {
		return nil
	}
	if ttl == 0 {
		ttl = rc.config.DefaultTTL
	}

	now := time.Now()
	entry := &Entry{
		Key:       key,
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return rc.client.Set(ctx, "cache:"+key, data, ttl).Err()
}

// Delete removes an entry from Redis
func (rc *RedisCache) Delete(ctx context.Context, key string) {
	if !rc.config.Enabled {
		return
	}
	rc.client.Del(ctx, "cache:"+key)
}

// GetStats returns cache statistics
func (rc *RedisCache) GetStats(ctx context.Context) *Stats {
	stats := *rc.stats

	count := int64(0)
	iter := rc.client.Scan(ctx, 0, "cache:*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	stats.TotalEntries = count

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return &stats
}
