package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is a cached value with its bookkeeping
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Hits      int64           `json:"hits"`
}

// Config controls cache behavior
type Config struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// DefaultConfig returns a cache enabled with a 30 second TTL, matching the
// dashboard's metric refresh cadence.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		DefaultTTL: 30 * time.Second,
	}
}

// Stats tracks cache effectiveness
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	TotalEntries int64   `json:"total_entries"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache is the read-through cache in front of the clarity metrics source
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	GetStats(ctx context.Context) *Stats
}
