package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryCache implements Cache with an in-process map. It is the fallback
// when no Redis URL is configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	config  *Config
	stats   Stats
}

// NewMemoryCache creates an in-memory cache
func NewMemoryCache(config *Config) *MemoryCache {
	if config == nil {
		config = DefaultConfig()
	}
	return &MemoryCache{
		entries: make(map[string]*Entry),
		config:  config,
	}
}

// Get returns the entry for key if present and unexpired
func (mc *MemoryCache) Get(ctx context.Context, key string) (*Entry, bool) {
	if !mc.config.Enabled {
		return nil, false
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.entries[key]
	if !exists {
		mc.stats.Misses++
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(mc.entries, key)
		mc.stats.Misses++
		return nil, false
	}

	mc.stats.Hits++
	entry.Hits++
	copied := *entry
	return &copied, true
}

// Set stores value under key with the given TTL
func (mc *MemoryCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if !mc.config.Enabled {
		return nil
	}
	if ttl == 0 {
		ttl = mc.config.DefaultTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	mc.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

// Delete removes the entry for key
func (mc *MemoryCache) Delete(ctx context.Context, key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.entries, key)
}

// GetStats returns cache statistics
func (mc *MemoryCache) GetStats(ctx context.Context) *Stats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	stats := mc.stats
	stats.TotalEntries = int64(len(mc.entries))
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return &stats
}
