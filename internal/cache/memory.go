// Package cache stores model outputs so re-running a folder does not call
// the model server again for images it has already seen.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Store is a byte cache keyed by BuildKey signatures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type entry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// MemoryCache is a process-local Store with TTL expiry. When full it evicts
// the oldest entry.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryCache(config Config) *MemoryCache {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	return &MemoryCache{
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Set may have refreshed the key since the read lock was dropped.
		if current, ok := c.entries[key]; ok && c.now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	now := c.now()
	e := entry{
		value:     append([]byte(nil), value...),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, e := range c.entries {
		if !found || e.createdAt.Before(oldest) {
			oldestKey, oldest, found = key, e.createdAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// BuildKey hashes the trimmed parts into a fixed-length signature.
func BuildKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "||")))
	return hex.EncodeToString(sum[:])
}
