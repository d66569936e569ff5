package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/beaver-social/cache/driver"
)

// ErrMaxKeys is returned by Set when the key limit is reached.
var ErrMaxKeys = errors.New("max keys limit reached")

// item represents a cached item with expiration
type item struct {
	value      []byte
	expiration int64
}

// MemoryCache implements an in-memory cache
type MemoryCache struct {
	mu          sync.RWMutex
	items       map[string]*item
	maxKeys     int
	defaultTTL  time.Duration
	stopCleanup chan struct{}
	closeOnce   sync.Once
	keyPrefix   string
}

// Config holds memory cache specific configuration
type Config struct {
	MaxKeys         int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	KeyPrefix       string
	Namespace       string
}

// New creates a new memory cache instance
func New(cfg Config) (*MemoryCache, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	mc := &MemoryCache{
		items:       make(map[string]*item),
		maxKeys:     cfg.MaxKeys,
		defaultTTL:  cfg.DefaultTTL,
		stopCleanup: make(chan struct{}),
		keyPrefix:   driver.Prefix(cfg.Namespace, cfg.KeyPrefix),
	}

	go mc.cleanupExpired(cfg.CleanupInterval)

	return mc, nil
}

// Get retrieves a value by key
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	it, exists := mc.items[mc.keyPrefix+key]
	if !exists || it.expired(time.Now().UnixNano()) {
		return nil, driver.ErrNotFound
	}

	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Set stores a value with optional TTL
func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	fullKey := mc.keyPrefix + key
	if mc.maxKeys > 0 && len(mc.items) >= mc.maxKeys {
		if _, exists := mc.items[fullKey]; !exists {
			return ErrMaxKeys
		}
	}

	if ttl == 0 {
		ttl = mc.defaultTTL
	}

	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	mc.items[fullKey] = &item{value: stored, expiration: expiration}

	return nil
}

// Delete removes a key
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.items, mc.keyPrefix+key)
	return nil
}

// Exists checks if a key exists
func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	it, exists := mc.items[mc.keyPrefix+key]
	return exists && !it.expired(time.Now().UnixNano()), nil
}

// Clear removes all keys under the prefix
func (mc *MemoryCache) Clear(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for key := range mc.items {
		if strings.HasPrefix(key, mc.keyPrefix) {
			delete(mc.items, key)
		}
	}
	return nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.stopCleanup) })
	return nil
}

// Ping always succeeds.
func (mc *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored keys, expired ones included until the
// next cleanup.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.items)
}

func (mc *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.removeExpired()
		case <-mc.stopCleanup:
			return
		}
	}
}

func (mc *MemoryCache) removeExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now().UnixNano()
	for key, it := range mc.items {
		if it.expired(now) {
			delete(mc.items, key)
		}
	}
}

func (it *item) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}
