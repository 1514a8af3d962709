// Package cache holds unwrapped data keys so the KMS provider is not called for every seal and verify.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const (
	maxConsecutiveErrors = 10
	breakerResetTimeout  = 1 * time.Minute
	cleanupInterval      = 5 * time.Minute
)

// KeyCache implements types.Cache over an interfaces.Storage backend.
// Repeated storage errors trip a breaker that bypasses the cache until it resets.
type KeyCache struct {
	config  types.CacheConfig
	store   interfaces.Storage
	enabled atomic.Bool
	logger  zerolog.Logger

	mu    sync.Mutex
	stats types.CacheStats

	consecutiveErrors atomic.Int32
	breakerMu         sync.Mutex
	breakerTrippedAt  time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewKeyCache creates a cache and starts its expiry sweep
func NewKeyCache(config types.CacheConfig, store interfaces.Storage) *KeyCache {
	logger := log.With().Str("component", "key_cache").Logger()
	now := time.Now().UTC()
	c := &KeyCache{
		config: config,
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
		stats: types.CacheStats{
			LastPurged:  now,
			LastAccess:  now,
			LastUpdated: now,
		},
	}
	c.enabled.Store(config.Enabled)

	go c.cleanupLoop()

	logger.Info().
		Bool("enabled", config.Enabled).
		Dur("ttl", c.config.GetEffectiveTTL()).
		Msg("Key cache initialized")
	return c
}

func (c *KeyCache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

func (c *KeyCache) cleanup() int {
	expired, err := c.store.ClearExpiredKeys(context.Background())
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to cleanup expired cache entries")
		return 0
	}
	c.mu.Lock()
	c.stats.LastPurged = time.Now().UTC()
	c.stats.Evictions += int64(expired)
	c.stats.Size = max(c.stats.Size-expired, 0)
	c.mu.Unlock()
	return expired
}

// Enable activates the cache
func (c *KeyCache) Enable() {
	c.enabled.Store(true)
}

// Disable deactivates the cache and wipes all entries
func (c *KeyCache) Disable() {
	c.enabled.Store(false)
	c.Clear()
}

// IsEnabled returns whether the cache is currently enabled
func (c *KeyCache) IsEnabled() bool {
	return c.enabled.Load()
}

// Clear wipes all entries and resets statistics
func (c *KeyCache) Clear() {
	if err := c.store.Clear(context.Background()); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear cache")
		return
	}
	now := time.Now().UTC()
	c.mu.Lock()
	c.stats = types.CacheStats{LastPurged: now, LastAccess: now, LastUpdated: now}
	c.mu.Unlock()
	c.logger.Debug().Msg("Cache cleared successfully")
}

func (c *KeyCache) breakerOpen() bool {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()
	if c.breakerTrippedAt.IsZero() {
		return false
	}
	if time.Since(c.breakerTrippedAt) > breakerResetTimeout {
		c.breakerTrippedAt = time.Time{}
		c.consecutiveErrors.Store(0)
		c.logger.Info().Msg("Circuit breaker reset")
		return false
	}
	return true
}

func (c *KeyCache) recordError() {
	if c.consecutiveErrors.Add(1) < maxConsecutiveErrors {
		return
	}
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()
	if c.breakerTrippedAt.IsZero() {
		c.breakerTrippedAt = time.Now()
		c.logger.Warn().Dur("resetAfter", breakerResetTimeout).Msg("Circuit breaker tripped")
	}
}

// Get returns the cached material for key
func (c *KeyCache) Get(ctx context.Context, key string) (*types.SecureBytes, types.Algorithm, bool) {
	if !c.IsEnabled() || c.breakerOpen() {
		return nil, "", false
	}

	var entry types.CacheEntry
	err := c.store.Get(ctx, key, &entry)

	c.mu.Lock()
	c.stats.LastAccess = time.Now().UTC()
	if err != nil {
		c.stats.Misses++
	} else {
		c.stats.Hits++
	}
	c.mu.Unlock()

	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache read failed")
			c.recordError()
		}
		return nil, "", false
	}
	c.consecutiveErrors.Store(0)

	if entry.Value == nil || len(entry.Value.Get()) == 0 {
		c.logger.Error().Str("key", key).Msg("Invalid cache entry: empty or nil value")
		return nil, "", false
	}
	return entry.Value, entry.Algorithm, true
}

// Set stores a copy of value under key for the configured TTL
func (c *KeyCache) Set(ctx context.Context, key string, value []byte, algorithm types.Algorithm) {
	if !c.IsEnabled() || len(value) == 0 || c.breakerOpen() {
		return
	}

	entry := &types.CacheEntry{Value: types.NewSecureBytes(value), Algorithm: algorithm}
	if err := c.store.Set(ctx, key, entry, c.config.GetEffectiveTTL()); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to cache key material")
		c.recordError()
		return
	}
	c.consecutiveErrors.Store(0)

	c.mu.Lock()
	c.stats.Size++
	c.stats.LastUpdated = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Trace().Str("key", key).Str("algorithm", string(algorithm)).Msg("Key material cached")
}

// Delete wipes and removes key
func (c *KeyCache) Delete(key string) {
	if err := c.store.Delete(context.Background(), key); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Failed to delete cache entry")
		return
	}
	c.mu.Lock()
	if c.stats.Size > 0 {
		c.stats.Size--
	}
	c.mu.Unlock()
}

// GetStats returns current cache statistics
func (c *KeyCache) GetStats(ctx context.Context) types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// HealthCheck round-trips a probe entry
func (c *KeyCache) HealthCheck(ctx context.Context) error {
	if !c.IsEnabled() {
		return fmt.Errorf("cache is disabled")
	}
	const probeKey = "health_check"
	probe := []byte("probe")
	c.Set(ctx, probeKey, probe, types.AlgorithmAES256GCM)
	defer c.Delete(probeKey)

	data, _, ok := c.Get(ctx, probeKey)
	if !ok {
		return fmt.Errorf("cache read failed")
	}
	if string(data.Get()) != string(probe) {
		return fmt.Errorf("cache data integrity check failed")
	}
	return nil
}

// Shutdown stops the sweep and wipes all entries
func (c *KeyCache) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.done) })
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	stats := c.GetStats(ctx)
	c.logger.Debug().
		Int64("totalHits", stats.Hits).
		Int64("totalMisses", stats.Misses).
		Msg("Cache shutdown complete")
	return nil
}
