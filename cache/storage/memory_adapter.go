// Package storage provides cache storage backends
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// MemoryAdapter implements interfaces.Storage with TTL expiry and LRU eviction
type MemoryAdapter struct {
	mu         sync.Mutex
	data       map[string]*types.CacheEntry
	ttl        map[string]time.Time
	lastAccess map[string]time.Time
	stats      types.CacheStats
	logger     zerolog.Logger
	maxSize    int
	now        func() time.Time
}

// NewMemoryAdapter creates an in-memory store holding at most maxSize entries
func NewMemoryAdapter(maxSize int) *MemoryAdapter {
	if maxSize <= 0 {
		maxSize = types.DefaultCacheMaxEntries
	}
	now := time.Now().UTC()
	a := &MemoryAdapter{
		data:       make(map[string]*types.CacheEntry),
		ttl:        make(map[string]time.Time),
		lastAccess: make(map[string]time.Time),
		maxSize:    maxSize,
		logger:     log.With().Str("component", "memory_cache").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		stats: types.CacheStats{
			LastAccess:  now,
			LastUpdated: now,
			LastPurged:  now,
		},
	}
	a.logger.Debug().Int("maxSize", maxSize).Msg("Memory cache adapter initialized")
	return a
}

// removeKey wipes and removes key. Caller holds a.mu.
func (a *MemoryAdapter) removeKey(key string) {
	if entry, ok := a.data[key]; ok {
		entry.Clear()
	}
	delete(a.data, key)
	delete(a.ttl, key)
	delete(a.lastAccess, key)
	a.stats.Size = len(a.data)
	a.stats.LastUpdated = a.now()
}

// evictLRU drops the least recently used entries until there is room for one more. Caller holds a.mu.
func (a *MemoryAdapter) evictLRU() {
	if len(a.data) < a.maxSize {
		return
	}
	keys := make([]string, 0, len(a.lastAccess))
	for k := range a.lastAccess {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return a.lastAccess[keys[i]].Before(a.lastAccess[keys[j]])
	})

	evicted := 0
	for _, k := range keys {
		if len(a.data) < a.maxSize {
			break
		}
		a.removeKey(k)
		evicted++
	}
	a.stats.Evictions += int64(evicted)
	a.logger.Debug().
		Int("evictedCount", evicted).
		Int("currentSize", len(a.data)).
		Msg("LRU eviction completed")
}

// Get copies the entry stored under key into value, which must be *types.CacheEntry
func (a *MemoryAdapter) Get(ctx context.Context, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, ok := value.(*types.CacheEntry)
	if !ok {
		return fmt.Errorf("invalid value type: expected *types.CacheEntry")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.stats.LastAccess = now

	entry, exists := a.data[key]
	if !exists {
		a.stats.Misses++
		return types.ErrNotFound
	}
	if expiry, hasExpiry := a.ttl[key]; hasExpiry && now.After(expiry) {
		a.removeKey(key)
		a.stats.Misses++
		a.logger.Trace().Str("key", key).Time("expiredAt", expiry).Msg("Cache entry expired")
		return types.ErrNotFound
	}

	a.lastAccess[key] = now
	a.stats.Hits++
	out.Value = types.NewSecureBytes(entry.Value.Get())
	out.Algorithm = entry.Algorithm
	return nil
}

// Set stores value, which must be *types.CacheEntry, replacing and wiping any previous entry
func (a *MemoryAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, ok := value.(*types.CacheEntry)
	if !ok || entry == nil {
		return fmt.Errorf("invalid value type: expected *types.CacheEntry")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.data[key]; exists {
		a.removeKey(key)
	} else {
		a.evictLRU()
	}

	now := a.now()
	a.data[key] = entry
	if ttl > 0 {
		a.ttl[key] = now.Add(ttl)
	}
	a.lastAccess[key] = now
	a.stats.Size = len(a.data)
	a.stats.LastUpdated = now
	a.logger.Trace().Str("key", key).Int("ttlSeconds", int(ttl.Seconds())).Msg("Cache entry stored")
	return nil
}

// Delete removes a value from storage
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeKey(key)
	return nil
}

// Clear wipes every entry
func (a *MemoryAdapter) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, entry := range a.data {
		entry.Clear()
	}
	a.data = make(map[string]*types.CacheEntry)
	a.ttl = make(map[string]time.Time)
	a.lastAccess = make(map[string]time.Time)
	a.stats.Size = 0
	a.stats.LastUpdated = a.now()
	a.logger.Debug().Msg("Cache cleared")
	return nil
}

// ClearExpiredKeys removes only expired keys and returns the count of removed entries
func (a *MemoryAdapter) ClearExpiredKeys(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var expired []string
	for key, expiry := range a.ttl {
		if now.After(expiry) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		a.removeKey(key)
	}
	a.stats.LastPurged = now

	if len(expired) > 0 {
		a.logger.Debug().Int("expiredCount", len(expired)).Msg("Expired entries cleaned up")
	}
	return len(expired), nil
}

// GetStats returns storage statistics
func (a *MemoryAdapter) GetStats() types.CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// IsNotFound reports whether err is a cache miss
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
