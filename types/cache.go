package types

import (
	"context"
	"crypto/subtle"
	"errors"
	"runtime"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("key not found in cache")
)

const (
	// DefaultCacheTTLMinutes is the default TTL for unwrapped key material
	DefaultCacheTTLMinutes = 15

	// DefaultCacheMaxEntries bounds the in-memory store
	DefaultCacheMaxEntries = 1000
)

// SecureBytes represents a secure byte slice that will be wiped on garbage collection
type SecureBytes struct {
	data []byte
}

// NewSecureBytes creates a new secure byte slice
func NewSecureBytes(data []byte) *SecureBytes {
	secure := &SecureBytes{
		data: make([]byte, len(data)),
	}
	subtle.ConstantTimeCopy(1, secure.data, data)

	runtime.SetFinalizer(secure, (*SecureBytes).Clear)
	return secure
}

// Clear overwrites the data with zeros
func (s *SecureBytes) Clear() {
	if s.data != nil {
		for i := range s.data {
			s.data[i] = 0
		}
		runtime.KeepAlive(s.data)
		s.data = nil
	}
}

// Get returns a copy of the data
func (s *SecureBytes) Get() []byte {
	if s == nil || s.data == nil {
		return nil
	}
	result := make([]byte, len(s.data))
	subtle.ConstantTimeCopy(1, result, s.data)
	return result
}

// CacheEntry is unwrapped key material held by the cache
type CacheEntry struct {
	Value     *SecureBytes
	Algorithm Algorithm
}

// Clear securely wipes the entry
func (e *CacheEntry) Clear() {
	if e.Value != nil {
		e.Value.Clear()
		e.Value = nil
	}
}

// CacheConfig holds configuration for caching
type CacheConfig struct {
	// Enabled indicates whether caching is enabled
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`

	// TTL is the time-to-live for cached entries in minutes.
	// If not set, DefaultCacheTTLMinutes will be used
	TTL int `json:"ttl,omitempty" yaml:"ttl,omitempty" env:"TTL"`

	// MaxEntries bounds the in-memory store, DefaultCacheMaxEntries if unset
	MaxEntries int `json:"maxEntries,omitempty" yaml:"maxEntries,omitempty" env:"MAX_ENTRIES"`
}

// GetEffectiveTTL returns the effective TTL for the cache
func (c *CacheConfig) GetEffectiveTTL() time.Duration {
	if c.TTL > 0 {
		return time.Duration(c.TTL) * time.Minute
	}
	return time.Duration(DefaultCacheTTLMinutes) * time.Minute
}

// GetEffectiveMaxEntries returns the effective store bound
func (c *CacheConfig) GetEffectiveMaxEntries() int {
	if c.MaxEntries > 0 {
		return c.MaxEntries
	}
	return DefaultCacheMaxEntries
}

// CacheStats holds statistics about the cache
type CacheStats struct {
	Size        int       `json:"size" bson:"size"`
	Hits        int64     `json:"hits" bson:"hits"`
	Misses      int64     `json:"misses" bson:"misses"`
	Evictions   int64     `json:"evictions" bson:"evictions"`
	LastPurged  time.Time `json:"lastPurged" bson:"lastPurged"`
	LastAccess  time.Time `json:"lastAccess" bson:"lastAccess"`
	LastUpdated time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

// Cache defines the interface for caching unwrapped key material
type Cache interface {
	// Enable enables the cache
	Enable()

	// Disable disables the cache and securely wipes all entries
	Disable()

	// IsEnabled returns whether the cache is enabled
	IsEnabled() bool

	// Clear securely wipes and removes all entries from the cache
	Clear()

	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) (*SecureBytes, Algorithm, bool)

	// Set adds a value to the cache with secure memory handling
	Set(ctx context.Context, key string, value []byte, algorithm Algorithm)

	// Delete securely wipes and removes a key from the cache
	Delete(key string)

	// GetStats returns cache statistics
	GetStats(ctx context.Context) CacheStats
}
