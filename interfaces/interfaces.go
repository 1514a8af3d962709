// Package interfaces defines all service interfaces for the application.
// IMPORTANT: This is the single source of truth for service interfaces.
// Do not define interfaces in other files.
package interfaces

import (
	"context"
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// Cache Interfaces
// Storage defines the interface for cache storage backends
type Storage interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// ClearExpiredKeys removes only expired keys and returns the count of removed entries
	ClearExpiredKeys(ctx context.Context) (int, error)
}

// KMS Interfaces
// KMSProvider defines the interface for KMS providers
type KMSProvider interface {
	// GetWrapper returns the underlying KMS wrapper
	GetWrapper() wrapping.Wrapper

	// Type reports which provider backs the wrapper
	Type() types.ProviderType

	// Test performs a test encryption/decryption
	Test(ctx context.Context) error

	// HealthCheck performs a comprehensive health check
	HealthCheck(ctx context.Context) error

	// GetLastHealthCheckError returns the last health check error
	GetLastHealthCheckError() error
}

// Key Interfaces
// KeyResolver resolves key material by id. It is all verification needs.
type KeyResolver interface {
	// GetKey returns the key registered under keyID or an error wrapping types.ErrKeyNotFound
	GetKey(ctx context.Context, keyID string) (*types.Key, error)
}

// KeyManager owns the append-only key table
type KeyManager interface {
	KeyResolver

	// CreateKey registers fresh key material without activating it
	CreateKey(ctx context.Context) (string, error)

	// ActiveKey returns the key new records are sealed under
	ActiveKey(ctx context.Context) (*types.Key, error)

	// Rotate creates a key and makes it active
	Rotate(ctx context.Context) (string, error)

	// FreshNonce returns types.NonceSize random bytes
	FreshNonce() ([]byte, error)

	// Status reports the key table without exposing material
	Status() types.KeyStatus
}

// Evidence Interfaces
// EvidenceWriter is the store surface the collector depends on
type EvidenceWriter interface {
	// Store persists rec and returns its assigned id. Only rec.ID is modified.
	Store(ctx context.Context, rec *types.EvidenceRecord) (int64, error)
}

// EvidenceStore persists records and re-derives trust in them
type EvidenceStore interface {
	EvidenceWriter

	// ListAll returns non-secret summaries in insertion order
	ListAll(ctx context.Context) ([]types.RecordSummary, error)

	// GetRaw returns the full record or an error wrapping types.ErrRecordNotFound
	GetRaw(ctx context.Context, id int64) (*types.EvidenceRecord, error)

	// Tamper corrupts a stored record; false for an unknown id or mode
	Tamper(ctx context.Context, id int64, mode types.TamperMode) (bool, error)

	// Verify decrypts and re-hashes one record. Tamper outcomes are results, not errors.
	Verify(ctx context.Context, id int64, keys KeyResolver) (types.VerificationResult, error)

	// VerifyAll verifies every record in ascending id order
	VerifyAll(ctx context.Context, keys KeyResolver) (*types.VerificationReport, error)
}

// RecordBackend is the persistence layer under an EvidenceStore
type RecordBackend interface {
	// Insert persists rec atomically and returns the new id
	Insert(ctx context.Context, rec *types.EvidenceRecord) (int64, error)

	// List returns summaries in ascending id order
	List(ctx context.Context) ([]types.RecordSummary, error)

	// IDs returns every id in ascending order
	IDs(ctx context.Context) ([]int64, error)

	// Get returns the full record or an error wrapping types.ErrRecordNotFound
	Get(ctx context.Context, id int64) (*types.EvidenceRecord, error)

	// Update applies patch or returns an error wrapping types.ErrRecordNotFound
	Update(ctx context.Context, id int64, patch types.RecordPatch) error

	// Close releases the backend
	Close() error
}

// Audit Interfaces
// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	// Printf provides basic logging functionality
	Printf(format string, v ...interface{})

	// LogEvent logs an audit event
	LogEvent(ctx context.Context, event *types.AuditEvent) error

	// GetEvents retrieves audit events based on filters
	GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error)
}
