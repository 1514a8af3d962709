package types

import (
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

// Algorithm names the AEAD used to seal evidence
type Algorithm string

const (
	AlgorithmAES256GCM        Algorithm = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

const (
	// KeySize is the data key length in bytes for every supported algorithm
	KeySize = 32

	// NonceSize is the AEAD nonce length in bytes
	NonceSize = 12
)

// Key is unwrapped key material resolved by id
type Key struct {
	ID        string    `json:"id"`
	Algorithm Algorithm `json:"algorithm"`
	Material  []byte    `json:"-"`
}

// KeyVersion is the stored form of a data key: material wrapped by the KMS provider
type KeyVersion struct {
	// ID is "key-<Sequence>"
	ID        string    `bson:"_id" json:"id"`
	Sequence  int       `bson:"sequence" json:"sequence"`
	Algorithm Algorithm `bson:"algorithm" json:"algorithm"`

	// Store complete BlobInfo from KMS wrapper
	BlobInfo *wrapping.BlobInfo `bson:"blobInfo" json:"blobInfo"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`

	// WrapContext is the AAD the material was wrapped with
	WrapContext []byte `bson:"wrapContext,omitempty" json:"-"`
}

// GetKeyID returns the KEK identifier reported by the wrapper
func (v *KeyVersion) GetKeyID() string {
	if v.BlobInfo == nil || v.BlobInfo.KeyInfo == nil {
		return ""
	}
	return v.BlobInfo.KeyInfo.KeyId
}

// KeyStatus reports the key table without exposing material
type KeyStatus struct {
	ActiveKeyID   string       `json:"activeKeyId"`
	KeyCount      int          `json:"keyCount"`
	Algorithm     Algorithm    `json:"algorithm"`
	Provider      ProviderType `json:"provider,omitempty"`
	ProviderKeyID string       `json:"providerKeyId,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	LastRotation  time.Time    `json:"lastRotation"`
	NeedsRotate   bool         `json:"needsRotate"`
}

// KeyConfig holds configuration for data key management
type KeyConfig struct {
	Algorithm Algorithm `json:"algorithm"`

	// RotateAfter rotates the active key on access once it is older than this.
	// Zero disables automatic rotation.
	RotateAfter time.Duration `json:"rotateAfter"`

	// Provider is reported in KeyStatus
	Provider ProviderType `json:"provider"`

	// AuditLogger enables audit logging of key operations
	AuditLogger bool `json:"auditLogger"`
}

// EffectiveAlgorithm defaults to AES-256-GCM
func (c KeyConfig) EffectiveAlgorithm() Algorithm {
	if c.Algorithm == "" {
		return AlgorithmAES256GCM
	}
	return c.Algorithm
}
