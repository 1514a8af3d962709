// Package credentials seals KMS provider secrets so they can sit in a config
// file as ENC[...] values.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/seal"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const (
	encryptionPrefix = "ENC["
	encryptionSuffix = "]"

	// MaskedValue replaces secrets in anything that gets logged
	MaskedValue = "[MASKED]"
)

// ErrKeyRequired is returned when a sealed value is found but no key was supplied
var ErrKeyRequired = errors.New("credentials key is required to open sealed values")

// IsSealed reports whether s carries the ENC[...] envelope
func IsSealed(s string) bool {
	return strings.HasPrefix(s, encryptionPrefix) && strings.HasSuffix(s, encryptionSuffix)
}

// Sealer encrypts and decrypts single credential values with AES-256-GCM
type Sealer struct {
	key *types.Key
}

// NewSealer builds a Sealer from at least 32 bytes of key material.
// Only the first 32 bytes are used.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) < types.KeySize {
		return nil, fmt.Errorf("credentials key must be at least %d bytes", types.KeySize)
	}
	key = key[:types.KeySize]
	if !validateKeyEntropy(key) {
		return nil, fmt.Errorf("credentials key has insufficient entropy")
	}
	material := make([]byte, types.KeySize)
	copy(material, key)
	return &Sealer{key: &types.Key{
		ID:        "credentials",
		Algorithm: types.AlgorithmAES256GCM,
		Material:  material,
	}}, nil
}

// NewSealerFromBase64 decodes a standard base64 key and calls NewSealer
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode credentials key: %w", err)
	}
	return NewSealer(key)
}

// at least 16 distinct bytes
func validateKeyEntropy(key []byte) bool {
	unique := make(map[byte]struct{}, len(key))
	for _, b := range key {
		unique[b] = struct{}{}
	}
	return len(unique) >= 16
}

// Seal returns plaintext as ENC[base64url(nonce||ciphertext)]. Values that
// are already sealed are returned unchanged.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}
	if IsSealed(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, types.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext, err := seal.Seal(s.key, nonce, []byte(plaintext), nil)
	if err != nil {
		return "", err
	}
	return encryptionPrefix + base64.URLEncoding.EncodeToString(append(nonce, ciphertext...)) + encryptionSuffix, nil
}

// Open reverses Seal. Values without the envelope are returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(value, encryptionPrefix), encryptionSuffix)
	decoded, err := base64.URLEncoding.DecodeString(trimmed)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(decoded) < types.NonceSize {
		return "", fmt.Errorf("sealed value too short")
	}

	plaintext, err := seal.Open(s.key, decoded[:types.NonceSize], decoded[types.NonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func fields(creds *types.KMSCredentials) map[string]*string {
	return map[string]*string{
		"accessKeyId":     &creds.AccessKeyID,
		"secretAccessKey": &creds.SecretAccessKey,
		"sessionToken":    &creds.SessionToken,
		"tenantId":        &creds.TenantID,
		"clientId":        &creds.ClientID,
		"clientSecret":    &creds.ClientSecret,
		"credentialsJson": &creds.CredentialsJSON,
		"token":           &creds.Token,
	}
}

// SealCredentials seals every non-empty field in place. Masked values are left alone.
func (s *Sealer) SealCredentials(creds *types.KMSCredentials) error {
	if creds == nil {
		return nil
	}
	for name, field := range fields(creds) {
		if *field == "" || *field == MaskedValue {
			continue
		}
		sealed, err := s.Seal(*field)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", name, err)
		}
		*field = sealed
	}
	return nil
}

// OpenCredentials opens every sealed field in place
func (s *Sealer) OpenCredentials(creds *types.KMSCredentials) error {
	if creds == nil {
		return nil
	}
	for name, field := range fields(creds) {
		opened, err := s.Open(*field)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		*field = opened
	}
	return nil
}

// HasSealed reports whether any field of creds is sealed
func HasSealed(creds types.KMSCredentials) bool {
	for _, field := range fields(&creds) {
		if IsSealed(*field) {
			return true
		}
	}
	return false
}

// Mask returns a copy of creds with every non-empty field replaced by MaskedValue
func Mask(creds types.KMSCredentials) types.KMSCredentials {
	for _, field := range fields(&creds) {
		if *field != "" {
			*field = MaskedValue
		}
	}
	return creds
}
