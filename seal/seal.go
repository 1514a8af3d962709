// Package seal wraps the AEAD ciphers evidence is encrypted with.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

var (
	// ErrEncryptionFailure is returned when sealing cannot complete, e.g. a malformed key or nonce
	ErrEncryptionFailure = errors.New("encryption failure")

	// ErrDecryptionFailed is returned when authentication fails on open
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnsupportedAlgorithm is returned for an algorithm this package does not implement
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// newAEAD builds the cipher for key.Algorithm
func newAEAD(key *types.Key) (cipher.AEAD, error) {
	if key == nil {
		return nil, fmt.Errorf("key is required")
	}
	if len(key.Material) != types.KeySize {
		return nil, fmt.Errorf("key %s must be %d bytes, got %d", key.ID, types.KeySize, len(key.Material))
	}

	switch key.Algorithm {
	case types.AlgorithmAES256GCM, "":
		block, err := aes.NewCipher(key.Material)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher block: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
		}
		return gcm, nil
	case types.AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key.Material)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
	}
}

// Seal encrypts plaintext under key and nonce, binding aad into the tag
func Seal(key *types.Key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailure, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrEncryptionFailure, aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext. Any mismatch in key, nonce,
// ciphertext or aad yields ErrDecryptionFailed.
func Open(key *types.Key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecryptionFailed, aead.NonceSize(), len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
