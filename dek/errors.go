package dek

import (
	"errors"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

var (
	// ErrKeyNotFound is returned for a key id that was never registered
	ErrKeyNotFound = types.ErrKeyNotFound

	// ErrWrapFailed is returned when the KMS provider cannot wrap or verify new key material
	ErrWrapFailed = errors.New("failed to wrap key material")

	// ErrUnwrapFailed is returned when stored key material cannot be unwrapped
	ErrUnwrapFailed = errors.New("failed to unwrap key material")
)
