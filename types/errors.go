package types

import "errors"

var (
	// ErrRecordNotFound is returned by record backends for an unknown id
	ErrRecordNotFound = errors.New("record not found")

	// ErrKeyNotFound is returned when a key id was never registered
	ErrKeyNotFound = errors.New("key not found")
)
