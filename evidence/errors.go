package evidence

import (
	"errors"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

var (
	// ErrRecordNotFound is returned for an id the backend does not hold
	ErrRecordNotFound = types.ErrRecordNotFound

	// ErrInvalidRecord is returned by Store for a record missing required fields
	ErrInvalidRecord = errors.New("invalid evidence record")
)
