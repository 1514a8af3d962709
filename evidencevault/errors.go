package evidencevault

import "errors"

var (
	// ErrInvalidScenario is returned when a scenario has no devices or no events
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrInvalidFraction is returned when a tamper fraction is outside [0, 1]
	ErrInvalidFraction = errors.New("tamper fraction must be between 0 and 1")

	// ErrNoRecords is returned when a tamper drill runs against an empty store
	ErrNoRecords = errors.New("no evidence records stored")

	// ErrStoreNotEmpty is returned when the backend already holds records.
	// Data keys live only in this process, so earlier records cannot be opened.
	ErrStoreNotEmpty = errors.New("evidence store already holds records sealed by an earlier key manager")

	// ErrVaultClosed is returned by operations on a closed vault
	ErrVaultClosed = errors.New("evidence vault is closed")
)
