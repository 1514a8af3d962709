package types

import "time"

// Reason explains a failed verification
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonDecryptionFailed Reason = "decryption_failed"
	ReasonHashMismatch     Reason = "hash_mismatch"
)

// TamperMode selects how a stored record is corrupted for detection drills
type TamperMode string

const (
	TamperCorruptCiphertext TamperMode = "corrupt_ciphertext"
	TamperCorruptHash       TamperMode = "corrupt_hash"
)

// TamperedHashPlaceholder replaces event_hash under TamperCorruptHash
const TamperedHashPlaceholder = "tampered-hash"

// VerificationResult is the per-record outcome
type VerificationResult struct {
	ID           int64  `json:"id"`
	OK           bool   `json:"ok"`
	Reason       Reason `json:"reason,omitempty"`
	ComputedHash string `json:"computed_hash,omitempty"`
	StoredHash   string `json:"stored_hash,omitempty"`
	Error        string `json:"error,omitempty"`
}

// VerificationReport aggregates a verification run in ascending id order
type VerificationReport struct {
	Total       int                  `json:"total"`
	OK          int                  `json:"ok"`
	Bad         int                  `json:"bad"`
	Results     []VerificationResult `json:"results"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Add appends a result and updates the counters
func (r *VerificationReport) Add(res VerificationResult) {
	r.Total++
	if res.OK {
		r.OK++
	} else {
		r.Bad++
	}
	r.Results = append(r.Results, res)
}
