package types

import (
	"bytes"
	"time"
)

// DeviceType identifies the category of the originating device
type DeviceType string

const (
	DeviceCCTV      DeviceType = "cctv"
	DeviceTraffic   DeviceType = "traffic"
	DevicePollution DeviceType = "pollution"
)

// Event is a single device observation. It is passed by value and never mutated.
type Event struct {
	DeviceID   string     `json:"device_id" bson:"device_id"`
	DeviceType DeviceType `json:"device_type" bson:"device_type"`
	EventType  string     `json:"event_type" bson:"event_type"`
	Payload    Payload    `json:"event_payload" bson:"event_payload"`
	EventTS    time.Time  `json:"event_ts" bson:"event_ts"`
}

// CustodyMetadata is the chain-of-custody envelope built at collection time.
// It is informational only and never consulted by verification.
type CustodyMetadata struct {
	DeviceID    string     `json:"device_id" bson:"device_id"`
	DeviceType  DeviceType `json:"device_type" bson:"device_type"`
	EventType   string     `json:"event_type" bson:"event_type"`
	EventTS     time.Time  `json:"event_ts" bson:"event_ts"`
	CollectorID string     `json:"collector_id" bson:"collector_id"`
	CollectorTS time.Time  `json:"collector_ts" bson:"collector_ts"`
	SequenceNo  int64      `json:"sequence_no" bson:"sequence_no"`
	PrevHash    *string    `json:"prev_hash,omitempty" bson:"prev_hash,omitempty"`
}

// EvidenceRecord is the persisted unit
type EvidenceRecord struct {
	ID            int64           `json:"id" bson:"_id"`
	DeviceID      string          `json:"device_id" bson:"device_id"`
	DeviceType    DeviceType      `json:"device_type" bson:"device_type"`
	EventType     string          `json:"event_type" bson:"event_type"`
	EventHash     string          `json:"event_hash" bson:"event_hash"`
	CollectorTS   time.Time       `json:"collector_ts" bson:"collector_ts"`
	SequenceNo    int64           `json:"sequence_no" bson:"sequence_no"`
	PrevHash      *string         `json:"prev_hash,omitempty" bson:"prev_hash,omitempty"`
	EncryptedBlob []byte          `json:"encrypted_blob" bson:"encrypted_blob"`
	Nonce         []byte          `json:"nonce" bson:"nonce"`
	KeyID         string          `json:"key_id" bson:"key_id"`
	CollectorID   string          `json:"collector_id" bson:"collector_id"`
	Verified      bool            `json:"verified" bson:"verified"`
	Tampered      bool            `json:"tampered" bson:"tampered"`
	Metadata      CustodyMetadata `json:"metadata" bson:"metadata"`
}

// Summary strips the secret fields
func (r *EvidenceRecord) Summary() RecordSummary {
	return RecordSummary{
		ID:          r.ID,
		DeviceID:    r.DeviceID,
		DeviceType:  r.DeviceType,
		EventType:   r.EventType,
		EventHash:   r.EventHash,
		CollectorTS: r.CollectorTS,
		SequenceNo:  r.SequenceNo,
		PrevHash:    cloneString(r.PrevHash),
		KeyID:       r.KeyID,
		CollectorID: r.CollectorID,
		Verified:    r.Verified,
		Tampered:    r.Tampered,
	}
}

// Clone returns a deep copy so callers can't alias stored byte slices
func (r *EvidenceRecord) Clone() *EvidenceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.PrevHash = cloneString(r.PrevHash)
	c.EncryptedBlob = bytes.Clone(r.EncryptedBlob)
	c.Nonce = bytes.Clone(r.Nonce)
	c.Metadata.PrevHash = cloneString(r.Metadata.PrevHash)
	return &c
}

// RecordSummary is the non-secret view of a record
type RecordSummary struct {
	ID          int64      `json:"id" bson:"_id"`
	DeviceID    string     `json:"device_id" bson:"device_id"`
	DeviceType  DeviceType `json:"device_type" bson:"device_type"`
	EventType   string     `json:"event_type" bson:"event_type"`
	EventHash   string     `json:"event_hash" bson:"event_hash"`
	CollectorTS time.Time  `json:"collector_ts" bson:"collector_ts"`
	SequenceNo  int64      `json:"sequence_no" bson:"sequence_no"`
	PrevHash    *string    `json:"prev_hash,omitempty" bson:"prev_hash,omitempty"`
	KeyID       string     `json:"key_id" bson:"key_id"`
	CollectorID string     `json:"collector_id" bson:"collector_id"`
	Verified    bool       `json:"verified" bson:"verified"`
	Tampered    bool       `json:"tampered" bson:"tampered"`
}

// RecordPatch carries the only mutations a stored record accepts.
// A nil EncryptedBlob or EventHash leaves the stored value unchanged.
type RecordPatch struct {
	EncryptedBlob []byte
	EventHash     *string
	Verified      bool
	Tampered      bool
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
