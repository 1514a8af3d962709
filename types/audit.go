package types

import (
	"time"
)

// AuditEvent represents an evidence pipeline audit event
type AuditEvent struct {
	ID        string                 `json:"id" bson:"_id"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	EventType string                 `json:"event_type" bson:"event_type"`
	Operation string                 `json:"operation" bson:"operation"`
	Status    string                 `json:"status" bson:"status"`
	KeyID     string                 `json:"key_id,omitempty" bson:"key_id,omitempty"`
	Context   map[string]string      `json:"context" bson:"context"`
	Metadata  map[string]interface{} `json:"metadata" bson:"metadata"`
}
