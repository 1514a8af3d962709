package audit

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// Context keys for evidence operations
const (
	KeyCollectorID ContextKey = "collectorId" // collector that sealed the record
	KeyRecordID    ContextKey = "recordId"    // evidence record id
	KeyKeyID       ContextKey = "keyId"       // data key identifier
	KeySequenceNo  ContextKey = "sequenceNo"  // collector sequence number
	KeyReason      ContextKey = "reason"      // verification failure reason
	KeyError       ContextKey = "error"       // Error message if operation failed
	KeyOperation   ContextKey = "operation"   // Operation being performed
)

// contextKeys lists the keys copied from a context.Context into an event
var contextKeys = []ContextKey{KeyCollectorID, KeyRecordID, KeyKeyID, KeySequenceNo, KeyOperation}

// GetContextKey returns the ContextKey type for a given string
func GetContextKey(key string) ContextKey {
	return ContextKey(key)
}
