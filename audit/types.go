package audit

// Event types
const (
	EventTypeInitialization    = "initialization"
	EventTypeKeyCreate         = "key.create"
	EventTypeKeyRotate         = "key.rotate"
	EventTypeEvidenceCollect   = "evidence.collect"
	EventTypeEvidenceTamper    = "evidence.tamper"
	EventTypeEvidenceVerifyAll = "evidence.verify_all"
)

// Operations
const (
	OperationInit    = "init"
	OperationCreate  = "create"
	OperationRotate  = "rotate"
	OperationCollect = "collect"
	OperationTamper  = "tamper"
	OperationVerify  = "verify"
)

// Statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)
