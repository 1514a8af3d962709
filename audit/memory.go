package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// MemoryAuditLogger records events in memory. GetEvents supports the
// filters "eventType", "operation", "status" and "keyId".
type MemoryAuditLogger struct {
	mu     sync.RWMutex
	events []*types.AuditEvent
}

// NewMemoryAuditLogger creates an empty recording logger
func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

// Printf is a no-op; only structured events are recorded
func (l *MemoryAuditLogger) Printf(format string, v ...interface{}) {}

// LogEvent records a copy of event
func (l *MemoryAuditLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	fillDefaults(ctx, event)

	cp := *event
	cp.Context = make(map[string]string, len(event.Context))
	for k, v := range event.Context {
		cp.Context[k] = v
	}

	l.mu.Lock()
	l.events = append(l.events, &cp)
	l.mu.Unlock()
	return nil
}

// GetEvents returns recorded events matching every filter, oldest first
func (l *MemoryAuditLogger) GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*types.AuditEvent
	for _, e := range l.events {
		if matches(e, filters) {
			out = append(out, e)
		}
	}
	return out, nil
}

func matches(e *types.AuditEvent, filters map[string]interface{}) bool {
	for k, want := range filters {
		var got string
		switch k {
		case "eventType":
			got = e.EventType
		case "operation":
			got = e.Operation
		case "status":
			got = e.Status
		case "keyId":
			got = e.KeyID
		default:
			got = e.Context[k]
		}
		if fmt.Sprint(want) != got {
			return false
		}
	}
	return true
}
