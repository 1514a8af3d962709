// Package audit provides audit logging for key and evidence operations
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// StdoutAuditLogger writes audit events through zerolog
type StdoutAuditLogger struct {
	logger zerolog.Logger
}

// NewStdoutAuditLogger creates a new stdout audit logger
func NewStdoutAuditLogger() *StdoutAuditLogger {
	return &StdoutAuditLogger{logger: log.With().Str("component", "audit").Logger()}
}

// Printf implements the required Printf method from the interfaces.AuditLogger interface
func (l *StdoutAuditLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// LogEvent logs an audit event with its core fields and known context keys
func (l *StdoutAuditLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	fillDefaults(ctx, event)

	logEvent := l.logger.Info().
		Str("auditId", event.ID).
		Time("timestamp", event.Timestamp).
		Str("eventType", event.EventType).
		Str("operation", event.Operation).
		Str("status", event.Status)

	if event.KeyID != "" {
		logEvent = logEvent.Str("keyId", event.KeyID)
	}
	for _, key := range []ContextKey{KeyCollectorID, KeyRecordID, KeyKeyID, KeySequenceNo, KeyReason, KeyError} {
		if v := event.Context[string(key)]; v != "" {
			logEvent = logEvent.Str(string(key), v)
		}
	}
	if len(event.Metadata) > 0 {
		logEvent = logEvent.Interface("metadata", event.Metadata)
	}

	logEvent.Msg("Audit event")
	return nil
}

// GetEvents returns events matching the filter (not implemented for stdout logger)
func (l *StdoutAuditLogger) GetEvents(ctx context.Context, filter map[string]interface{}) ([]*types.AuditEvent, error) {
	return nil, fmt.Errorf("getting events not supported for stdout logger")
}

// fillDefaults assigns id, timestamp and context map, and copies audit values carried by ctx
func fillDefaults(ctx context.Context, event *types.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Context == nil {
		event.Context = make(map[string]string)
	}
	if ctx == nil {
		return
	}
	for _, key := range contextKeys {
		if _, set := event.Context[string(key)]; set {
			continue
		}
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			event.Context[string(key)] = v
		}
	}
}

// WithCollector adds the collector id to the context
func WithCollector(ctx context.Context, collectorID string) context.Context {
	return context.WithValue(ctx, KeyCollectorID, collectorID)
}

// WithRecordID adds record ID information to the context
func WithRecordID(ctx context.Context, recordID int64) context.Context {
	return context.WithValue(ctx, KeyRecordID, fmt.Sprintf("%d", recordID))
}

// WithKeyID adds the data key id to the context
func WithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, KeyKeyID, keyID)
}

// WithOperation adds operation information to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, KeyOperation, operation)
}

// NewAuditEvent creates a new audit event with essential fields
func NewAuditEvent(eventType, operation string) *types.AuditEvent {
	return &types.AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Operation: operation,
		Status:    StatusSuccess,
		Context:   make(map[string]string),
	}
}

// Fail marks event as failed and records err in its context
func Fail(event *types.AuditEvent, err error) *types.AuditEvent {
	event.Status = StatusFailed
	if err != nil {
		if event.Context == nil {
			event.Context = make(map[string]string)
		}
		event.Context[string(KeyError)] = err.Error()
	}
	return event
}
