// Package collector turns device events into sealed evidence records.
//
// A Collector owns its sequence counter and chain head. Calls are serialized
// and the state only advances once the store has accepted the record, so a
// failed store leaves the next call with the same sequence number and
// prev_hash it would have had.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/canonical"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/seal"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const (
	tracerName = "github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/collector"

	// DefaultCollectorID names a collector built without WithCollectorID
	DefaultCollectorID = "collector-01"
)

// Collector hashes, chains, seals and stores events
type Collector struct {
	store       interfaces.EvidenceWriter
	keys        interfaces.KeyManager
	collectorID string
	hashChain   bool
	auditLogger interfaces.AuditLogger
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu       sync.Mutex
	sequence int64
	lastHash *string
}

// New returns a collector writing to store and sealing under keys' active key
func New(store interfaces.EvidenceWriter, keys interfaces.KeyManager, opts ...Option) (*Collector, error) {
	if store == nil {
		return nil, fmt.Errorf("evidence store is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key manager is required")
	}

	c := &Collector{
		store:       store,
		keys:        keys,
		collectorID: DefaultCollectorID,
		logger:      log.With().Str("component", "collector").Logger(),
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.collectorID == "" {
		return nil, fmt.Errorf("collector id cannot be empty")
	}
	return c, nil
}

// ID returns the collector id bound into every record's authentication tag
func (c *Collector) ID() string {
	return c.collectorID
}

// HashChain reports whether records carry prev_hash
func (c *Collector) HashChain() bool {
	return c.hashChain
}

// State returns the committed sequence number and chain head.
// lastHash is empty before the first successful store.
func (c *Collector) State() (sequence int64, lastHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHash != nil {
		lastHash = *c.lastHash
	}
	return c.sequence, lastHash
}

// CollectAndStore seals ev and stores it, returning the record id
func (c *Collector) CollectAndStore(ctx context.Context, ev types.Event) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "collector.CollectAndStore", trace.WithAttributes(
		attribute.String("evidence.collector_id", c.collectorID),
		attribute.String("evidence.device_id", ev.DeviceID),
	))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.build(ctx, ev)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		_, err = c.store.Store(ctx, rec)
		if err != nil {
			err = fmt.Errorf("failed to store evidence: %w", err)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).
			Str("deviceId", ev.DeviceID).
			Int64("sequenceNo", c.sequence+1).
			Msg("Failed to collect evidence")
		c.logAuditEvent(ctx, audit.Fail(audit.NewAuditEvent(audit.EventTypeEvidenceCollect, audit.OperationCollect), err), c.sequence+1, "")
		return 0, err
	}

	// commit only after the store accepted the record
	c.sequence = rec.SequenceNo
	hash := rec.EventHash
	c.lastHash = &hash

	span.SetAttributes(attribute.Int64("evidence.record_id", rec.ID), attribute.Int64("evidence.sequence_no", rec.SequenceNo))
	c.logger.Debug().
		Int64("recordId", rec.ID).
		Str("deviceId", rec.DeviceID).
		Int64("sequenceNo", rec.SequenceNo).
		Str("keyId", rec.KeyID).
		Msg("Evidence collected")
	c.logAuditEvent(audit.WithRecordID(ctx, rec.ID), audit.NewAuditEvent(audit.EventTypeEvidenceCollect, audit.OperationCollect), rec.SequenceNo, rec.KeyID)
	return rec.ID, nil
}

// build runs the hash, chain and seal steps against the committed state without changing it
func (c *Collector) build(ctx context.Context, ev types.Event) (*types.EvidenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq := c.sequence + 1

	plaintext, eventHash, err := canonical.EventHash(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize event: %w", err)
	}

	var prevHash *string
	if c.hashChain && c.lastHash != nil {
		v := *c.lastHash
		prevHash = &v
	}

	collectedAt := c.now()
	meta := types.CustodyMetadata{
		DeviceID:    ev.DeviceID,
		DeviceType:  ev.DeviceType,
		EventType:   ev.EventType,
		EventTS:     ev.EventTS,
		CollectorID: c.collectorID,
		CollectorTS: collectedAt,
		SequenceNo:  seq,
	}
	if prevHash != nil {
		v := *prevHash
		meta.PrevHash = &v
	}

	key, err := c.keys.ActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active key: %w", err)
	}
	nonce, err := c.keys.FreshNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}
	blob, err := seal.Seal(key, nonce, plaintext, []byte(c.collectorID))
	if err != nil {
		return nil, err
	}

	return &types.EvidenceRecord{
		DeviceID:      ev.DeviceID,
		DeviceType:    ev.DeviceType,
		EventType:     ev.EventType,
		EventHash:     eventHash,
		CollectorTS:   collectedAt,
		SequenceNo:    seq,
		PrevHash:      prevHash,
		EncryptedBlob: blob,
		Nonce:         nonce,
		KeyID:         key.ID,
		CollectorID:   c.collectorID,
		Metadata:      meta,
	}, nil
}

func (c *Collector) logAuditEvent(ctx context.Context, event *types.AuditEvent, seq int64, keyID string) {
	if c.auditLogger == nil {
		return
	}
	event.KeyID = keyID
	ctx = audit.WithCollector(ctx, c.collectorID)
	event.Context[string(audit.KeySequenceNo)] = fmt.Sprint(seq)
	if err := c.auditLogger.LogEvent(ctx, event); err != nil {
		c.logger.Warn().Err(err).Str("eventType", event.EventType).Msg("Failed to log audit event")
	}
}
