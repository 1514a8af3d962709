// Package evidence stores sealed evidence records and re-derives trust in them.
//
// Verification trusts only the ciphertext, nonce, key id and collector id of a
// stored record. The stored event hash is a claim that is recomputed from the
// decrypted canonical bytes and compared, never taken as ground truth.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/canonical"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/coordinator"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/seal"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const tracerName = "github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence"

// Service implements interfaces.EvidenceStore over a RecordBackend
type Service struct {
	backend           interfaces.RecordBackend
	auditLogger       interfaces.AuditLogger
	logger            zerolog.Logger
	verifyConcurrency int
	coordinator       *coordinator.Coordinator
	tracer            trace.Tracer

	// per-record mutexes serializing Tamper and Verify; an entry lives while it has holders or waiters
	locksMu sync.Mutex
	locks   map[int64]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

var _ interfaces.EvidenceStore = (*Service)(nil)

// NewService wraps backend
func NewService(backend interfaces.RecordBackend, opts ...Option) *Service {
	s := &Service{
		backend:           backend,
		logger:            log.With().Str("component", "evidence_store").Logger(),
		verifyConcurrency: DefaultVerifyConcurrency,
		tracer:            otel.Tracer(tracerName),
		locks:             make(map[int64]*recordLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(id int64) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &recordLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func validateRecord(rec *types.EvidenceRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	switch {
	case rec.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidRecord)
	case rec.EventHash == "":
		return fmt.Errorf("%w: event_hash is required", ErrInvalidRecord)
	case len(rec.EncryptedBlob) == 0:
		return fmt.Errorf("%w: encrypted_blob is required", ErrInvalidRecord)
	case len(rec.Nonce) != types.NonceSize:
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrInvalidRecord, types.NonceSize, len(rec.Nonce))
	case rec.KeyID == "":
		return fmt.Errorf("%w: key_id is required", ErrInvalidRecord)
	case rec.CollectorID == "":
		return fmt.Errorf("%w: collector_id is required", ErrInvalidRecord)
	}
	return nil
}

// Store persists a copy of rec and assigns rec.ID. No other field of rec is modified.
func (s *Service) Store(ctx context.Context, rec *types.EvidenceRecord) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	id, err := s.backend.Insert(ctx, rec.Clone())
	if err != nil {
		return 0, fmt.Errorf("failed to store evidence: %w", err)
	}
	rec.ID = id

	s.logger.Debug().
		Int64("recordId", id).
		Str("deviceId", rec.DeviceID).
		Int64("sequenceNo", rec.SequenceNo).
		Str("keyId", rec.KeyID).
		Msg("Evidence stored")
	return id, nil
}

// ListAll returns non-secret summaries in insertion order
func (s *Service) ListAll(ctx context.Context) ([]types.RecordSummary, error) {
	return s.backend.List(ctx)
}

// GetRaw returns the full stored record
func (s *Service) GetRaw(ctx context.Context, id int64) (*types.EvidenceRecord, error) {
	return s.backend.Get(ctx, id)
}

// Tamper corrupts a stored record for detection drills. It reports false for an
// unknown id or mode.
func (s *Service) Tamper(ctx context.Context, id int64, mode types.TamperMode) (bool, error) {
	if mode != types.TamperCorruptCiphertext && mode != types.TamperCorruptHash {
		return false, nil
	}
	unlock := s.lock(id)
	defer unlock()

	rec, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load record %d: %w", id, err)
	}

	patch := types.RecordPatch{Verified: false, Tampered: true}
	switch mode {
	case types.TamperCorruptCiphertext:
		blob := bytes.Clone(rec.EncryptedBlob)
		if len(blob) > 0 {
			blob[0]++
		}
		patch.EncryptedBlob = blob
	case types.TamperCorruptHash:
		placeholder := types.TamperedHashPlaceholder
		patch.EventHash = &placeholder
	}

	if err := s.backend.Update(ctx, id, patch); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to tamper record %d: %w", id, err)
	}

	s.logger.Warn().Int64("recordId", id).Str("mode", string(mode)).Msg("Record tampered")
	event := audit.NewAuditEvent(audit.EventTypeEvidenceTamper, audit.OperationTamper)
	event.KeyID = rec.KeyID
	event.Metadata = map[string]interface{}{"mode": string(mode)}
	s.logAuditEvent(audit.WithRecordID(ctx, id), event)
	return true, nil
}

// Verify decrypts and re-hashes one record and persists the resulting flags.
// Tamper outcomes are reported in the result; the error return is reserved for
// infrastructure failures.
func (s *Service) Verify(ctx context.Context, id int64, keys interfaces.KeyResolver) (types.VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.Verify", trace.WithAttributes(attribute.Int64("evidence.record_id", id)))
	defer span.End()

	res, err := s.verify(ctx, id, keys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Bool("evidence.ok", res.OK), attribute.String("evidence.reason", string(res.Reason)))
	return res, nil
}

func (s *Service) verify(ctx context.Context, id int64, keys interfaces.KeyResolver) (types.VerificationResult, error) {
	res := types.VerificationResult{ID: id}
	if keys == nil {
		return res, fmt.Errorf("key resolver is required")
	}

	unlock := s.lock(id)
	defer unlock()

	rec, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		res.Reason = types.ReasonNotFound
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to load record %d: %w", id, err)
	}

	plaintext, openErr := s.open(ctx, rec, keys)
	if openErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.Reason = types.ReasonDecryptionFailed
		res.Error = openErr.Error()
		return res, s.setFlags(ctx, id, false)
	}

	res.ComputedHash = canonical.Digest(plaintext)
	res.StoredHash = rec.EventHash
	res.OK = res.ComputedHash == rec.EventHash
	if !res.OK {
		res.Reason = types.ReasonHashMismatch
	}
	return res, s.setFlags(ctx, id, res.OK)
}

// open resolves the key and authenticates the ciphertext against the collector id
func (s *Service) open(ctx context.Context, rec *types.EvidenceRecord, keys interfaces.KeyResolver) ([]byte, error) {
	key, err := keys.GetKey(ctx, rec.KeyID)
	if err != nil {
		return nil, err
	}
	return seal.Open(key, rec.Nonce, rec.EncryptedBlob, []byte(rec.CollectorID))
}

func (s *Service) setFlags(ctx context.Context, id int64, ok bool) error {
	if err := s.backend.Update(ctx, id, types.RecordPatch{Verified: ok, Tampered: !ok}); err != nil {
		return fmt.Errorf("failed to persist verification flags for record %d: %w", id, err)
	}
	return nil
}

// VerifyAll verifies every record. Records are checked in parallel and the
// results are reported in ascending id order. A failed record never aborts the
// run; an infrastructure error does.
func (s *Service) VerifyAll(ctx context.Context, keys interfaces.KeyResolver) (*types.VerificationReport, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.VerifyAll")
	defer span.End()

	report, err := s.verifyAll(ctx, keys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logAuditEvent(ctx, audit.Fail(audit.NewAuditEvent(audit.EventTypeEvidenceVerifyAll, audit.OperationVerify), err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("evidence.total", report.Total),
		attribute.Int("evidence.ok", report.OK),
		attribute.Int("evidence.bad", report.Bad),
	)
	s.logger.Info().
		Int("total", report.Total).
		Int("ok", report.OK).
		Int("bad", report.Bad).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("Verification run completed")

	event := audit.NewAuditEvent(audit.EventTypeEvidenceVerifyAll, audit.OperationVerify)
	event.Metadata = map[string]interface{}{"total": report.Total, "ok": report.OK, "bad": report.Bad}
	s.logAuditEvent(ctx, event)
	return report, nil
}

func (s *Service) verifyAll(ctx context.Context, keys interfaces.KeyResolver) (report *types.VerificationReport, err error) {
	started := time.Now().UTC()
	ids, err := s.backend.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}

	if s.coordinator == nil {
		return s.verifyIDs(ctx, ids, keys, started, func() {})
	}

	runID := uuid.New().String()
	runCtx, err := s.coordinator.Start(ctx, runID, audit.EventTypeEvidenceVerifyAll, len(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to start verification run: %w", err)
	}
	defer func() { s.coordinator.Finish(runID, err) }()
	return s.verifyIDs(runCtx, ids, keys, started, func() { s.coordinator.Step(runID) })
}

func (s *Service) verifyIDs(ctx context.Context, ids []int64, keys interfaces.KeyResolver, started time.Time, step func()) (*types.VerificationReport, error) {
	results := make([]types.VerificationResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.verifyConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Verify(gctx, id, keys)
			if err != nil {
				return err
			}
			results[i] = res
			step()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &types.VerificationReport{StartedAt: started, Results: make([]types.VerificationResult, 0, len(ids))}
	for _, res := range results {
		report.Add(res)
	}
	report.CompletedAt = time.Now().UTC()
	return report, nil
}

func (s *Service) logAuditEvent(ctx context.Context, event *types.AuditEvent) {
	if s.auditLogger == nil {
		return
	}
	if err := s.auditLogger.LogEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("eventType", event.EventType).Msg("Failed to log audit event")
	}
}

// Close releases the backend
func (s *Service) Close() error {
	return s.backend.Close()
}
