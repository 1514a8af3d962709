package evidence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/canonical"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/coordinator"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/dek"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence/store/memory"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence/store/sqlite"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/seal"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const testCollector = "collector-01"

func newKeys(t *testing.T) *dek.Service {
	t.Helper()
	ctx := context.Background()
	provider, err := kms.NewEphemeralProvider(ctx)
	require.NoError(t, err)
	keys, err := dek.NewService(ctx, provider, nil, nil, types.KeyConfig{}, zerolog.Nop())
	require.NoError(t, err)
	return keys
}

func testEvent(i int) types.Event {
	return types.Event{
		DeviceID:   fmt.Sprintf("dev-%03d", i),
		DeviceType: types.DeviceTraffic,
		EventType:  "vehicle_count",
		Payload:    types.NewTrafficPayload(1+i%4, i, 42.5),
		EventTS:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(i) * time.Second),
	}
}

// sealRecord builds a record the way the collector does
func sealRecord(t *testing.T, keys *dek.Service, ev types.Event, seq int64) *types.EvidenceRecord {
	t.Helper()
	ctx := context.Background()
	plaintext, hash, err := canonical.EventHash(ev)
	require.NoError(t, err)
	key, err := keys.ActiveKey(ctx)
	require.NoError(t, err)
	nonce, err := keys.FreshNonce()
	require.NoError(t, err)
	blob, err := seal.Seal(key, nonce, plaintext, []byte(testCollector))
	require.NoError(t, err)

	now := time.Now().UTC()
	return &types.EvidenceRecord{
		DeviceID:      ev.DeviceID,
		DeviceType:    ev.DeviceType,
		EventType:     ev.EventType,
		EventHash:     hash,
		CollectorTS:   now,
		SequenceNo:    seq,
		EncryptedBlob: blob,
		Nonce:         nonce,
		KeyID:         key.ID,
		CollectorID:   testCollector,
		Metadata: types.CustodyMetadata{
			DeviceID:    ev.DeviceID,
			DeviceType:  ev.DeviceType,
			EventType:   ev.EventType,
			EventTS:     ev.EventTS,
			CollectorID: testCollector,
			CollectorTS: now,
			SequenceNo:  seq,
		},
	}
}

func storeN(t *testing.T, s *Service, keys *dek.Service, n int) []int64 {
	t.Helper()
	var ids []int64
	for i := 1; i <= n; i++ {
		id, err := s.Store(context.Background(), sealRecord(t, keys, testEvent(i), int64(i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestStoreAndVerify(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())

	rec := sealRecord(t, keys, testEvent(1), 1)
	before := rec.Clone()
	id, err := s.Store(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, id, rec.ID)
	before.ID = id
	assert.Equal(t, before, rec, "only the id is assigned")

	res, err := s.Verify(ctx, id, keys)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Reason)
	assert.Equal(t, rec.EventHash, res.ComputedHash)
	assert.Equal(t, rec.EventHash, res.StoredHash)

	raw, err := s.GetRaw(ctx, id)
	require.NoError(t, err)
	assert.True(t, raw.Verified)
	assert.False(t, raw.Tampered)

	list, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.KeyID, list[0].KeyID)
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	keys := newKeys(t)
	s := NewService(memory.New())

	cases := map[string]func(r *types.EvidenceRecord){
		"no device":    func(r *types.EvidenceRecord) { r.DeviceID = "" },
		"no hash":      func(r *types.EvidenceRecord) { r.EventHash = "" },
		"no blob":      func(r *types.EvidenceRecord) { r.EncryptedBlob = nil },
		"short nonce":  func(r *types.EvidenceRecord) { r.Nonce = r.Nonce[:8] },
		"no key":       func(r *types.EvidenceRecord) { r.KeyID = "" },
		"no collector": func(r *types.EvidenceRecord) { r.CollectorID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := sealRecord(t, keys, testEvent(1), 1)
			mutate(rec)
			_, err := s.Store(context.Background(), rec)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}

	_, err := s.Store(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestVerifyBindsCollectorID(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())

	rec := sealRecord(t, keys, testEvent(1), 1)
	rec.CollectorID = "collector-02"
	id, err := s.Store(ctx, rec)
	require.NoError(t, err)

	res, err := s.Verify(ctx, id, keys)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, types.ReasonDecryptionFailed, res.Reason)
	assert.Contains(t, res.Error, "decryption failed")
}

func TestTamperCorruptCiphertext(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())
	id := storeN(t, s, keys, 1)[0]

	original, err := s.GetRaw(ctx, id)
	require.NoError(t, err)

	ok, err := s.Tamper(ctx, id, types.TamperCorruptCiphertext)
	require.NoError(t, err)
	assert.True(t, ok)

	raw, err := s.GetRaw(ctx, id)
	require.NoError(t, err)
	assert.True(t, raw.Tampered)
	assert.False(t, raw.Verified)
	assert.Equal(t, original.EncryptedBlob[0]+1, raw.EncryptedBlob[0])
	assert.Equal(t, original.EncryptedBlob[1:], raw.EncryptedBlob[1:])
	assert.Equal(t, original.EventHash, raw.EventHash)

	res, err := s.Verify(ctx, id, keys)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, types.ReasonDecryptionFailed, res.Reason)
}

func TestTamperCorruptHash(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())
	id := storeN(t, s, keys, 1)[0]

	original, err := s.GetRaw(ctx, id)
	require.NoError(t, err)

	ok, err := s.Tamper(ctx, id, types.TamperCorruptHash)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := s.Verify(ctx, id, keys)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, types.ReasonHashMismatch, res.Reason)
	assert.Equal(t, types.TamperedHashPlaceholder, res.StoredHash)
	assert.Equal(t, original.EventHash, res.ComputedHash)

	raw, err := s.GetRaw(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.EncryptedBlob, raw.EncryptedBlob)
	assert.True(t, raw.Tampered)
}

func TestTamperUnknownIDOrMode(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())
	id := storeN(t, s, keys, 1)[0]

	ok, err := s.Tamper(ctx, 404, types.TamperCorruptCiphertext)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Tamper(ctx, id, types.TamperMode("shuffle"))
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := s.GetRaw(ctx, id)
	require.NoError(t, err)
	assert.False(t, raw.Tampered)
}

func TestVerifyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())
	ids := storeN(t, s, keys, 2)

	_, err := s.Tamper(ctx, ids[1], types.TamperCorruptHash)
	require.NoError(t, err)

	for _, id := range ids {
		first, err := s.Verify(ctx, id, keys)
		require.NoError(t, err)
		second, err := s.Verify(ctx, id, keys)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())

	rec := sealRecord(t, keys, testEvent(1), 1)
	rec.KeyID = "key-99"
	id, err := s.Store(ctx, rec)
	require.NoError(t, err)

	res, err := s.Verify(ctx, id, keys)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, types.ReasonDecryptionFailed, res.Reason)
	assert.Contains(t, res.Error, "key not found")
}

func TestVerifyAfterRotation(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())

	first := storeN(t, s, keys, 1)[0]
	_, err := keys.Rotate(ctx)
	require.NoError(t, err)
	second, err := s.Store(ctx, sealRecord(t, keys, testEvent(2), 2))
	require.NoError(t, err)

	for _, id := range []int64{first, second} {
		res, err := s.Verify(ctx, id, keys)
		require.NoError(t, err)
		assert.True(t, res.OK, "record %d", id)
	}
}

func TestVerifyNotFound(t *testing.T) {
	s := NewService(memory.New())
	res, err := s.Verify(context.Background(), 404, newKeys(t))
	require.NoError(t, err)
	assert.Equal(t, types.VerificationResult{ID: 404, Reason: types.ReasonNotFound}, res)
}

func TestVerifyRequiresResolver(t *testing.T) {
	s := NewService(memory.New())
	_, err := s.Verify(context.Background(), 1, nil)
	assert.ErrorContains(t, err, "key resolver is required")
}

func TestVerifyAll(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	coord := coordinator.NewCoordinator(0)
	auditLogger := audit.NewMemoryAuditLogger()

	s := NewService(memory.New(),
		WithTracerProvider(tp),
		WithCoordinator(coord),
		WithAuditLogger(auditLogger),
		WithVerifyConcurrency(3),
	)
	ids := storeN(t, s, keys, 5)

	for _, id := range []int64{ids[1], ids[3]} {
		ok, err := s.Tamper(ctx, id, types.TamperCorruptCiphertext)
		require.NoError(t, err)
		require.True(t, ok)
	}

	report, err := s.VerifyAll(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.OK)
	assert.Equal(t, 2, report.Bad)
	require.Len(t, report.Results, 5)
	for i, res := range report.Results {
		assert.Equal(t, ids[i], res.ID)
		tampered := i == 1 || i == 3
		assert.Equal(t, !tampered, res.OK)
		if tampered {
			assert.Equal(t, types.ReasonDecryptionFailed, res.Reason)
		}
	}
	assert.False(t, report.CompletedAt.Before(report.StartedAt))

	runs := coord.List()
	require.Len(t, runs, 1)
	assert.Equal(t, coordinator.StatusCompleted, runs[0].Status)
	assert.Equal(t, 5, runs[0].Done)
	assert.Equal(t, 1.0, runs[0].Progress())

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["evidence.VerifyAll"])
	assert.Equal(t, 5, names["evidence.Verify"])

	events, err := auditLogger.GetEvents(ctx, map[string]interface{}{"eventType": audit.EventTypeEvidenceVerifyAll})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.StatusSuccess, events[0].Status)

	tampers, err := auditLogger.GetEvents(ctx, map[string]interface{}{"eventType": audit.EventTypeEvidenceTamper})
	require.NoError(t, err)
	assert.Len(t, tampers, 2)
}

func TestVerifyAllEmpty(t *testing.T) {
	s := NewService(memory.New())
	report, err := s.VerifyAll(context.Background(), newKeys(t))
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Results)
}

func TestVerifyAllCancelled(t *testing.T) {
	keys := newKeys(t)
	auditLogger := audit.NewMemoryAuditLogger()
	s := NewService(memory.New(), WithAuditLogger(auditLogger))
	storeN(t, s, keys, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.VerifyAll(ctx, keys)
	assert.ErrorIs(t, err, context.Canceled)

	events, err := auditLogger.GetEvents(context.Background(), map[string]interface{}{"status": audit.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestConcurrentTamperAndVerify(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	s := NewService(memory.New())
	ids := storeN(t, s, keys, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range ids {
			_, _ = s.Tamper(ctx, id, types.TamperCorruptHash)
		}
	}()
	_, err := s.VerifyAll(ctx, keys)
	require.NoError(t, err)
	<-done

	report, err := s.VerifyAll(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Bad)

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks, "record locks are released once no caller holds them")
}

func TestVerifyAllOnSQLite(t *testing.T) {
	ctx := context.Background()
	keys := newKeys(t)
	backend, err := sqlite.Open(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	s := NewService(backend, WithVerifyConcurrency(8))
	ids := storeN(t, s, keys, 60)

	ok, err := s.Tamper(ctx, ids[10], types.TamperCorruptCiphertext)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Tamper(ctx, ids[41], types.TamperCorruptHash)
	require.NoError(t, err)
	require.True(t, ok)

	for round := 0; round < 3; round++ {
		report, err := s.VerifyAll(ctx, keys)
		require.NoError(t, err, "round %d", round)
		assert.Equal(t, 60, report.Total)
		assert.Equal(t, 58, report.OK)
		assert.Equal(t, 2, report.Bad)
	}

	rec, err := s.GetRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}
