// Package sqlite provides a SQLite-backed evidence record backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	_ "modernc.org/sqlite"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const schema = `CREATE TABLE IF NOT EXISTS evidence (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id      TEXT NOT NULL,
	device_type    TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_hash     TEXT NOT NULL,
	collector_ts   INTEGER NOT NULL,
	sequence_no    INTEGER NOT NULL,
	prev_hash      TEXT,
	encrypted_blob BLOB NOT NULL,
	nonce          BLOB NOT NULL,
	key_id         TEXT NOT NULL,
	collector_id   TEXT NOT NULL,
	verified       INTEGER NOT NULL DEFAULT 0,
	tampered       INTEGER NOT NULL DEFAULT 0,
	metadata       TEXT NOT NULL DEFAULT '{}'
)`

const summaryColumns = `id, device_id, device_type, event_type, event_hash, collector_ts,
	sequence_no, prev_hash, key_id, collector_id, verified, tampered`

// Store persists evidence records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ interfaces.RecordBackend = (*Store)(nil)

func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

// Open opens a SQLite evidence store and creates its table.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// single connection; concurrent callers queue on the pool
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{sqlDB: sqlDB}
	if err := s.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.sqlDB.ExecContext(ctx, schema)
	return err
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func encodeMetadata(m types.CustodyMetadata) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return string(canon), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Insert persists rec in a single statement and returns the new id.
func (s *Store) Insert(ctx context.Context, rec *types.EvidenceRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	var prevHash sql.NullString
	if rec.PrevHash != nil {
		prevHash = sql.NullString{String: *rec.PrevHash, Valid: true}
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO evidence (
		   device_id, device_type, event_type, event_hash, collector_ts, sequence_no,
		   prev_hash, encrypted_blob, nonce, key_id, collector_id, verified, tampered, metadata
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DeviceID,
		string(rec.DeviceType),
		rec.EventType,
		rec.EventHash,
		toNanos(rec.CollectorTS),
		rec.SequenceNo,
		prevHash,
		rec.EncryptedBlob,
		rec.Nonce,
		rec.KeyID,
		rec.CollectorID,
		boolToInt(rec.Verified),
		boolToInt(rec.Tampered),
		metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("insert evidence: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read evidence id: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (types.RecordSummary, error) {
	var (
		sum         types.RecordSummary
		deviceType  string
		collectorTS int64
		prevHash    sql.NullString
		verified    int
		tampered    int
	)
	if err := row.Scan(
		&sum.ID, &sum.DeviceID, &deviceType, &sum.EventType, &sum.EventHash, &collectorTS,
		&sum.SequenceNo, &prevHash, &sum.KeyID, &sum.CollectorID, &verified, &tampered,
	); err != nil {
		return types.RecordSummary{}, err
	}
	sum.DeviceType = types.DeviceType(deviceType)
	sum.CollectorTS = fromNanos(collectorTS)
	if prevHash.Valid {
		v := prevHash.String
		sum.PrevHash = &v
	}
	sum.Verified = verified != 0
	sum.Tampered = tampered != 0
	return sum, nil
}

// List returns summaries in ascending id order.
func (s *Store) List(ctx context.Context) ([]types.RecordSummary, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+summaryColumns+` FROM evidence ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []types.RecordSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}

// IDs returns every id in ascending order.
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM evidence ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list evidence ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan evidence id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence ids: %w", err)
	}
	return ids, nil
}

// Get returns the full record.
func (s *Store) Get(ctx context.Context, id int64) (*types.EvidenceRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+summaryColumns+`, encrypted_blob, nonce, metadata FROM evidence WHERE id = ?`, id)

	var (
		deviceType  string
		collectorTS int64
		prevHash    sql.NullString
		verified    int
		tampered    int
		metadata    string
		rec         types.EvidenceRecord
	)
	err := row.Scan(
		&rec.ID, &rec.DeviceID, &deviceType, &rec.EventType, &rec.EventHash, &collectorTS,
		&rec.SequenceNo, &prevHash, &rec.KeyID, &rec.CollectorID, &verified, &tampered,
		&rec.EncryptedBlob, &rec.Nonce, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", types.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}

	rec.DeviceType = types.DeviceType(deviceType)
	rec.CollectorTS = fromNanos(collectorTS)
	if prevHash.Valid {
		v := prevHash.String
		rec.PrevHash = &v
	}
	rec.Verified = verified != 0
	rec.Tampered = tampered != 0
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &rec, nil
}

// Update applies patch to one record.
func (s *Store) Update(ctx context.Context, id int64, patch types.RecordPatch) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	set := []string{"verified = ?", "tampered = ?"}
	args := []any{boolToInt(patch.Verified), boolToInt(patch.Tampered)}
	if patch.EncryptedBlob != nil {
		set = append(set, "encrypted_blob = ?")
		args = append(args, patch.EncryptedBlob)
	}
	if patch.EventHash != nil {
		set = append(set, "event_hash = ?")
		args = append(args, *patch.EventHash)
	}
	args = append(args, id)

	res, err := s.sqlDB.ExecContext(ctx, `UPDATE evidence SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update evidence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update evidence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", types.ErrRecordNotFound, id)
	}
	return nil
}
