// Package memory is an in-process record backend for tests and ephemeral runs
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// Store holds records in insertion order. All reads return deep copies.
type Store struct {
	mu      sync.RWMutex
	records []*types.EvidenceRecord
	index   map[int64]int
	nextID  int64
	closed  bool
}

var _ interfaces.RecordBackend = (*Store)(nil)

// New returns an empty store whose first id is 1
func New() *Store {
	return &Store{index: make(map[int64]int), nextID: 1}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

// Insert stores a copy of rec under the next id
func (s *Store) Insert(ctx context.Context, rec *types.EvidenceRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	cp := rec.Clone()
	cp.ID = s.nextID
	s.nextID++
	s.index[cp.ID] = len(s.records)
	s.records = append(s.records, cp)
	return cp.ID, nil
}

// List returns summaries in ascending id order
func (s *Store) List(ctx context.Context) ([]types.RecordSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]types.RecordSummary, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Summary())
	}
	return out, nil
}

// IDs returns every id in ascending order
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(s.records))
	for _, r := range s.records {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Get returns a copy of the record
func (s *Store) Get(ctx context.Context, id int64) (*types.EvidenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrRecordNotFound, id)
	}
	return s.records[i].Clone(), nil
}

// Update applies patch in place
func (s *Store) Update(ctx context.Context, id int64, patch types.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", types.ErrRecordNotFound, id)
	}
	r := s.records[i]
	if patch.EncryptedBlob != nil {
		r.EncryptedBlob = append([]byte(nil), patch.EncryptedBlob...)
	}
	if patch.EventHash != nil {
		r.EventHash = *patch.EventHash
	}
	r.Verified = patch.Verified
	r.Tampered = patch.Tampered
	return nil
}

// Close marks the store closed; later calls fail
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
