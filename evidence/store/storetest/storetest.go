// Package storetest holds the behaviour every interfaces.RecordBackend must share
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// Record returns a fully populated record with binary fields that do not survive text re-encoding
func Record(seq int64) *types.EvidenceRecord {
	prev := "aa11"
	ts := time.Date(2024, 3, 4, 5, 6, 7, 891011121, time.UTC)
	blob := []byte{0x00, 0xff, 0x10, 0x80, 0x00, 0x7f, byte(seq)}
	nonce := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 0xfe, 0xff}
	return &types.EvidenceRecord{
		DeviceID:      "dev-001",
		DeviceType:    types.DeviceCCTV,
		EventType:     "motion_detected",
		EventHash:     "0f0e",
		CollectorTS:   ts,
		SequenceNo:    seq,
		PrevHash:      &prev,
		EncryptedBlob: blob,
		Nonce:         nonce,
		KeyID:         "key-1",
		CollectorID:   "collector-01",
		Metadata: types.CustodyMetadata{
			DeviceID:    "dev-001",
			DeviceType:  types.DeviceCCTV,
			EventType:   "motion_detected",
			EventTS:     ts.Add(-time.Second),
			CollectorID: "collector-01",
			CollectorTS: ts,
			SequenceNo:  seq,
			PrevHash:    &prev,
		},
	}
}

// Run exercises backend through the RecordBackend contract
func Run(t *testing.T, newBackend func(t *testing.T) interfaces.RecordBackend) {
	t.Run("InsertAndGetLossless", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		in := Record(1)
		id, err := b.Insert(ctx, in)
		require.NoError(t, err)
		assert.Positive(t, id)

		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, in.EncryptedBlob, got.EncryptedBlob)
		assert.Equal(t, in.Nonce, got.Nonce)
		assert.True(t, in.CollectorTS.Equal(got.CollectorTS))
		require.NotNil(t, got.PrevHash)
		assert.Equal(t, *in.PrevHash, *got.PrevHash)
		assert.Equal(t, in.KeyID, got.KeyID)
		assert.Equal(t, in.CollectorID, got.CollectorID)
		assert.Equal(t, in.Metadata.SequenceNo, got.Metadata.SequenceNo)
		assert.Equal(t, in.Metadata.CollectorID, got.Metadata.CollectorID)
		assert.True(t, in.Metadata.EventTS.Equal(got.Metadata.EventTS))
		assert.True(t, in.Metadata.CollectorTS.Equal(got.Metadata.CollectorTS))
		assert.False(t, got.Verified)
		assert.False(t, got.Tampered)
	})

	t.Run("AbsentPrevHash", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		in := Record(1)
		in.PrevHash = nil
		in.Metadata.PrevHash = nil
		id, err := b.Insert(ctx, in)
		require.NoError(t, err)

		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.PrevHash)
	})

	t.Run("ListInInsertionOrder", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		var want []int64
		for seq := int64(1); seq <= 3; seq++ {
			id, err := b.Insert(ctx, Record(seq))
			require.NoError(t, err)
			want = append(want, id)
		}
		assert.Less(t, want[0], want[1])
		assert.Less(t, want[1], want[2])

		ids, err := b.IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, ids)

		list, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, sum := range list {
			assert.Equal(t, want[i], sum.ID)
			assert.Equal(t, int64(i+1), sum.SequenceNo)
		}
	})

	t.Run("UpdatePatch", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		id, err := b.Insert(ctx, Record(1))
		require.NoError(t, err)

		hash := "tampered-hash"
		require.NoError(t, b.Update(ctx, id, types.RecordPatch{EventHash: &hash, Tampered: true}))
		got, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "tampered-hash", got.EventHash)
		assert.True(t, got.Tampered)
		assert.Equal(t, Record(1).EncryptedBlob, got.EncryptedBlob, "nil blob leaves ciphertext unchanged")

		blob := []byte{9, 9, 9}
		require.NoError(t, b.Update(ctx, id, types.RecordPatch{EncryptedBlob: blob, Verified: true}))
		got, err = b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, blob, got.EncryptedBlob)
		assert.Equal(t, "tampered-hash", got.EventHash)
		assert.True(t, got.Verified)
		assert.False(t, got.Tampered)

		// repeating an identical patch still finds the record
		require.NoError(t, b.Update(ctx, id, types.RecordPatch{Verified: true}))
	})

	t.Run("NotFound", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)

		_, err := b.Get(ctx, 404)
		assert.ErrorIs(t, err, types.ErrRecordNotFound)
		assert.ErrorIs(t, b.Update(ctx, 404, types.RecordPatch{}), types.ErrRecordNotFound)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		b := newBackend(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := b.Insert(ctx, Record(1))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
