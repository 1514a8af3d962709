package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence/store/storetest"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.RecordBackend { return New() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := storetest.Record(1)
	id, err := s.Insert(ctx, in)
	require.NoError(t, err)
	in.EncryptedBlob[0] = 0xaa

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), got.EncryptedBlob[0])

	got.EncryptedBlob[0] = 0xbb
	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), again.EncryptedBlob[0])
}

func TestMemoryStoreClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.IDs(context.Background())
	assert.Error(t, err)
}
