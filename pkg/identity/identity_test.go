package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerwave/peerwave/pkg/store"
	"github.com/peerwave/peerwave/pkg/store/memory"
)

func TestLoadOrCreatePersists(t *testing.T) {
	s := memory.NewMemoryStore()

	_, err := Load(s)
	assert.ErrorIs(t, err, store.ErrNotFound)

	id1, err := LoadOrCreate(s)
	require.NoError(t, err)
	assert.Len(t, id1.PeerID, 64)

	// A second load returns the same identity.
	id2, err := LoadOrCreate(s)
	require.NoError(t, err)
	assert.Equal(t, id1.PeerID, id2.PeerID)
	assert.Equal(t, id1.KeyPair.Public, id2.KeyPair.Public)
}

func TestLoadRejectsCorruptIdentity(t *testing.T) {
	s := memory.NewMemoryStore()
	require.NoError(t, s.Set(StorageKey, []byte("garbage")))

	_, err := Load(s)
	assert.Error(t, err)
}
