// Package identity manages the node's long-lived static key pair. The
// peer id every other node addresses us by is the lowercase hex of the
// static public key.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/peerwave/peerwave/internal/crypto"
	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/pkg/store"
)

// StorageKey is where the static private key lives in the Store.
const StorageKey = "identity/static_key"

// Identity is the local node identity.
type Identity struct {
	KeyPair crypto.KeyPair
	PeerID  string
}

// PeerIDFor derives the canonical peer id from a static public key.
func PeerIDFor(pub crypto.PublicKey) string {
	return hex.EncodeToString(pub[:])
}

// Load reads the identity from the store. Returns store.ErrNotFound when
// none has been created yet.
func Load(s store.Store) (*Identity, error) {
	raw, err := s.Get(StorageKey)
	if err != nil {
		return nil, err
	}
	kp, err := crypto.KeyPairFromPrivate(raw)
	if err != nil {
		return nil, fmt.Errorf("stored identity is corrupt: %w", err)
	}
	return &Identity{KeyPair: kp, PeerID: PeerIDFor(kp.Public)}, nil
}

// LoadOrCreate reads the identity, generating and persisting a fresh one
// on first run.
func LoadOrCreate(s store.Store) (*Identity, error) {
	id, err := Load(s)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := s.Set(StorageKey, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	id = &Identity{KeyPair: kp, PeerID: PeerIDFor(kp.Public)}
	logger.Info("generated new node identity", logger.PeerID(id.PeerID))
	return id, nil
}
