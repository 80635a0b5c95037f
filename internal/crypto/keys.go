package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// PublicKeySize is the X25519 public key length.
const PublicKeySize = 32

// PrivateKeySize is the X25519 private key length.
const PrivateKeySize = 32

// PublicKey is an X25519 public key.
type PublicKey [PublicKeySize]byte

// PrivateKey is an X25519 private key.
type PrivateKey [PrivateKeySize]byte

// KeyPair holds an X25519 key pair. Used both for long-lived static
// identities and for per-handshake ephemerals.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// GenerateKeyPair creates a fresh X25519 key pair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeyPairFromPrivate reconstructs a key pair from stored private key bytes.
func KeyPairFromPrivate(priv []byte) (KeyPair, error) {
	if len(priv) != PrivateKeySize {
		return KeyPair{}, fmt.Errorf("private key must be %d bytes, have %d", PrivateKeySize, len(priv))
	}
	var kp KeyPair
	copy(kp.Private[:], priv)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret between our private key
// and the remote public key. It fails on a low-order remote point.
func SharedSecret(priv PrivateKey, remote PublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], remote[:])
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return secret, nil
}

// Zero wipes the private key material in place.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}
