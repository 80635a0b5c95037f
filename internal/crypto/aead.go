package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD errors. ErrDecryptionFailed deliberately carries no detail about
// why authentication failed.
var (
	ErrEncryptionFailed = errors.New("crypto: encryption failed")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// KeySize is the ChaCha20-Poly1305 key length.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the RFC 8439 nonce length used by the primitive surface.
const NonceSize = chacha20poly1305.NonceSize

// NonceSizeX is the XChaCha20-Poly1305 nonce length used by sessions.
const NonceSizeX = chacha20poly1305.NonceSizeX

// TagSize is the Poly1305 authentication tag length.
const TagSize = chacha20poly1305.Overhead

// Seal encrypts plaintext under key with a 12-byte nonce and returns
// ciphertext with the tag appended.
func Seal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrEncryptionFailed, NonceSize)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and authenticates ciphertext produced by Seal. Any tag
// failure returns ErrDecryptionFailed with no further distinction.
func Open(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealX encrypts with XChaCha20-Poly1305 under a 24-byte nonce.
func SealX(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if len(nonce) != NonceSizeX {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrEncryptionFailed, NonceSizeX)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// OpenX decrypts XChaCha20-Poly1305 ciphertext produced by SealX.
func OpenX(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(nonce) != NonceSizeX {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
