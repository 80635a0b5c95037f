// Package crypto wraps the cryptographic primitives used by the handshake
// and session layers: HKDF-SHA-256 key derivation, ChaCha20-Poly1305 AEAD,
// and X25519 key agreement. Everything here defers to golang.org/x/crypto
// and the standard library; no primitive is hand-rolled.
package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashLength is the SHA-256 output length.
const HashLength = 32

// MaxOutputLength is the RFC 5869 expand bound: 255 * HashLength.
const MaxOutputLength = 255 * HashLength

// Extract performs HKDF-Extract(salt, ikm) and returns the pseudorandom key.
func Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}

// Expand performs HKDF-Expand(prk, info, length). Length must not exceed
// MaxOutputLength.
func Expand(prk, info []byte, length int) ([]byte, error) {
	if length < 0 || length > MaxOutputLength {
		return nil, fmt.Errorf("hkdf: output length %d out of range [0,%d]", length, MaxOutputLength)
	}
	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), okm); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return okm, nil
}

// Derive composes Extract and Expand.
func Derive(ikm, salt, info []byte, length int) ([]byte, error) {
	return Expand(Extract(salt, ikm), info, length)
}

// DeriveMultiple produces independent keys from a single extract-and-expand
// over the summed length, slicing the output. The concatenation of the
// returned keys equals Derive(ikm, salt, info, sum(lengths)).
func DeriveMultiple(ikm, salt, info []byte, lengths []int) ([][]byte, error) {
	total := 0
	for _, n := range lengths {
		if n < 0 {
			return nil, fmt.Errorf("hkdf: negative key length %d", n)
		}
		total += n
	}
	okm, err := Derive(ikm, salt, info, total)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, len(lengths))
	off := 0
	for i, n := range lengths {
		keys[i] = okm[off : off+n : off+n]
		off += n
	}
	return keys, nil
}
