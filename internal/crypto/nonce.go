package crypto

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrNonceExhausted is returned when a counter would wrap. In practice the
// session message-count bound caps far earlier.
var ErrNonceExhausted = errors.New("crypto: nonce counter exhausted")

// NonceCounter is a strictly monotonic counter for session nonces. The
// zero value starts at zero.
type NonceCounter struct {
	n uint64
}

// Next returns the current counter value and advances it.
func (c *NonceCounter) Next() (uint64, error) {
	if c.n == math.MaxUint64 {
		return 0, ErrNonceExhausted
	}
	v := c.n
	c.n++
	return v, nil
}

// Value returns the current counter without advancing.
func (c *NonceCounter) Value() uint64 {
	return c.n
}

// Set overwrites the counter. Used when importing a serialized session.
func (c *NonceCounter) Set(v uint64) {
	c.n = v
}

// SessionNonce lays a counter into a 24-byte XChaCha20 nonce: the first 16
// bytes stay zero, the counter occupies the last 8 bytes little-endian.
// Which key is in use (send vs recv) disambiguates direction.
func SessionNonce(counter uint64) [NonceSizeX]byte {
	var nonce [NonceSizeX]byte
	binary.LittleEndian.PutUint64(nonce[NonceSizeX-8:], counter)
	return nonce
}
