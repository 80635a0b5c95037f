// Package session implements the post-handshake AEAD duplex: one session
// per peer, directional keys, strictly monotonic nonce counters, and
// age/volume bounds after which the session must be re-established.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peerwave/peerwave/internal/crypto"
)

// Session errors.
var (
	ErrExpired   = errors.New("session: expired")
	ErrExhausted = errors.New("session: message count exhausted")
	ErrNoSession = errors.New("session: no session for peer")
	ErrBadExport = errors.New("session: invalid export blob")
)

// Bounds, overridable per manager.
const (
	DefaultMaxAge      = 24 * time.Hour
	DefaultMaxMessages = 1_000_000
)

// Session is an established AEAD duplex with a peer. Safe for concurrent
// use; the counters are guarded by the mutex.
type Session struct {
	mu sync.Mutex

	peerID  string
	sendKey []byte
	recvKey []byte
	sendCtr crypto.NonceCounter
	recvCtr crypto.NonceCounter

	createdAt    time.Time
	messageCount uint64
	maxAge       time.Duration
	maxMessages  uint64

	now func() time.Time
}

// New creates a session from handshake-derived keys.
func New(peerID string, sendKey, recvKey []byte, maxAge time.Duration, maxMessages uint64) *Session {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if maxMessages == 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Session{
		peerID:      peerID,
		sendKey:     sendKey,
		recvKey:     recvKey,
		createdAt:   time.Now(),
		maxAge:      maxAge,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// checkUsableLocked enforces the age and volume bounds.
func (s *Session) checkUsableLocked() error {
	if s.now().Sub(s.createdAt) > s.maxAge {
		return ErrExpired
	}
	if s.messageCount >= s.maxMessages {
		return ErrExhausted
	}
	return nil
}

// Encrypt seals plaintext under the send key with the next send nonce.
// It fails once the session is expired or exhausted; the caller must then
// discard the session and re-handshake.
func (s *Session) Encrypt(plaintext, aad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsableLocked(); err != nil {
		return nil, err
	}
	ctr, err := s.sendCtr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	nonce := crypto.SessionNonce(ctr)
	ct, err := crypto.SealX(s.sendKey, nonce[:], aad, plaintext)
	if err != nil {
		return nil, err
	}
	s.messageCount++
	return ct, nil
}

// Decrypt opens ciphertext under the recv key with the next recv nonce.
// Authentication failure returns crypto.ErrDecryptionFailed without
// advancing the counter, so the caller can treat the frame as not ours.
func (s *Session) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsableLocked(); err != nil {
		return nil, err
	}
	nonce := crypto.SessionNonce(s.recvCtr.Value())
	pt, err := crypto.OpenX(s.recvKey, nonce[:], aad, ciphertext)
	if err != nil {
		return nil, err
	}
	if _, err := s.recvCtr.Next(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	s.messageCount++
	return pt, nil
}

// PeerID returns the peer this session is keyed to.
func (s *Session) PeerID() string {
	return s.peerID
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.createdAt)
}

// MessageCount returns messages processed in both directions.
func (s *Session) MessageCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// Usable reports whether the session can still encrypt.
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkUsableLocked() == nil
}

// exportVersion tags the serialized session layout.
const exportVersion = 1

// exportSize: version(1) + keys(2*32) + counters(2*8) + created_ms(8) + count(8)
const exportSize = 1 + 2*crypto.KeySize + 8 + 8 + 8 + 8

// Export serializes the key material and both counters so an equivalent
// session can be reconstituted later.
func (s *Session) Export() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, exportSize)
	buf = append(buf, exportVersion)
	buf = append(buf, s.sendKey...)
	buf = append(buf, s.recvKey...)
	buf = binary.BigEndian.AppendUint64(buf, s.sendCtr.Value())
	buf = binary.BigEndian.AppendUint64(buf, s.recvCtr.Value())
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.createdAt.UnixMilli()))
	buf = binary.BigEndian.AppendUint64(buf, s.messageCount)
	return buf
}

// Import reconstitutes a session from an Export blob with identical
// counter state.
func Import(peerID string, data []byte, maxAge time.Duration, maxMessages uint64) (*Session, error) {
	if len(data) != exportSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadExport, len(data))
	}
	if data[0] != exportVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadExport, data[0])
	}

	s := New(peerID, nil, nil, maxAge, maxMessages)
	off := 1
	s.sendKey = append([]byte{}, data[off:off+crypto.KeySize]...)
	off += crypto.KeySize
	s.recvKey = append([]byte{}, data[off:off+crypto.KeySize]...)
	off += crypto.KeySize
	s.sendCtr.Set(binary.BigEndian.Uint64(data[off:]))
	off += 8
	s.recvCtr.Set(binary.BigEndian.Uint64(data[off:]))
	off += 8
	s.createdAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[off:])))
	off += 8
	s.messageCount = binary.BigEndian.Uint64(data[off:])
	return s, nil
}
