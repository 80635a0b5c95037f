// Package noise implements the pairwise handshake: an XX-style
// three-message exchange over X25519 ephemerals with HKDF-derived
// directional session keys, plus the per-peer pending-handshake manager
// with deterministic tie-breaking for concurrent initiations.
package noise

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/peerwave/peerwave/internal/crypto"
)

// Handshake errors. Any of them is terminal for the attempt: the state
// machine transitions to StateFailed and the session must be retried from
// scratch.
var (
	ErrTooShort     = errors.New("noise: handshake message too short")
	ErrInvalidState = errors.New("noise: message not valid in current state")
	ErrTampered     = errors.New("noise: handshake message failed verification")
	ErrFailed       = errors.New("noise: handshake failed")
)

// Role distinguishes who sent the first message.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is the handshake FSM state.
type State int

const (
	StateIdle State = iota
	StateInitiatorWaiting2
	StateInitiatorWaitingDone
	StateResponderWaiting3
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitiatorWaiting2:
		return "INITIATOR_WAITING_2"
	case StateInitiatorWaitingDone:
		return "INITIATOR_WAITING_DONE"
	case StateResponderWaiting3:
		return "RESPONDER_WAITING_3"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Wire sizes. Messages 2 and 3 append the sender's static key encrypted
// under a key derived from the ephemeral-ephemeral secret, so a passive
// observer never sees a static identity in the clear.
const (
	Message1Size = crypto.PublicKeySize
	Message2Size = crypto.PublicKeySize + crypto.PublicKeySize + crypto.TagSize
	Message3Size = crypto.PublicKeySize + crypto.PublicKeySize + crypto.TagSize
)

// Domain separators for the HKDF key schedule.
var (
	infoInitiatorSend = []byte{0x01} // initiator->responder data
	infoResponderSend = []byte{0x02} // responder->initiator data
	infoStaticToInit  = []byte{0x03} // responder's static blob in message 2
	infoStaticToResp  = []byte{0x04} // initiator's static blob in message 3
)

var staticAAD = []byte("peerwave handshake static")

// Handshake is one endpoint of the three-message exchange. Not safe for
// concurrent use; the Manager serializes access.
type Handshake struct {
	role  Role
	state State

	local     crypto.KeyPair // static identity
	ephemeral crypto.KeyPair

	remoteEphemeral crypto.PublicKey
	remoteStatic    crypto.PublicKey

	sendKey []byte
	recvKey []byte
	encKey  []byte // static-blob key we seal with
	decKey  []byte // static-blob key we open with

	startedAt time.Time
}

// NewInitiator creates the initiator side and returns message 1: the
// fresh ephemeral public key.
func NewInitiator(static crypto.KeyPair) (*Handshake, []byte, error) {
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	h := &Handshake{
		role:      RoleInitiator,
		state:     StateInitiatorWaiting2,
		local:     static,
		ephemeral: eph,
		startedAt: time.Now(),
	}
	msg1 := make([]byte, Message1Size)
	copy(msg1, eph.Public[:])
	return h, msg1, nil
}

// NewResponder creates the responder side. It produces no bytes until
// message 1 arrives.
func NewResponder(static crypto.KeyPair) *Handshake {
	return &Handshake{
		role:      RoleResponder,
		state:     StateIdle,
		local:     static,
		startedAt: time.Now(),
	}
}

// deriveKeys runs the key schedule once both ephemerals are known.
func (h *Handshake) deriveKeys() error {
	secret, err := crypto.SharedSecret(h.ephemeral.Private, h.remoteEphemeral)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}

	initSend, err := crypto.Derive(secret, nil, infoInitiatorSend, crypto.KeySize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	respSend, err := crypto.Derive(secret, nil, infoResponderSend, crypto.KeySize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	staticToInit, err := crypto.Derive(secret, nil, infoStaticToInit, crypto.KeySize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	staticToResp, err := crypto.Derive(secret, nil, infoStaticToResp, crypto.KeySize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}

	if h.role == RoleInitiator {
		h.sendKey, h.recvKey = initSend, respSend
		h.encKey, h.decKey = staticToResp, staticToInit
	} else {
		h.sendKey, h.recvKey = respSend, initSend
		h.encKey, h.decKey = staticToInit, staticToResp
	}
	return nil
}

// ReadMessage1 consumes the initiator's ephemeral on the responder side
// and returns message 2: the responder's ephemeral plus its encrypted
// static key.
func (h *Handshake) ReadMessage1(msg []byte) ([]byte, error) {
	if h.role != RoleResponder || h.state != StateIdle {
		h.fail()
		return nil, ErrInvalidState
	}
	if len(msg) < Message1Size {
		h.fail()
		return nil, fmt.Errorf("%w: message 1 is %d bytes", ErrTooShort, len(msg))
	}
	copy(h.remoteEphemeral[:], msg[:crypto.PublicKeySize])

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		h.fail()
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	h.ephemeral = eph
	if err := h.deriveKeys(); err != nil {
		h.fail()
		return nil, err
	}

	nonce := make([]byte, crypto.NonceSize)
	sealed, err := crypto.Seal(h.encKey, nonce, staticAAD, h.local.Public[:])
	if err != nil {
		h.fail()
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	msg2 := make([]byte, 0, Message2Size)
	msg2 = append(msg2, eph.Public[:]...)
	msg2 = append(msg2, sealed...)

	h.state = StateResponderWaiting3
	return msg2, nil
}

// ReadMessage2 consumes the responder's reply on the initiator side and
// returns message 3: the initiator's ephemeral repeated, plus its
// encrypted static key. The repeat lets the responder bind message 3 to
// the exchange it actually started.
func (h *Handshake) ReadMessage2(msg []byte) ([]byte, error) {
	if h.role != RoleInitiator || h.state != StateInitiatorWaiting2 {
		h.fail()
		return nil, ErrInvalidState
	}
	if len(msg) < Message2Size {
		h.fail()
		return nil, fmt.Errorf("%w: message 2 is %d bytes", ErrTooShort, len(msg))
	}
	copy(h.remoteEphemeral[:], msg[:crypto.PublicKeySize])
	if err := h.deriveKeys(); err != nil {
		h.fail()
		return nil, err
	}

	nonce := make([]byte, crypto.NonceSize)
	staticBytes, err := crypto.Open(h.decKey, nonce, staticAAD, msg[crypto.PublicKeySize:Message2Size])
	if err != nil {
		h.fail()
		return nil, fmt.Errorf("%w: static key blob", ErrTampered)
	}
	copy(h.remoteStatic[:], staticBytes)

	sealed, err := crypto.Seal(h.encKey, nonce, staticAAD, h.local.Public[:])
	if err != nil {
		h.fail()
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	msg3 := make([]byte, 0, Message3Size)
	msg3 = append(msg3, h.ephemeral.Public[:]...)
	msg3 = append(msg3, sealed...)

	h.state = StateInitiatorWaitingDone
	return msg3, nil
}

// ReadMessage3 consumes the confirmation on the responder side. The
// repeated ephemeral must match message 1 byte for byte.
func (h *Handshake) ReadMessage3(msg []byte) error {
	if h.role != RoleResponder || h.state != StateResponderWaiting3 {
		h.fail()
		return ErrInvalidState
	}
	if len(msg) < Message3Size {
		h.fail()
		return fmt.Errorf("%w: message 3 is %d bytes", ErrTooShort, len(msg))
	}
	if subtle.ConstantTimeCompare(msg[:crypto.PublicKeySize], h.remoteEphemeral[:]) != 1 {
		h.fail()
		return fmt.Errorf("%w: ephemeral mismatch", ErrTampered)
	}

	nonce := make([]byte, crypto.NonceSize)
	staticBytes, err := crypto.Open(h.decKey, nonce, staticAAD, msg[crypto.PublicKeySize:Message3Size])
	if err != nil {
		h.fail()
		return fmt.Errorf("%w: static key blob", ErrTampered)
	}
	copy(h.remoteStatic[:], staticBytes)

	h.state = StateComplete
	h.ephemeral.Zero()
	return nil
}

// Finish moves the initiator from WAITING_DONE to COMPLETE once message 3
// has been handed to the transport.
func (h *Handshake) Finish() error {
	if h.role != RoleInitiator || h.state != StateInitiatorWaitingDone {
		h.fail()
		return ErrInvalidState
	}
	h.state = StateComplete
	h.ephemeral.Zero()
	return nil
}

// Keys returns the directional session keys. Only valid once complete.
func (h *Handshake) Keys() (send, recv []byte, err error) {
	if h.state != StateComplete {
		return nil, nil, ErrInvalidState
	}
	return h.sendKey, h.recvKey, nil
}

// RemoteStatic returns the authenticated remote static key once known.
func (h *Handshake) RemoteStatic() crypto.PublicKey {
	return h.remoteStatic
}

// State returns the current FSM state.
func (h *Handshake) State() State {
	return h.state
}

// Role returns which side this endpoint is.
func (h *Handshake) Role() Role {
	return h.role
}

// Elapsed is the time since the handshake started.
func (h *Handshake) Elapsed() time.Duration {
	return time.Since(h.startedAt)
}

// fail wipes key material and parks the FSM in the terminal state.
func (h *Handshake) fail() {
	h.state = StateFailed
	h.ephemeral.Zero()
	h.sendKey, h.recvKey, h.encKey, h.decKey = nil, nil, nil, nil
}
