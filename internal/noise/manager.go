package noise

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/peerwave/peerwave/internal/crypto"
	"github.com/peerwave/peerwave/internal/logger"
)

// Manager-level errors.
var (
	ErrInProgress = errors.New("noise: handshake already in progress")
	ErrTimeout    = errors.New("noise: handshake timed out")
	ErrCancelled  = errors.New("noise: handshake cancelled")
	ErrNoPending  = errors.New("noise: no pending handshake for peer")
)

// DefaultTimeout bounds a pending handshake.
const DefaultTimeout = 30 * time.Second

// Result is a completed handshake: the directional keys and the
// authenticated remote identity.
type Result struct {
	PeerID       string
	SendKey      []byte
	RecvKey      []byte
	RemoteStatic crypto.PublicKey
	Elapsed      time.Duration
}

// Outcome resolves an awaited initiation: exactly one of Result or Err.
type Outcome struct {
	Result *Result
	Err    error
}

// pending tracks the at-most-one handshake attempt per peer.
type pending struct {
	peerID  string
	hs      *Handshake
	timer   *time.Timer
	waiters []chan Outcome
}

// Manager owns every in-flight handshake, keyed by peer id. It enforces
// one pending attempt per peer and resolves concurrent initiations with a
// deterministic identity tie-break.
type Manager struct {
	mu      sync.Mutex
	static  crypto.KeyPair
	localID string // lowercase hex of the static public key
	timeout time.Duration
	pending map[string]*pending

	// OnComplete, when set, runs for every completed exchange before any
	// awaiting initiator is woken, so the session is installed by the
	// time a ConnectPeer caller resumes.
	OnComplete func(res *Result)

	// OnFailed, when set, observes every failed pending attempt: timeouts,
	// tampered exchanges, and cancellations.
	OnFailed func(peerID string, err error)
}

// NewManager creates a handshake manager around the local static identity.
func NewManager(static crypto.KeyPair, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		static:  static,
		localID: hex.EncodeToString(static.Public[:]),
		timeout: timeout,
		pending: make(map[string]*pending),
	}
}

// Initiate starts a handshake toward peerID. It returns message 1 for the
// caller to send and a channel that resolves once the exchange completes,
// fails, or times out. A second initiation toward the same peer attaches
// to the in-flight attempt without producing a new message 1.
func (m *Manager) Initiate(peerID string) ([]byte, <-chan Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pending[peerID]; ok {
		ch := make(chan Outcome, 1)
		p.waiters = append(p.waiters, ch)
		return nil, ch, nil
	}

	hs, msg1, err := NewInitiator(m.static)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Outcome, 1)
	p := &pending{peerID: peerID, hs: hs, waiters: []chan Outcome{ch}}
	p.timer = time.AfterFunc(m.timeout, func() { m.expire(peerID) })
	m.pending[peerID] = p

	logger.Debug("handshake initiated", logger.PeerID(peerID), logger.Role(hs.Role().String()))
	return msg1, ch, nil
}

// HandleInit processes an inbound HANDSHAKE_INIT and returns message 2.
//
// If a local initiator toward the same peer is already pending, the
// identity tie-break applies: the side whose canonical identity orders
// lower cancels its initiator and adopts the responder role; the higher
// side rejects the inbound with ErrInProgress and keeps waiting for its
// own message 2.
func (m *Manager) HandleInit(peerID string, payload []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pending[peerID]; ok {
		if p.hs.Role() == RoleResponder {
			return nil, ErrInProgress
		}
		if strings.Compare(m.localID, peerID) > 0 {
			return nil, ErrInProgress
		}
		// Lower identity yields: abandon our initiation, respond instead.
		logger.Debug("handshake tie-break: adopting responder role", logger.PeerID(peerID))
		p.timer.Stop()
		hs := NewResponder(m.static)
		msg2, err := hs.ReadMessage1(payload)
		if err != nil {
			m.resolveLocked(peerID, Outcome{Err: err})
			return nil, err
		}
		p.hs = hs
		p.timer = time.AfterFunc(m.timeout, func() { m.expire(peerID) })
		return msg2, nil
	}

	hs := NewResponder(m.static)
	msg2, err := hs.ReadMessage1(payload)
	if err != nil {
		return nil, err
	}
	p := &pending{peerID: peerID, hs: hs}
	p.timer = time.AfterFunc(m.timeout, func() { m.expire(peerID) })
	m.pending[peerID] = p
	return msg2, nil
}

// HandleResponse processes an inbound HANDSHAKE_RESPONSE on the initiator
// side. sendFinal transmits message 3; it runs before the waiters are
// woken, so the peer sees the FINAL ahead of any traffic an unblocked
// caller produces. A send failure fails the attempt.
func (m *Manager) HandleResponse(peerID string, payload []byte, sendFinal func(msg3 []byte) error) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[peerID]
	if !ok {
		return nil, ErrNoPending
	}
	if p.hs.Role() != RoleInitiator {
		return nil, ErrInvalidState
	}

	msg3, err := p.hs.ReadMessage2(payload)
	if err != nil {
		m.resolveLocked(peerID, Outcome{Err: err})
		return nil, err
	}
	if err := p.hs.Finish(); err != nil {
		m.resolveLocked(peerID, Outcome{Err: err})
		return nil, err
	}
	if err := sendFinal(msg3); err != nil {
		m.resolveLocked(peerID, Outcome{Err: err})
		return nil, err
	}

	res := m.resultLocked(p)
	m.resolveLocked(peerID, Outcome{Result: res})
	return res, nil
}

// HandleFinal processes an inbound HANDSHAKE_FINAL on the responder side
// and completes the exchange.
func (m *Manager) HandleFinal(peerID string, payload []byte) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[peerID]
	if !ok {
		return nil, ErrNoPending
	}
	if p.hs.Role() != RoleResponder {
		return nil, ErrInvalidState
	}

	if err := p.hs.ReadMessage3(payload); err != nil {
		m.resolveLocked(peerID, Outcome{Err: err})
		return nil, err
	}

	res := m.resultLocked(p)
	m.resolveLocked(peerID, Outcome{Result: res})
	return res, nil
}

// resultLocked builds a Result from a completed handshake.
func (m *Manager) resultLocked(p *pending) *Result {
	send, recv, _ := p.hs.Keys()
	return &Result{
		PeerID:       p.peerID,
		SendKey:      send,
		RecvKey:      recv,
		RemoteStatic: p.hs.RemoteStatic(),
		Elapsed:      p.hs.Elapsed(),
	}
}

// Cancel aborts the pending handshake for a peer, rejecting its waiters
// with ErrCancelled.
func (m *Manager) Cancel(peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[peerID]; !ok {
		return ErrNoPending
	}
	m.resolveLocked(peerID, Outcome{Err: ErrCancelled})
	return nil
}

// CancelAll aborts every pending handshake. Used on node destroy.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for peerID := range m.pending {
		m.resolveLocked(peerID, Outcome{Err: ErrCancelled})
	}
}

// Pending reports whether a handshake is in flight for the peer.
func (m *Manager) Pending(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[peerID]
	return ok
}

// PendingCount returns the number of in-flight handshakes.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// LocalID returns the canonical local identity (hex of the static key).
func (m *Manager) LocalID() string {
	return m.localID
}

// expire fires on the pending timer: the attempt fails with ErrTimeout.
func (m *Manager) expire(peerID string) {
	m.mu.Lock()
	_, ok := m.pending[peerID]
	if ok {
		m.resolveLocked(peerID, Outcome{Err: ErrTimeout})
	}
	m.mu.Unlock()
}

// resolveLocked removes the pending entry, runs the completion/failure
// hooks, and fans the outcome out to the waiters.
func (m *Manager) resolveLocked(peerID string, out Outcome) {
	p, ok := m.pending[peerID]
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(m.pending, peerID)

	if out.Result != nil && m.OnComplete != nil {
		m.OnComplete(out.Result)
	}
	for _, ch := range p.waiters {
		ch <- out
	}
	if out.Err != nil {
		if m.OnFailed != nil {
			m.OnFailed(peerID, out.Err)
		}
		logger.Debug("handshake failed", logger.PeerID(peerID), logger.Err(out.Err))
	}
}
