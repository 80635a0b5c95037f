package session

import (
	"errors"
	"sync"
	"time"
)

// Manager holds the one-session-per-peer map.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxAge      time.Duration
	maxMessages uint64
}

// NewManager creates a session manager with the given bounds. Zero values
// fall back to the defaults.
func NewManager(maxAge time.Duration, maxMessages uint64) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxAge:      maxAge,
		maxMessages: maxMessages,
	}
}

// Install keys a fresh session to the peer, replacing any previous one.
func (m *Manager) Install(peerID string, sendKey, recvKey []byte) *Session {
	s := New(peerID, sendKey, recvKey, m.maxAge, m.maxMessages)
	m.mu.Lock()
	m.sessions[peerID] = s
	m.mu.Unlock()
	return s
}

// InstallImported re-keys the peer with a session reconstituted from an
// Export blob.
func (m *Manager) InstallImported(peerID string, blob []byte) (*Session, error) {
	s, err := Import(peerID, blob, m.maxAge, m.maxMessages)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[peerID] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session for a peer.
func (m *Manager) Get(peerID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peerID]
	return s, ok
}

// Encrypt seals plaintext for a peer through its session.
func (m *Manager) Encrypt(peerID string, plaintext, aad []byte) ([]byte, error) {
	s, ok := m.Get(peerID)
	if !ok {
		return nil, ErrNoSession
	}
	ct, err := s.Encrypt(plaintext, aad)
	if errors.Is(err, ErrExpired) || errors.Is(err, ErrExhausted) {
		// The session is dead either way; force a re-handshake.
		m.Remove(peerID)
	}
	return ct, err
}

// Decrypt opens ciphertext from a peer through its session.
func (m *Manager) Decrypt(peerID string, ciphertext, aad []byte) ([]byte, error) {
	s, ok := m.Get(peerID)
	if !ok {
		return nil, ErrNoSession
	}
	return s.Decrypt(ciphertext, aad)
}

// Remove drops the session for a peer.
func (m *Manager) Remove(peerID string) {
	m.mu.Lock()
	delete(m.sessions, peerID)
	m.mu.Unlock()
}

// RemoveExpired sweeps sessions past their bounds. Returns peers removed.
func (m *Manager) RemoveExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for peerID, s := range m.sessions {
		if !s.Usable() {
			delete(m.sessions, peerID)
			removed = append(removed, peerID)
		}
	}
	return removed
}

// Clear drops every session. Used on node destroy.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Peers returns the ids of every peer with a session.
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for peerID := range m.sessions {
		out = append(out, peerID)
	}
	return out
}
