package node

import (
	"sort"
	"sync"
	"time"

	"github.com/peerwave/peerwave/internal/crypto"
)

// ConnectionState tracks how far along a peer relationship is.
type ConnectionState int

const (
	PeerDisconnected ConnectionState = iota
	PeerDiscovering
	PeerConnecting
	PeerConnected
	PeerSecuring
	PeerSecured
)

func (s ConnectionState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerDiscovering:
		return "discovering"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerSecuring:
		return "securing"
	case PeerSecured:
		return "secured"
	default:
		return "unknown"
	}
}

// Peer is everything the node knows about another node.
type Peer struct {
	ID          string
	StaticKey   *crypto.PublicKey
	DisplayName string
	RSSI        int
	HopDistance uint8
	State       ConnectionState
	FirstSeen   time.Time
	LastSeen    time.Time
}

// peerSet is the registry of known peers plus the block list. The block
// list survives peer removal so a blocked peer stays blocked when it
// reappears.
type peerSet struct {
	mu      sync.RWMutex
	peers   map[string]*Peer
	blocked map[string]bool
	max     int
}

func newPeerSet(max int) *peerSet {
	return &peerSet{
		peers:   make(map[string]*Peer),
		blocked: make(map[string]bool),
		max:     max,
	}
}

// upsert creates or refreshes a peer, returning it plus whether it is new.
// When the registry is full, the stalest disconnected peer makes room; if
// no peer is disconnected the new peer is not tracked (nil is returned).
func (ps *peerSet) upsert(id string) (*Peer, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	if p, ok := ps.peers[id]; ok {
		p.LastSeen = now
		return p, false
	}

	if ps.max > 0 && len(ps.peers) >= ps.max {
		if !ps.evictStalestLocked() {
			return nil, false
		}
	}
	p := &Peer{
		ID:        id,
		State:     PeerDiscovering,
		FirstSeen: now,
		LastSeen:  now,
	}
	ps.peers[id] = p
	return p, true
}

// evictStalestLocked removes the least-recently-seen disconnected peer.
func (ps *peerSet) evictStalestLocked() bool {
	var victim string
	var oldest time.Time
	for id, p := range ps.peers {
		if p.State != PeerDisconnected {
			continue
		}
		if victim == "" || p.LastSeen.Before(oldest) {
			victim, oldest = id, p.LastSeen
		}
	}
	if victim == "" {
		return false
	}
	delete(ps.peers, victim)
	return true
}

func (ps *peerSet) get(id string) (*Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[id]
	return p, ok
}

// mutate runs fn on the peer under the write lock.
func (ps *peerSet) mutate(id string, fn func(*Peer)) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.peers[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

func (ps *peerSet) remove(id string) {
	ps.mu.Lock()
	delete(ps.peers, id)
	ps.mu.Unlock()
}

// removeStale drops peers not seen within the timeout, skipping connected
// and secured ones. Returns the ids removed.
func (ps *peerSet) removeStale(timeout time.Duration) []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	deadline := time.Now().Add(-timeout)
	var removed []string
	for id, p := range ps.peers {
		if p.State == PeerSecured || p.State == PeerConnected {
			continue
		}
		if p.LastSeen.Before(deadline) {
			delete(ps.peers, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// connected lists peers in at least the connected state.
func (ps *peerSet) connected() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	var out []string
	for id, p := range ps.peers {
		if p.State >= PeerConnected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// snapshot copies every peer for external inspection.
func (ps *peerSet) snapshot() []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ps *peerSet) count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

func (ps *peerSet) block(id string) {
	ps.mu.Lock()
	ps.blocked[id] = true
	delete(ps.peers, id)
	ps.mu.Unlock()
}

func (ps *peerSet) unblock(id string) {
	ps.mu.Lock()
	delete(ps.blocked, id)
	ps.mu.Unlock()
}

func (ps *peerSet) isBlocked(id string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.blocked[id]
}
