// Package node is the orchestrator tying the core subsystems together:
// it owns the lifecycle, the peer registry, the dedup state, routing,
// fragmentation, handshakes, sessions, and the store-and-forward cache,
// and it dispatches every inbound frame to the right one.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peerwave/peerwave/internal/dedup"
	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/internal/mesh"
	"github.com/peerwave/peerwave/internal/noise"
	"github.com/peerwave/peerwave/internal/session"
	"github.com/peerwave/peerwave/internal/storeforward"
	"github.com/peerwave/peerwave/pkg/config"
	"github.com/peerwave/peerwave/pkg/identity"
	"github.com/peerwave/peerwave/pkg/metrics"
	"github.com/peerwave/peerwave/pkg/store"
	"github.com/peerwave/peerwave/pkg/transport"
)

// Node errors.
var (
	ErrInvalidState = errors.New("node: operation not valid in current state")
	ErrNoTransport  = errors.New("node: no transport configured")
	ErrPeerBlocked  = errors.New("node: peer is blocked")
	ErrNoSession    = session.ErrNoSession
)

// State is the node lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateActive
	StateSuspended
	StateDestroyed
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateDestroyed:
		return "destroyed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Node is one mesh endpoint. Exactly one exists per process transport.
type Node struct {
	mu    sync.Mutex
	state State

	cfg   *config.Config
	store store.Store
	tp    transport.Transport
	rec   metrics.Recorder

	id  *identity.Identity
	bus *eventBus

	peers    *peerSet
	channels map[string]bool

	dedup    *dedup.Detector
	table    *mesh.Table
	fwd      *mesh.Forwarder
	pf       *mesh.PathFinder
	reasm    *mesh.Reassembler
	hs       *noise.Manager
	sessions *session.Manager
	cache    *storeforward.Cache

	maintStop chan struct{}
	maintWG   sync.WaitGroup

	invalidFrames atomic.Uint64 // wire-parse drops, counted but never surfaced
}

// New creates a node in the uninitialized state. The recorder may be nil
// for no metrics; the transport may be set later with SetTransport.
func New(cfg *config.Config, st store.Store, tp transport.Transport, rec metrics.Recorder) *Node {
	if cfg == nil {
		cfg = config.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Node{
		state:    StateUninitialized,
		cfg:      cfg,
		store:    st,
		tp:       tp,
		rec:      rec,
		bus:      newEventBus(cfg.EventQueueSize),
		channels: make(map[string]bool),
	}
}

// Initialize loads the identity and builds the subsystems, moving the
// node to the ready state.
func (n *Node) Initialize() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateUninitialized {
		return fmt.Errorf("%w: initialize from %s", ErrInvalidState, n.state)
	}
	n.setStateLocked(StateInitializing)

	id, err := identity.LoadOrCreate(n.store)
	if err != nil {
		n.setStateLocked(StateError)
		return fmt.Errorf("load identity: %w", err)
	}
	n.id = id

	n.dedup = dedup.New(dedup.Config{
		BloomSize:     n.cfg.Dedup.BloomSize,
		HashCount:     n.cfg.Dedup.HashCount,
		LRUCapacity:   n.cfg.Dedup.LRUCapacity,
		FillThreshold: n.cfg.Dedup.FillThreshold,
		GracePeriod:   n.cfg.Dedup.GracePeriod,
	})
	n.table = mesh.NewTable(mesh.TableConfig{
		MaxRoutes:    n.cfg.Routes.MaxRoutes,
		RouteTimeout: n.cfg.Routes.RouteTimeout,
	})
	n.fwd = mesh.NewForwarder(id.PeerID, n.dedup, n.table)
	n.pf = mesh.NewPathFinder(n.table, n.cfg.Routes.DiscoveryTimeout)
	n.reasm = mesh.NewReassembler(n.cfg.Mesh.ReassemblyTimeout)
	n.hs = noise.NewManager(id.KeyPair, n.cfg.Handshake.Timeout)
	n.hs.OnComplete = n.installSession
	n.hs.OnFailed = func(peerID string, err error) {
		n.rec.HandshakeFailed()
		n.bus.emit(Event{Type: EventHandshakeFailed, PeerID: peerID, Err: err})
	}
	n.sessions = session.NewManager(n.cfg.Session.MaxAge, n.cfg.Session.MaxMessages)
	n.cache = storeforward.New(storeforward.Config{
		MaxPerRecipient: n.cfg.Cache.MaxPerRecipient,
		MaxTotal:        n.cfg.Cache.MaxTotal,
		Retention:       n.cfg.Cache.Retention,
	})
	n.peers = newPeerSet(n.cfg.Peers.MaxPeers)

	n.setStateLocked(StateReady)
	n.bus.emit(Event{Type: EventInitialized, PeerID: id.PeerID})
	logger.Info("node initialized", logger.PeerID(id.PeerID))
	return nil
}

// SetTransport wires the transport. Only valid before Start.
func (n *Node) SetTransport(tp transport.Transport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateActive || n.state == StateDestroyed {
		return fmt.Errorf("%w: set transport in %s", ErrInvalidState, n.state)
	}
	n.tp = tp
	return nil
}

// Start moves ready/suspended to active: the transport comes up and the
// maintenance timers start.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateReady && n.state != StateSuspended {
		n.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, n.state)
	}
	if n.tp == nil {
		n.mu.Unlock()
		return ErrNoTransport
	}
	tp := n.tp
	n.mu.Unlock()

	tp.SetHandler(n)
	if err := tp.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	n.mu.Lock()
	n.maintStop = make(chan struct{})
	n.maintWG.Add(1)
	go n.maintenanceLoop(n.maintStop)
	n.setStateLocked(StateActive)
	n.mu.Unlock()

	logger.Info("node active", logger.PeerID(n.id.PeerID), "transport", tp.Name())
	return nil
}

// Stop moves active to suspended: the transport goes down, state is kept.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateActive {
		n.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, n.state)
	}
	stop := n.maintStop
	n.maintStop = nil
	tp := n.tp
	n.setStateLocked(StateSuspended)
	n.mu.Unlock()

	close(stop)
	n.maintWG.Wait()
	if err := tp.Stop(ctx); err != nil {
		return fmt.Errorf("stop transport: %w", err)
	}
	return nil
}

// Destroy is terminal and idempotent: pending work is cancelled, every
// store is emptied, and all subsequent operations fail fast.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return
	}
	wasActive := n.state == StateActive
	stop := n.maintStop
	n.maintStop = nil
	tp := n.tp
	n.setStateLocked(StateDestroyed)
	n.mu.Unlock()

	if stop != nil {
		close(stop)
		n.maintWG.Wait()
	}
	if wasActive && tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
		defer cancel()
		if err := tp.Stop(ctx); err != nil {
			logger.Warn("transport stop during destroy", logger.Err(err))
		}
	}
	if n.hs != nil {
		n.hs.CancelAll()
	}
	if n.pf != nil {
		n.pf.CancelAll()
	}
	if n.dedup != nil {
		n.dedup.Reset()
	}
	if n.sessions != nil {
		n.sessions.Clear()
	}
	if n.cache != nil {
		n.cache.Clear()
	}
	logger.Info("node destroyed")
}

// setStateLocked transitions and emits state_changed.
func (n *Node) setStateLocked(next State) {
	old := n.state
	n.state = next
	n.bus.emit(Event{Type: EventStateChanged, OldState: old.String(), NewState: next.String()})
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// requireActive fails unless the node is active.
func (n *Node) requireActive() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateActive {
		return fmt.Errorf("%w: node is %s", ErrInvalidState, n.state)
	}
	return nil
}

// Events returns the queue the application drains.
func (n *Node) Events() <-chan Event {
	return n.bus.events()
}

// DroppedEvents reports events lost to queue backpressure.
func (n *Node) DroppedEvents() uint64 {
	return n.bus.droppedCount()
}

// InvalidFrames reports frames dropped by wire parsing.
func (n *Node) InvalidFrames() uint64 {
	return n.invalidFrames.Load()
}

// PeerID returns the local canonical identity.
func (n *Node) PeerID() string {
	if n.id == nil {
		return ""
	}
	return n.id.PeerID
}

// Peers returns a snapshot of the registry.
func (n *Node) Peers() []Peer {
	if n.peers == nil {
		return nil
	}
	return n.peers.snapshot()
}

// Routes returns a snapshot of the route table.
func (n *Node) Routes() []mesh.Route {
	if n.table == nil {
		return nil
	}
	return n.table.AllRoutes()
}

// DedupStats returns a snapshot of the duplicate detector counters.
func (n *Node) DedupStats() dedup.Stats {
	if n.dedup == nil {
		return dedup.Stats{}
	}
	return n.dedup.Stats()
}

// CacheStats returns a snapshot of the store-and-forward counters.
func (n *Node) CacheStats() storeforward.Stats {
	if n.cache == nil {
		return storeforward.Stats{}
	}
	return n.cache.Stats()
}

// maintenanceLoop runs the periodic sweeps: expired routes, stalled
// fragment assemblies, stale peers, dead sessions, cache retention, and
// gauge refreshes.
func (n *Node) maintenanceLoop(stop chan struct{}) {
	defer n.maintWG.Done()
	ticker := time.NewTicker(n.cfg.Routes.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.table.Cleanup()
			n.reasm.Sweep()
			n.cache.SweepExpired()
			for _, peerID := range n.sessions.RemoveExpired() {
				n.rec.SessionRemoved()
				logger.Debug("session expired", logger.PeerID(peerID))
			}
			for _, peerID := range n.peers.removeStale(n.cfg.Peers.PeerTimeout) {
				n.table.RemoveRoutesVia(peerID)
				n.bus.emit(Event{Type: EventPeerDisconnected, PeerID: peerID, Reason: "stale"})
			}
			n.rec.SetPeers(n.peers.count())
			n.rec.SetRoutes(n.table.Len())
			n.rec.SetPendingHandshakes(n.hs.PendingCount())
			n.rec.SetCacheEntries(n.cache.Total())
		}
	}
}
