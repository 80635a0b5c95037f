// Package memory provides an in-process transport fabric for tests and
// demos: a Network hub with explicit point-to-point links between named
// endpoints. Delivery order per link is FIFO; each endpoint drains its
// inbox on its own goroutine, mirroring how a radio transport delivers
// events off the caller's stack.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/peerwave/peerwave/pkg/transport"
)

// inboxSize bounds each endpoint's pending event queue.
const inboxSize = 256

// event is one queued delivery.
type event struct {
	kind   int // 0 message, 1 connect, 2 disconnect
	peerID string
	data   []byte
	rssi   int
	reason string
}

// Network is the hub all endpoints attach to.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	links     map[string]map[string]bool
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*Endpoint),
		links:     make(map[string]map[string]bool),
	}
}

// Endpoint creates (or returns) the endpoint with the given id.
func (n *Network) Endpoint(id string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{id: id, net: n}
	n.endpoints[id] = ep
	return ep
}

// Link connects two endpoints bidirectionally. Both sides receive a
// peer-connected event if running.
func (n *Network) Link(a, b string) {
	n.mu.Lock()
	if n.links[a] == nil {
		n.links[a] = make(map[string]bool)
	}
	if n.links[b] == nil {
		n.links[b] = make(map[string]bool)
	}
	n.links[a][b] = true
	n.links[b][a] = true
	epA, epB := n.endpoints[a], n.endpoints[b]
	n.mu.Unlock()

	if epA != nil {
		epA.enqueue(event{kind: 1, peerID: b})
	}
	if epB != nil {
		epB.enqueue(event{kind: 1, peerID: a})
	}
}

// Unlink drops the link between two endpoints, firing disconnect events.
func (n *Network) Unlink(a, b string) {
	n.mu.Lock()
	delete(n.links[a], b)
	delete(n.links[b], a)
	epA, epB := n.endpoints[a], n.endpoints[b]
	n.mu.Unlock()

	if epA != nil {
		epA.enqueue(event{kind: 2, peerID: b, reason: "link removed"})
	}
	if epB != nil {
		epB.enqueue(event{kind: 2, peerID: a, reason: "link removed"})
	}
}

// linked reports whether a and b share a link.
func (n *Network) linked(a, b string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[a][b]
}

// neighborsOf lists endpoints linked to id.
func (n *Network) neighborsOf(id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for peer := range n.links[id] {
		out = append(out, peer)
	}
	return out
}

// deliver queues data into the receiving endpoint's inbox.
func (n *Network) deliver(from, to string, data []byte) error {
	n.mu.Lock()
	ep, ok := n.endpoints[to]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrNotConnected, to)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	ep.enqueue(event{kind: 0, peerID: from, data: buf})
	return nil
}

// Endpoint is one attachment point, implementing transport.Transport.
type Endpoint struct {
	id  string
	net *Network

	mu      sync.Mutex
	handler transport.Handler
	inbox   chan event
	done    chan struct{}
	running bool
}

// SetHandler registers the event sink.
func (e *Endpoint) SetHandler(h transport.Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Start begins draining the inbox. Links that already exist replay their
// connect events so a late-started node still sees its neighbors.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.inbox = make(chan event, inboxSize)
	e.done = make(chan struct{})
	e.running = true
	inbox, done := e.inbox, e.done
	e.mu.Unlock()

	for _, peer := range e.net.neighborsOf(e.id) {
		e.enqueue(event{kind: 1, peerID: peer})
	}

	go e.pump(inbox, done)
	return nil
}

// pump delivers queued events to the handler, one at a time.
func (e *Endpoint) pump(inbox chan event, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-inbox:
			e.mu.Lock()
			h := e.handler
			e.mu.Unlock()
			if h == nil {
				continue
			}
			switch ev.kind {
			case 0:
				h.HandleMessage(ev.peerID, ev.data)
			case 1:
				h.HandlePeerConnected(ev.peerID, ev.rssi)
			case 2:
				h.HandlePeerDisconnected(ev.peerID, ev.reason)
			}
		}
	}
}

// Stop halts event delivery.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	close(e.done)
	e.running = false
	return nil
}

// enqueue drops the event if the endpoint is not running or its inbox is
// full, like a radio with no listener.
func (e *Endpoint) enqueue(ev event) {
	e.mu.Lock()
	inbox, running := e.inbox, e.running
	e.mu.Unlock()
	if !running {
		return
	}
	select {
	case inbox <- ev:
	default:
	}
}

// Send transmits to a linked peer.
func (e *Endpoint) Send(peerID string, data []byte) error {
	if !e.net.linked(e.id, peerID) {
		return fmt.Errorf("%w: %s", transport.ErrNotConnected, peerID)
	}
	return e.net.deliver(e.id, peerID, data)
}

// Broadcast transmits to every linked peer, continuing past individual
// failures.
func (e *Endpoint) Broadcast(data []byte) error {
	var firstErr error
	for _, peer := range e.net.neighborsOf(e.id) {
		if err := e.net.deliver(e.id, peer, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ConnectedPeers lists linked endpoints.
func (e *Endpoint) ConnectedPeers() []string {
	return e.net.neighborsOf(e.id)
}

// SetScanParameters is a no-op for the in-memory fabric.
func (e *Endpoint) SetScanParameters(p transport.ScanParameters) error {
	return nil
}

// SetPowerMode is a no-op for the in-memory fabric.
func (e *Endpoint) SetPowerMode(mode transport.PowerMode) error {
	return nil
}

// Name identifies the transport.
func (e *Endpoint) Name() string {
	return "memory"
}
