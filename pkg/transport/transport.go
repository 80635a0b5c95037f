// Package transport defines the datagram transport contract the node
// consumes. Implementations wrap a physical medium (BLE, UDP, a test
// fabric) and surface peers plus opaque datagrams; they never interpret
// payloads.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected indicates a send toward a peer the transport has no
// link to.
var ErrNotConnected = errors.New("transport: peer not connected")

// PowerMode trades radio duty cycle against latency.
type PowerMode int

const (
	PowerBalanced PowerMode = iota
	PowerSaver
	PowerPerformance
)

// ScanParameters tunes discovery for transports that scan.
type ScanParameters struct {
	IntervalMs int
	WindowMs   int
	Active     bool
}

// Handler receives transport events. The node implements this; all
// callbacks for one transport are delivered sequentially.
type Handler interface {
	// HandlePeerConnected fires when a link to a peer comes up. rssi is
	// the signal strength when known, 0 otherwise.
	HandlePeerConnected(peerID string, rssi int)

	// HandlePeerDisconnected fires when a link drops.
	HandlePeerDisconnected(peerID string, reason string)

	// HandleMessage delivers one inbound datagram.
	HandleMessage(peerID string, data []byte)
}

// Transport is the datagram transport contract.
type Transport interface {
	// Start brings the transport up. The handler must be set first.
	Start(ctx context.Context) error

	// Stop tears the transport down and stops event delivery.
	Stop(ctx context.Context) error

	// SetHandler registers the event sink. Must be called before Start.
	SetHandler(h Handler)

	// Send transmits one datagram to a connected peer. Implementations
	// must not retain data after returning; callers may reuse the buffer.
	Send(peerID string, data []byte) error

	// Broadcast transmits one datagram to every connected peer.
	// Per-peer failures do not abort the remaining sends.
	Broadcast(data []byte) error

	// ConnectedPeers lists peers with a live link.
	ConnectedPeers() []string

	// SetScanParameters tunes discovery. Optional; transports without a
	// scanner return nil.
	SetScanParameters(p ScanParameters) error

	// SetPowerMode trades duty cycle against latency. Optional.
	SetPowerMode(mode PowerMode) error

	// Name identifies the transport for logging and metrics.
	Name() string
}
