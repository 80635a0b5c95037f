package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerwave/peerwave/pkg/config"
	storememory "github.com/peerwave/peerwave/pkg/store/memory"
	tmemory "github.com/peerwave/peerwave/pkg/transport/memory"
)

// testConfig keeps timers short so tests settle quickly.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Routes.DiscoveryTimeout = 2 * time.Second
	cfg.Routes.CleanupInterval = 100 * time.Millisecond
	cfg.Handshake.Timeout = 2 * time.Second
	cfg.EventQueueSize = 1024
	return cfg
}

// newTestNode builds, initializes, and starts a node attached to the
// given fabric.
func newTestNode(t *testing.T, net *tmemory.Network) *Node {
	t.Helper()
	n := New(testConfig(), storememory.NewMemoryStore(), nil, nil)
	require.NoError(t, n.Initialize())
	require.NoError(t, n.SetTransport(net.Endpoint(n.PeerID())))
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Destroy)
	return n
}

// waitEvent drains the node's queue until an event of the wanted type
// arrives or the timeout passes.
func waitEvent(t *testing.T, n *Node, want EventType, timeout time.Duration) (Event, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-n.Events():
			if e.Type == want {
				return e, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

// collectEvents drains everything currently observable of one type within
// the window.
func collectEvents(n *Node, want EventType, window time.Duration) []Event {
	var out []Event
	deadline := time.After(window)
	for {
		select {
		case e := <-n.Events():
			if e.Type == want {
				out = append(out, e)
			}
		case <-deadline:
			return out
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	n := New(testConfig(), storememory.NewMemoryStore(), nil, nil)
	assert.Equal(t, StateUninitialized, n.State())

	// Operations before initialize fail with invalid-state.
	_, err := n.SendBroadcast("too early")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, n.Initialize())
	assert.Equal(t, StateReady, n.State())
	assert.Len(t, n.PeerID(), 64)

	// Initialize is not repeatable.
	assert.ErrorIs(t, n.Initialize(), ErrInvalidState)

	// Start without a transport fails.
	assert.ErrorIs(t, n.Start(context.Background()), ErrNoTransport)

	net := tmemory.NewNetwork()
	require.NoError(t, n.SetTransport(net.Endpoint(n.PeerID())))
	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateActive, n.State())

	require.NoError(t, n.Stop(context.Background()))
	assert.Equal(t, StateSuspended, n.State())
	_, err = n.SendBroadcast("suspended")
	assert.ErrorIs(t, err, ErrInvalidState)

	// Suspended nodes restart.
	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateActive, n.State())

	n.Destroy()
	assert.Equal(t, StateDestroyed, n.State())
	n.Destroy() // idempotent
	_, err = n.SendBroadcast("destroyed")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestBroadcastAcrossThreeHops(t *testing.T) {
	// Topology A - B - C: A and C are only linked through B.
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	c := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())
	net.Link(b.PeerID(), c.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	_, err := a.SendBroadcast("hello")
	require.NoError(t, err)

	// C receives exactly one copy, via B.
	received := collectEvents(c, EventBroadcastReceived, 800*time.Millisecond)
	require.Len(t, received, 1)
	assert.Equal(t, "hello", string(received[0].Payload))
	assert.Equal(t, a.PeerID(), received[0].PeerID)

	// B relayed it exactly once.
	relayed := collectEvents(b, EventMessageRelayed, 400*time.Millisecond)
	assert.Len(t, relayed, 1)
}

func TestHandshakeAndPrivateMessage(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.ConnectPeer(ctx, b.PeerID()))

	// Both ends hold a session now.
	ev, ok := waitEvent(t, b, EventPeerSecured, time.Second)
	require.True(t, ok)
	assert.Equal(t, a.PeerID(), ev.PeerID)

	_, err := a.SendPrivate(b.PeerID(), "secret hello")
	require.NoError(t, err)

	got, ok := waitEvent(t, b, EventPrivateReceived, time.Second)
	require.True(t, ok)
	assert.Equal(t, "secret hello", string(got.Payload))
	assert.Equal(t, a.PeerID(), got.PeerID)

	// The receipt rides back to the sender.
	receipt, ok := waitEvent(t, a, EventReadReceipt, time.Second)
	require.True(t, ok)
	assert.Equal(t, b.PeerID(), receipt.PeerID)
}

func TestPrivateMessageWithoutSessionFails(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, err := a.SendPrivate(b.PeerID(), "no session yet")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMultiHopSecureSession(t *testing.T) {
	// A and C are not directly linked; the handshake and the private
	// traffic both ride through B.
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	c := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())
	net.Link(b.PeerID(), c.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.ConnectPeer(ctx, c.PeerID()))

	_, err := a.SendPrivate(c.PeerID(), "across the mesh")
	require.NoError(t, err)

	got, ok := waitEvent(t, c, EventPrivateReceived, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "across the mesh", string(got.Payload))
	assert.Equal(t, a.PeerID(), got.PeerID)
}

func TestChannelMessaging(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	c := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())
	net.Link(b.PeerID(), c.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	require.NoError(t, b.JoinChannel("#mesh"))
	require.NoError(t, c.JoinChannel("#other"))

	_, err := a.SendChannelMessage("#mesh", "channel hello")
	require.NoError(t, err)

	// B is joined and delivers; C is not and stays silent even though the
	// frame reaches it through B.
	got, ok := waitEvent(t, b, EventChannelMessage, time.Second)
	require.True(t, ok)
	assert.Equal(t, "#mesh", got.Channel)
	assert.Equal(t, "channel hello", string(got.Payload))

	silent := collectEvents(c, EventChannelMessage, 400*time.Millisecond)
	assert.Empty(t, silent)
}

func TestStoreAndForwardDelivery(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)

	// B is offline: cache messages for it.
	require.NoError(t, a.CacheForOfflinePeer(b.PeerID(), []byte("while you were out 1")))
	require.NoError(t, a.CacheForOfflinePeer(b.PeerID(), []byte("while you were out 2")))
	assert.Equal(t, 2, a.CacheStats().Entries)

	// B comes online; the handshake completion flushes the queue.
	net.Link(a.PeerID(), b.PeerID())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.ConnectPeer(ctx, b.PeerID()))

	flushed, ok := waitEvent(t, a, EventCachedDelivered, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, 2, flushed.Count)

	first, ok := waitEvent(t, b, EventPrivateReceived, time.Second)
	require.True(t, ok)
	assert.Equal(t, "while you were out 1", string(first.Payload))
	second, ok := waitEvent(t, b, EventPrivateReceived, time.Second)
	require.True(t, ok)
	assert.Equal(t, "while you were out 2", string(second.Payload))

	assert.Equal(t, 0, a.CacheStats().Entries)
}

func TestBlockedPeerIsIgnored(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, ok := waitEvent(t, b, EventPeerConnected, time.Second)
	require.True(t, ok)

	b.BlockPeer(a.PeerID())
	_, ok = waitEvent(t, b, EventPeerBlocked, time.Second)
	require.True(t, ok)

	_, err := a.SendBroadcast("shout into the void")
	require.NoError(t, err)

	received := collectEvents(b, EventBroadcastReceived, 500*time.Millisecond)
	assert.Empty(t, received)

	b.UnblockPeer(a.PeerID())
	_, err = a.SendBroadcast("hello again")
	require.NoError(t, err)
	_, ok = waitEvent(t, b, EventBroadcastReceived, time.Second)
	assert.True(t, ok)
}

func TestLargeBroadcastFragments(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	// Far beyond the 512-byte default MTU, and incompressible enough to
	// stay oversized: the payload must fragment and reassemble.
	big := make([]byte, 3000)
	for i := range big {
		big[i] = byte(i*7 + i/13)
	}
	_, err := a.SendBroadcast(string(big))
	require.NoError(t, err)

	got, ok := waitEvent(t, b, EventBroadcastReceived, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, big, got.Payload)
}

func TestFindRouteAcrossMesh(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	c := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())
	net.Link(b.PeerID(), c.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	route, err := a.FindRoute(ctx, c.PeerID())
	require.NoError(t, err)
	assert.Equal(t, c.PeerID(), route.Destination)
	assert.Equal(t, b.PeerID(), route.NextHop)
}

func TestFindRouteTimesOutForUnknownPeer(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.FindRoute(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
	assert.Error(t, err)
}

func TestAnnounceUpdatesDisplayName(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	require.NoError(t, a.Announce("alice"))

	_, ok = waitEvent(t, b, EventPeerDiscovered, time.Second)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		for _, p := range b.Peers() {
			if p.ID == a.PeerID() && p.DisplayName == "alice" {
				return true
			}
		}
		return false
	}, time.Second, 20*time.Millisecond)
}

func TestSessionExportImport(t *testing.T) {
	net := tmemory.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)
	net.Link(a.PeerID(), b.PeerID())

	_, ok := waitEvent(t, a, EventPeerConnected, time.Second)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.ConnectPeer(ctx, b.PeerID()))

	require.NoError(t, a.ExportSession(b.PeerID()))

	// Drop and restore: traffic keeps flowing under the imported keys.
	a.sessions.Remove(b.PeerID())
	require.NoError(t, a.ImportSession(b.PeerID()))

	_, err := a.SendPrivate(b.PeerID(), "restored")
	require.NoError(t, err)
	got, ok := waitEvent(t, b, EventPrivateReceived, time.Second)
	require.True(t, ok)
	assert.Equal(t, "restored", string(got.Payload))
}
