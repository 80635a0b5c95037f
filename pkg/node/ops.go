package node

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/peerwave/peerwave/internal/compress"
	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/internal/mesh"
	"github.com/peerwave/peerwave/internal/protocol/wire"
	"github.com/peerwave/peerwave/internal/storeforward"
	"github.com/peerwave/peerwave/pkg/transport"
)

// originate builds, marks, and transmits a locally created message:
// envelope, optional compression, fragmentation by MTU, dedup marking,
// then a route-or-flood send. Returns the message id.
func (n *Node) originate(t wire.MessageType, flags wire.Flags, dest string, body []byte) ([16]byte, error) {
	payload, err := wire.EncodeEnvelope(n.id.PeerID, dest, body)
	if err != nil {
		return [16]byte{}, err
	}

	if thr := n.cfg.Mesh.CompressionThreshold; thr > 0 && len(payload) > thr {
		if res := compress.Compress(payload); res.Compressed {
			payload = res.Data
			flags |= wire.FlagIsCompressed
		}
	}

	msg, err := wire.NewMessage(t, flags, n.cfg.Mesh.MaxHops, payload, n.cfg.Mesh.MessageTTL)
	if err != nil {
		return [16]byte{}, err
	}
	frags, err := mesh.Split(msg, n.cfg.Mesh.MTU)
	if err != nil {
		return [16]byte{}, err
	}

	for _, frag := range frags {
		// Our own frames must read as duplicates when they echo back.
		n.dedup.MarkSeen(mesh.DedupKey(frag))
		if err := n.transmit(frag, dest); err != nil {
			return msg.Header.MessageID, err
		}
	}
	n.rec.FrameSent(t.String())
	return msg.Header.MessageID, nil
}

// transmit picks the wire path for one frame: broadcast fans out,
// unicast follows the route table and falls back to flooding.
func (n *Node) transmit(msg *wire.Message, dest string) error {
	frame := msg.Marshal()
	if msg.IsBroadcast() || dest == "" {
		return n.tp.Broadcast(frame)
	}
	if next, ok := n.table.NextHop(dest); ok {
		return n.tp.Send(next, frame)
	}
	return n.tp.Broadcast(frame)
}

// SendBroadcast floods a plaintext message to the whole mesh.
func (n *Node) SendBroadcast(message string) (string, error) {
	if err := n.requireActive(); err != nil {
		return "", err
	}
	id, err := n.originate(wire.TypeText, wire.FlagIsBroadcast, "", []byte(message))
	if err != nil {
		return "", err
	}
	msgID := hex.EncodeToString(id[:])
	n.bus.emit(Event{Type: EventBroadcastSent, MessageID: msgID, Payload: []byte(message)})
	return msgID, nil
}

// SendPrivate encrypts a message through the peer's session and routes it
// to them. The peer must have completed a handshake (see ConnectPeer);
// without a session this fails with ErrNoSession.
func (n *Node) SendPrivate(peerID string, message string) (string, error) {
	if err := n.requireActive(); err != nil {
		return "", err
	}
	if n.peers.isBlocked(peerID) {
		return "", ErrPeerBlocked
	}

	ciphertext, err := n.sessions.Encrypt(peerID, []byte(message), nil)
	if err != nil {
		return "", err
	}
	id, err := n.originate(wire.TypePrivateMessage, wire.FlagEncrypted|wire.FlagRequiresAck, peerID, ciphertext)
	if err != nil {
		return "", err
	}
	msgID := hex.EncodeToString(id[:])
	n.bus.emit(Event{Type: EventPrivateSent, PeerID: peerID, MessageID: msgID})
	return msgID, nil
}

// ConnectPeer establishes (or awaits) a secure session with a peer: it
// runs the handshake, over the direct link for neighbors or routed
// through the mesh otherwise, and suspends until completion, failure,
// timeout, or context cancellation.
func (n *Node) ConnectPeer(ctx context.Context, peerID string) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	if n.peers.isBlocked(peerID) {
		return ErrPeerBlocked
	}
	if s, ok := n.sessions.Get(peerID); ok && s.Usable() {
		return nil
	}

	msg1, await, err := n.hs.Initiate(peerID)
	if err != nil {
		return err
	}
	if msg1 != nil {
		n.peers.mutate(peerID, func(p *Peer) { p.State = PeerSecuring })
		n.bus.emit(Event{Type: EventHandshakeStarted, PeerID: peerID})
		if r, ok := n.table.Lookup(peerID); ok && r.HopCount == 0 {
			n.sendBareFrame(peerID, wire.TypeHandshakeInit, msg1)
		} else {
			// Not a direct neighbor: route the handshake through the mesh.
			if _, err := n.originate(wire.TypeHandshakeInit, 0, peerID, msg1); err != nil {
				_ = n.hs.Cancel(peerID)
				return err
			}
		}
	}

	select {
	case out := <-await:
		return out.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetScanParameters passes discovery tuning through to the transport.
func (n *Node) SetScanParameters(p transport.ScanParameters) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	return n.tp.SetScanParameters(p)
}

// SetPowerMode passes duty-cycle tuning through to the transport.
func (n *Node) SetPowerMode(mode transport.PowerMode) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	return n.tp.SetPowerMode(mode)
}

// CancelHandshake aborts a pending handshake toward the peer.
func (n *Node) CancelHandshake(peerID string) error {
	return n.hs.Cancel(peerID)
}

// FindRoute resolves a route to dest, flooding a discovery request and
// suspending until a reply or timeout when the table has none.
func (n *Node) FindRoute(ctx context.Context, dest string) (mesh.Route, error) {
	if err := n.requireActive(); err != nil {
		return mesh.Route{}, err
	}
	return n.pf.FindRoute(ctx, dest, func(requestID string) error {
		body, err := wire.EncodeDiscovery(requestID, dest)
		if err != nil {
			return err
		}
		_, err = n.originate(wire.TypePeerRequest, wire.FlagIsBroadcast, "", body)
		return err
	})
}

// Announce broadcasts our presence and display name to the mesh.
func (n *Node) Announce(displayName string) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	_, err := n.originate(wire.TypePeerAnnounce, wire.FlagIsBroadcast, "", []byte(displayName))
	return err
}

// Heartbeat broadcasts a liveness beacon. Receivers relay it like any other
// broadcast, up to the configured hop budget.
func (n *Node) Heartbeat() error {
	if err := n.requireActive(); err != nil {
		return err
	}
	_, err := n.originate(wire.TypeHeartbeat, wire.FlagIsBroadcast, "", nil)
	return err
}

// JoinChannel subscribes to a topic channel. Channel frames for other
// channels are still relayed, just not delivered upward.
func (n *Node) JoinChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("%w: empty channel", wire.ErrInvalidFormat)
	}
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return fmt.Errorf("%w: node is destroyed", ErrInvalidState)
	}
	n.channels[channel] = true
	n.mu.Unlock()
	n.bus.emit(Event{Type: EventChannelJoined, Channel: channel})
	return nil
}

// LeaveChannel unsubscribes from a topic channel.
func (n *Node) LeaveChannel(channel string) error {
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return fmt.Errorf("%w: node is destroyed", ErrInvalidState)
	}
	delete(n.channels, channel)
	n.mu.Unlock()
	n.bus.emit(Event{Type: EventChannelLeft, Channel: channel})
	return nil
}

// Channels lists the joined channels.
func (n *Node) Channels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.channels))
	for ch := range n.channels {
		out = append(out, ch)
	}
	return out
}

// SendChannelMessage broadcasts a message on a channel.
func (n *Node) SendChannelMessage(channel, message string) (string, error) {
	if err := n.requireActive(); err != nil {
		return "", err
	}
	body, err := wire.EncodeChannelPayload(channel, []byte(message))
	if err != nil {
		return "", err
	}
	id, err := n.originate(wire.TypeChannelMessage, wire.FlagIsBroadcast, "", body)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id[:]), nil
}

// BlockPeer drops all state for the peer and refuses its future frames.
func (n *Node) BlockPeer(peerID string) {
	n.peers.block(peerID)
	n.sessions.Remove(peerID)
	n.table.RemoveRoutesVia(peerID)
	if n.hs.Pending(peerID) {
		_ = n.hs.Cancel(peerID)
	}
	n.bus.emit(Event{Type: EventPeerBlocked, PeerID: peerID})
}

// UnblockPeer lifts a block.
func (n *Node) UnblockPeer(peerID string) {
	n.peers.unblock(peerID)
	n.bus.emit(Event{Type: EventPeerUnblocked, PeerID: peerID})
}

// CacheForOfflinePeer stores a plaintext payload for delivery when the
// recipient next completes a handshake with us.
func (n *Node) CacheForOfflinePeer(recipient string, payload []byte) error {
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return fmt.Errorf("%w: node is destroyed", ErrInvalidState)
	}
	n.mu.Unlock()

	if max := n.cfg.Cache.MaxPayloadSize.Int(); max > 0 && len(payload) > max {
		return fmt.Errorf("%w: payload %d bytes exceeds %s",
			storeforward.ErrInvalidPayload, len(payload), n.cfg.Cache.MaxPayloadSize)
	}
	_, err := n.cache.Put(recipient, [16]byte{}, payload)
	if err != nil {
		return err
	}
	n.rec.CacheStored()
	n.rec.SetCacheEntries(n.cache.Total())
	return nil
}

// DeliverCachedMessages flushes the store-and-forward queue for a peer
// through its session. Failed sends stay cached for the next attempt.
func (n *Node) DeliverCachedMessages(recipient string) (delivered int, failed int) {
	delivered, failed = n.cache.Deliver(recipient, func(e *storeforward.Entry) error {
		ciphertext, err := n.sessions.Encrypt(recipient, e.Payload, nil)
		if err != nil {
			return err
		}
		_, err = n.originate(wire.TypePrivateMessage, wire.FlagEncrypted, recipient, ciphertext)
		return err
	})
	if delivered > 0 {
		for i := 0; i < delivered; i++ {
			n.rec.CacheDelivered()
		}
		n.bus.emit(Event{Type: EventCachedDelivered, PeerID: recipient, Count: delivered})
		logger.Info("cached messages delivered",
			logger.PeerID(recipient), "delivered", delivered, "failed", failed)
	}
	n.rec.SetCacheEntries(n.cache.Total())
	return delivered, failed
}

// ExportSession persists the peer's session blob through the Store so it
// survives a restart.
func (n *Node) ExportSession(peerID string) error {
	s, ok := n.sessions.Get(peerID)
	if !ok {
		return ErrNoSession
	}
	return n.store.Set("session/"+peerID, s.Export())
}

// ImportSession reconstitutes a previously exported session.
func (n *Node) ImportSession(peerID string) error {
	blob, err := n.store.Get("session/" + peerID)
	if err != nil {
		return err
	}
	if _, err := n.sessions.InstallImported(peerID, blob); err != nil {
		return err
	}
	n.peers.mutate(peerID, func(p *Peer) { p.State = PeerSecured })
	return nil
}
