package node

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/peerwave/peerwave/internal/compress"
	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/internal/mesh"
	"github.com/peerwave/peerwave/internal/noise"
	"github.com/peerwave/peerwave/internal/protocol/wire"
	"github.com/peerwave/peerwave/pkg/bufpool"
)

// HandlePeerConnected implements transport.Handler.
func (n *Node) HandlePeerConnected(peerID string, rssi int) {
	if n.State() != StateActive || n.peers.isBlocked(peerID) {
		return
	}
	p, isNew := n.peers.upsert(peerID)
	if p == nil {
		logger.Warn("peer registry full, ignoring peer", logger.PeerID(peerID))
		return
	}
	n.peers.mutate(peerID, func(p *Peer) {
		p.State = PeerConnected
		p.RSSI = rssi
		p.HopDistance = 0
	})
	n.table.AddRoute(peerID, peerID, 0, 0)
	n.pf.RouteInstalled(peerID)

	if isNew {
		n.bus.emit(Event{Type: EventPeerDiscovered, PeerID: peerID})
	}
	n.bus.emit(Event{Type: EventPeerConnected, PeerID: peerID})
	n.rec.SetPeers(n.peers.count())
	logger.Debug("peer connected", logger.PeerID(peerID), "rssi", rssi)
}

// HandlePeerDisconnected implements transport.Handler.
func (n *Node) HandlePeerDisconnected(peerID string, reason string) {
	if n.State() != StateActive {
		return
	}
	n.peers.mutate(peerID, func(p *Peer) { p.State = PeerDisconnected })
	removed := n.table.RemoveRoutesVia(peerID)
	n.bus.emit(Event{Type: EventPeerDisconnected, PeerID: peerID, Reason: reason})
	logger.Debug("peer disconnected",
		logger.PeerID(peerID), logger.Reason(reason), "routes_removed", removed)
}

// HandleMessage implements transport.Handler: the single inbound dispatch
// point. The first byte routes the frame: handshake types arrive as bare
// frames, everything else carries the fixed mesh header.
func (n *Node) HandleMessage(peerID string, data []byte) {
	if n.State() != StateActive {
		return
	}
	if n.peers.isBlocked(peerID) {
		return
	}
	tag, err := wire.PeekTag(data)
	if err != nil {
		n.invalidFrames.Add(1)
		return
	}
	n.peers.upsert(peerID)

	switch {
	case wire.MessageType(tag).IsHandshake():
		n.rec.FrameReceived(wire.MessageType(tag).String())
		n.handleHandshakeFrame(peerID, wire.MessageType(tag), data[1:], func(rt wire.MessageType, payload []byte) {
			n.sendBareFrame(peerID, rt, payload)
		})
	case tag == wire.ProtocolVersion:
		n.handleMeshFrame(peerID, data)
	default:
		n.invalidFrames.Add(1)
		logger.Debug("unrecognized frame tag", logger.PeerID(peerID), "tag", tag)
	}
}

// handleHandshakeFrame feeds the pending-handshake manager and transmits
// whatever reply the state machine produces through reply, which hides
// whether the exchange runs over a direct link or a multi-hop route.
func (n *Node) handleHandshakeFrame(peerID string, t wire.MessageType, payload []byte, reply func(wire.MessageType, []byte)) {
	switch t {
	case wire.TypeHandshakeInit:
		wasPending := n.hs.Pending(peerID)
		msg2, err := n.hs.HandleInit(peerID, payload)
		if errors.Is(err, noise.ErrInProgress) {
			// Tie-break: our own initiation stands; drop the crossing INIT.
			logger.Debug("crossing handshake init ignored", logger.PeerID(peerID))
			return
		}
		if err != nil {
			n.rec.HandshakeFailed()
			n.bus.emit(Event{Type: EventHandshakeFailed, PeerID: peerID, Err: err})
			return
		}
		if !wasPending {
			n.bus.emit(Event{Type: EventHandshakeStarted, PeerID: peerID})
		}
		n.peers.mutate(peerID, func(p *Peer) { p.State = PeerSecuring })
		reply(wire.TypeHandshakeResponse, msg2)
		n.bus.emit(Event{Type: EventHandshakeProgress, PeerID: peerID})

	case wire.TypeHandshakeResponse:
		res, err := n.hs.HandleResponse(peerID, payload, func(msg3 []byte) error {
			reply(wire.TypeHandshakeFinal, msg3)
			return nil
		})
		if err != nil {
			if !errors.Is(err, noise.ErrNoPending) {
				logger.Debug("handshake response rejected", logger.PeerID(peerID), logger.Err(err))
			}
			return // failures are emitted via the manager's OnFailed hook
		}
		n.finishHandshake(res)

	case wire.TypeHandshakeFinal:
		res, err := n.hs.HandleFinal(peerID, payload)
		if err != nil {
			if !errors.Is(err, noise.ErrNoPending) {
				logger.Debug("handshake final rejected", logger.PeerID(peerID), logger.Err(err))
			}
			return
		}
		n.finishHandshake(res)
	}
}

// installSession runs from the manager's OnComplete hook, before any
// awaiting caller resumes: the session must exist by then.
func (n *Node) installSession(res *noise.Result) {
	n.sessions.Install(res.PeerID, res.SendKey, res.RecvKey)
	remoteStatic := res.RemoteStatic
	n.peers.mutate(res.PeerID, func(p *Peer) {
		p.State = PeerSecured
		p.StaticKey = &remoteStatic
	})
}

// finishHandshake emits the completion events and flushes anything cached
// for the now-reachable peer. The session was installed by installSession.
func (n *Node) finishHandshake(res *noise.Result) {
	n.rec.HandshakeCompleted()
	n.rec.SessionEstablished()
	n.bus.emit(Event{
		Type:    EventHandshakeComplete,
		PeerID:  res.PeerID,
		Payload: res.RemoteStatic[:],
		Elapsed: res.Elapsed,
	})
	n.bus.emit(Event{Type: EventPeerSecured, PeerID: res.PeerID})
	logger.Info("handshake complete",
		logger.PeerID(res.PeerID), logger.DurationMs(float64(res.Elapsed.Milliseconds())))

	n.DeliverCachedMessages(res.PeerID)
}

// handleMeshFrame runs a headered frame through parse, dedup, routing,
// local delivery, and relay. Wire-parse failures only count and drop.
func (n *Node) handleMeshFrame(src string, data []byte) {
	msg, err := wire.Unmarshal(data)
	if err != nil {
		n.invalidFrames.Add(1)
		logger.Debug("frame dropped", logger.PeerID(src), logger.Err(err))
		return
	}
	n.rec.FrameReceived(msg.Header.Type.String())

	ctx := logger.WithContext(context.Background(), &logger.LogContext{
		PeerID:    src,
		MessageID: hex.EncodeToString(msg.Header.MessageID[:]),
		MsgType:   msg.Header.Type.String(),
	})

	// Fragments carry their envelope inside the reassembled payload; for
	// whole messages decode it now so the forwarder can route.
	var sender, dest string
	var body []byte
	if !msg.IsFragment() {
		payload, err := n.decodePayload(msg)
		if err != nil {
			n.invalidFrames.Add(1)
			logger.DebugCtx(ctx, "payload rejected", logger.Err(err))
			return
		}
		sender, dest, body, err = wire.DecodeEnvelope(payload)
		if err != nil {
			n.invalidFrames.Add(1)
			logger.DebugCtx(ctx, "envelope rejected", logger.Err(err))
			return
		}
		if n.peers.isBlocked(sender) {
			return
		}
	}

	decision := n.fwd.Process(msg, src, sender, dest, n.connectedPeers())
	n.rec.DedupCheck(decision.DropReason == mesh.DropDuplicate)

	if decision.DropReason != "" {
		n.rec.MessageDropped(decision.DropReason)
		if decision.DropReason != mesh.DropDuplicate {
			// Duplicates drop silently; the rest are reported.
			n.bus.emit(Event{
				Type:      EventMessageDropped,
				PeerID:    src,
				MessageID: hex.EncodeToString(msg.Header.MessageID[:]),
				Reason:    decision.DropReason,
			})
		}
		return
	}

	if msg.IsFragment() {
		n.handleFragment(ctx, src, msg)
	} else if decision.Deliver {
		n.deliverLocal(ctx, msg.Header, src, sender, dest, body)
	}

	if decision.Relay() {
		n.relay(ctx, data, msg, decision.RelayTargets)
	}
}

// decodePayload undoes payload compression when flagged.
func (n *Node) decodePayload(msg *wire.Message) ([]byte, error) {
	return compress.Decompress(msg.Payload, msg.IsCompressed())
}

// handleFragment feeds the reassembler; a completed assembly is decoded
// and, if addressed to us (or broadcast), delivered like a whole frame.
func (n *Node) handleFragment(ctx context.Context, src string, msg *wire.Message) {
	payload, done, err := n.reasm.Add(msg)
	if err != nil {
		n.invalidFrames.Add(1)
		logger.DebugCtx(ctx, "fragment rejected", logger.Err(err))
		return
	}
	if !done {
		return
	}

	payload, err = compress.Decompress(payload, msg.IsCompressed())
	if err != nil {
		n.invalidFrames.Add(1)
		logger.DebugCtx(ctx, "reassembled payload rejected", logger.Err(err))
		return
	}
	sender, dest, body, err := wire.DecodeEnvelope(payload)
	if err != nil {
		n.invalidFrames.Add(1)
		logger.DebugCtx(ctx, "reassembled envelope rejected", logger.Err(err))
		return
	}
	if n.peers.isBlocked(sender) {
		return
	}
	if dest != n.id.PeerID && !msg.IsBroadcast() {
		return // reassembled for routing visibility only; not ours
	}

	h := msg.Header
	h.Flags &^= wire.FlagIsFragment | wire.FlagIsCompressed
	h.FragmentIndex, h.FragmentTotal = 0, 1
	n.deliverLocal(ctx, h, src, sender, dest, body)
}

// deliverLocal hands one complete, addressed message to its type handler.
func (n *Node) deliverLocal(ctx context.Context, h wire.Header, src, sender, dest string, body []byte) {
	msgID := hex.EncodeToString(h.MessageID[:])

	switch h.Type {
	case wire.TypeHandshakeInit, wire.TypeHandshakeResponse, wire.TypeHandshakeFinal:
		// Handshakes with non-neighbors ride the mesh as routed unicasts;
		// replies route back the same way.
		n.handleHandshakeFrame(sender, h.Type, body, func(rt wire.MessageType, payload []byte) {
			if _, err := n.originate(rt, 0, sender, payload); err != nil {
				n.bus.emit(Event{Type: EventError, PeerID: sender, Err: err})
			}
		})

	case wire.TypeText:
		n.bus.emit(Event{Type: EventMessageReceived, PeerID: sender, MessageID: msgID, Payload: body})
		n.bus.emit(Event{Type: EventBroadcastReceived, PeerID: sender, MessageID: msgID, Payload: body})

	case wire.TypePrivateMessage:
		plaintext, err := n.sessions.Decrypt(sender, body, nil)
		if err != nil {
			// Not decryptable: either not ours, corrupt, or no session.
			// Never an upward error; the frame simply dies here.
			logger.DebugCtx(ctx, "private message not decryptable", logger.Err(err))
			return
		}
		n.bus.emit(Event{Type: EventMessageReceived, PeerID: sender, MessageID: msgID, Payload: plaintext})
		n.bus.emit(Event{Type: EventPrivateReceived, PeerID: sender, MessageID: msgID, Payload: plaintext})
		if h.Flags.Has(wire.FlagRequiresAck) {
			if err := n.sendReadReceipt(sender, h.MessageID); err != nil {
				logger.DebugCtx(ctx, "read receipt send failed", logger.Err(err))
			}
		}

	case wire.TypeChannelMessage:
		channel, chBody, err := wire.DecodeChannelPayload(body)
		if err != nil {
			n.invalidFrames.Add(1)
			return
		}
		n.mu.Lock()
		joined := n.channels[channel]
		n.mu.Unlock()
		if !joined {
			return // relayed regardless, but only joined channels deliver
		}
		n.bus.emit(Event{Type: EventMessageReceived, PeerID: sender, MessageID: msgID, Channel: channel, Payload: chBody})
		n.bus.emit(Event{Type: EventChannelMessage, PeerID: sender, MessageID: msgID, Channel: channel, Payload: chBody})

	case wire.TypePeerAnnounce:
		name := string(body)
		n.peers.mutate(sender, func(p *Peer) {
			p.DisplayName = name
			p.HopDistance = h.HopCount
		})
		n.bus.emit(Event{Type: EventPeerDiscovered, PeerID: sender, Payload: body})

	case wire.TypePeerRequest:
		requestID, target, err := wire.DecodeDiscovery(body)
		if err != nil {
			n.invalidFrames.Add(1)
			return
		}
		if target == n.id.PeerID {
			// We are who they are looking for: answer toward the seeker.
			reply, err := wire.EncodeDiscovery(requestID, target)
			if err != nil {
				return
			}
			if _, err := n.originate(wire.TypePeerResponse, 0, sender, reply); err != nil {
				logger.DebugCtx(ctx, "route reply failed", logger.Err(err))
			}
		}

	case wire.TypePeerResponse:
		_, target, err := wire.DecodeDiscovery(body)
		if err != nil {
			n.invalidFrames.Add(1)
			return
		}
		// The forwarder already learned the route from the envelope
		// sender; this just wakes any suspended discovery.
		n.pf.RouteInstalled(target)

	case wire.TypeHeartbeat:
		// Last-seen refresh happened on receipt; nothing else to do.

	case wire.TypeReadReceipt:
		if len(body) == 16 {
			n.bus.emit(Event{Type: EventReadReceipt, PeerID: sender, MessageID: hex.EncodeToString(body)})
		}

	default:
		// Unknown-but-valid frames go to the generic sink.
		n.bus.emit(Event{Type: EventMessageReceived, PeerID: sender, MessageID: msgID, Payload: body})
	}
}

// relay forwards the frame to the selected targets with the hop count
// bumped in place.
func (n *Node) relay(ctx context.Context, frame []byte, msg *wire.Message, targets []string) {
	relayed := bufpool.Get(len(frame))
	defer bufpool.Put(relayed)
	copy(relayed, frame)
	if err := wire.BumpHopCount(relayed); err != nil {
		logger.DebugCtx(ctx, "relay aborted", logger.Err(err))
		return
	}

	sent := 0
	for _, target := range targets {
		if err := n.tp.Send(target, relayed); err != nil {
			// Best effort: report and keep going with the rest.
			n.bus.emit(Event{Type: EventError, PeerID: target, Err: err})
			continue
		}
		sent++
	}
	if sent > 0 {
		n.rec.MessageRelayed()
		n.rec.FrameSent(msg.Header.Type.String())
		n.bus.emit(Event{
			Type:      EventMessageRelayed,
			MessageID: hex.EncodeToString(msg.Header.MessageID[:]),
			Count:     sent,
		})
	}
}

// sendBareFrame transmits a type-prefixed frame with no mesh header.
func (n *Node) sendBareFrame(peerID string, t wire.MessageType, payload []byte) {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(t))
	frame = append(frame, payload...)
	if err := n.tp.Send(peerID, frame); err != nil {
		n.bus.emit(Event{Type: EventError, PeerID: peerID, Err: err})
		return
	}
	n.rec.FrameSent(t.String())
}

// connectedPeers lists relay candidates.
func (n *Node) connectedPeers() []string {
	return n.peers.connected()
}

// sendReadReceipt acknowledges a delivered message back to its sender.
func (n *Node) sendReadReceipt(peerID string, messageID [16]byte) error {
	_, err := n.originate(wire.TypeReadReceipt, 0, peerID, messageID[:])
	return err
}
