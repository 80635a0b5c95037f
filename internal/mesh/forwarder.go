package mesh

import (
	"time"

	"github.com/peerwave/peerwave/internal/dedup"
	"github.com/peerwave/peerwave/internal/protocol/wire"
)

// Drop reasons reported in Decision and in message_dropped events.
const (
	DropDuplicate = "duplicate"
	DropExpired   = "expired"
	DropMaxHops   = "max_hops"
	DropLoop      = "loop"
)

// Decision is the forwarding verdict for one inbound message. Deliver and
// RelayTargets can both be set (broadcasts, unaddressed fragments);
// DropReason is set only when the frame is neither delivered nor relayed.
type Decision struct {
	Deliver      bool
	RelayTargets []string
	DropReason   string
}

// Relay reports whether the message should be forwarded onward.
func (d Decision) Relay() bool {
	return len(d.RelayTargets) > 0
}

// Forwarder applies the relay pipeline: dedup, TTL, hop budget, route
// learning, local delivery, and relay target selection. It mutates only
// the dedup detector and the route table; actual sends are the caller's.
type Forwarder struct {
	local string
	dedup *dedup.Detector
	table *Table

	now func() time.Time
}

// NewForwarder creates a forwarding engine for the local peer id.
func NewForwarder(local string, d *dedup.Detector, t *Table) *Forwarder {
	return &Forwarder{
		local: local,
		dedup: d,
		table: t,
		now:   time.Now,
	}
}

// Process runs one inbound message through the pipeline.
//
//	src       transport neighbor the frame arrived from
//	sender    originating peer (empty when unknown)
//	dest      destination peer (empty for broadcasts)
//	connected currently connected neighbors, relay candidates
//
// Order: duplicate, expired, hop budget, then mark-seen and route
// learning, then the deliver/relay verdict. A frame that already spent its
// hop budget still delivers locally; only the onward relay is refused.
func (f *Forwarder) Process(msg *wire.Message, src, sender, dest string, connected []string) Decision {
	if f.dedup.IsDuplicate(DedupKey(msg)) {
		return Decision{DropReason: DropDuplicate}
	}
	if msg.IsExpired(f.now()) {
		return Decision{DropReason: DropExpired}
	}

	// Unicast fragments carry their addressing inside the reassembled
	// payload, so an unaddressed fragment is a local-delivery candidate:
	// reassembly decides whether the whole message was for us.
	forLocal := msg.IsBroadcast() || dest == f.local || (msg.IsFragment() && dest == "")
	outOfHops := msg.Header.HopCount >= msg.Header.MaxHops
	if outOfHops && !forLocal {
		return Decision{DropReason: DropMaxHops}
	}

	f.dedup.MarkSeen(DedupKey(msg))

	// Learn routes from the frame: the transport neighbor is zero hops
	// away, and the originator is reachable through it at the frame's
	// current hop depth.
	f.table.AddRoute(src, src, 0, 0)
	if sender != "" && sender != f.local && sender != src {
		f.table.AddRoute(sender, src, msg.Header.HopCount, 0)
	}

	d := Decision{Deliver: forLocal}
	if outOfHops {
		return d
	}
	if msg.IsBroadcast() {
		d.RelayTargets = f.broadcastTargets(src, sender, connected)
		return d
	}
	if dest != f.local {
		d.RelayTargets, d.DropReason = f.unicastTargets(src, sender, dest, connected)
	}
	return d
}

// broadcastTargets is every connected peer except the frame's source and
// its originator.
func (f *Forwarder) broadcastTargets(src, sender string, connected []string) []string {
	var out []string
	for _, p := range connected {
		if p == src || p == sender || p == f.local {
			continue
		}
		out = append(out, p)
	}
	return out
}

// unicastTargets picks the single next hop when a route is known, or
// falls back to flooding every peer except the source. A route pointing
// straight back at the source is reported as a loop.
func (f *Forwarder) unicastTargets(src, sender, dest string, connected []string) ([]string, string) {
	if next, ok := f.table.NextHop(dest); ok {
		if next == src {
			return nil, DropLoop
		}
		return []string{next}, ""
	}
	var out []string
	for _, p := range connected {
		if p == src || p == sender || p == f.local {
			continue
		}
		out = append(out, p)
	}
	return out, ""
}

// DedupKey derives the duplicate-detection key for a message. Fragments
// share their message id, so the fragment coordinates are folded in to
// keep sibling fragments from suppressing each other.
func DedupKey(msg *wire.Message) [16]byte {
	id := msg.Header.MessageID
	if msg.IsFragment() {
		id[12] ^= 0xf5
		id[13] ^= msg.Header.FragmentTotal
		id[14] ^= msg.Header.FragmentIndex
	}
	return id
}
