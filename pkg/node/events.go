package node

import (
	"sync/atomic"
	"time"
)

// EventType tags the records the node emits upward.
type EventType string

const (
	EventInitialized        EventType = "initialized"
	EventStateChanged       EventType = "state_changed"
	EventPeerDiscovered     EventType = "peer_discovered"
	EventPeerConnected      EventType = "peer_connected"
	EventPeerDisconnected   EventType = "peer_disconnected"
	EventPeerBlocked        EventType = "peer_blocked"
	EventPeerUnblocked      EventType = "peer_unblocked"
	EventPeerSecured        EventType = "peer_secured"
	EventHandshakeStarted   EventType = "handshake_started"
	EventHandshakeProgress  EventType = "handshake_progress"
	EventHandshakeComplete  EventType = "handshake_complete"
	EventHandshakeFailed    EventType = "handshake_failed"
	EventMessageReceived    EventType = "message_received"
	EventMessageRelayed     EventType = "message_relayed"
	EventMessageDropped     EventType = "message_dropped"
	EventPrivateSent        EventType = "private_message_sent"
	EventPrivateReceived    EventType = "private_message_received"
	EventBroadcastSent      EventType = "broadcast_sent"
	EventBroadcastReceived  EventType = "broadcast_received"
	EventChannelJoined      EventType = "channel_joined"
	EventChannelLeft        EventType = "channel_left"
	EventChannelMessage     EventType = "channel_message"
	EventReadReceipt        EventType = "read_receipt"
	EventCachedDelivered    EventType = "cached_messages_delivered"
	EventError              EventType = "error"
)

// Event is one typed record. Fields beyond Type and Time are populated as
// relevant for the type.
type Event struct {
	Type      EventType
	Time      time.Time
	PeerID    string
	MessageID string
	Channel   string
	Reason    string
	OldState  string
	NewState  string
	Payload   []byte
	Count     int
	Elapsed   time.Duration
	Err       error
}

// DefaultEventQueueSize bounds the event queue when the config leaves it
// zero.
const DefaultEventQueueSize = 256

// eventBus is the bounded queue the application drains on its own
// goroutine. Emission never blocks the processing path: when the consumer
// falls behind, new events are dropped and counted.
type eventBus struct {
	ch      chan Event
	dropped atomic.Uint64
}

func newEventBus(size int) *eventBus {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	return &eventBus{ch: make(chan Event, size)}
}

// emit enqueues the event, stamping its time.
func (b *eventBus) emit(e Event) {
	e.Time = time.Now()
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// events exposes the drain side.
func (b *eventBus) events() <-chan Event {
	return b.ch
}

// droppedCount reports how many events were lost to backpressure.
func (b *eventBus) droppedCount() uint64 {
	return b.dropped.Load()
}
