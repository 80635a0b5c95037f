// Package wire implements the peerwave binary wire format: a fixed
// 48-byte, big-endian, CRC-protected message header followed by an opaque
// payload. The header carries routing state (hop count, TTL), fragment
// coordinates, and a 128-bit message id used for deduplication.
package wire

import "fmt"

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion = 1

// HeaderSize is the fixed serialized header length in bytes.
const HeaderSize = 48

// MaxMessageSize bounds the payload length field.
const MaxMessageSize = 65535

// MessageType identifies the kind of frame. It is the first byte of every
// bare (headerless) handshake frame, so dispatch can route those without
// parsing further; in a serialized header it is byte 1, after the protocol
// version.
type MessageType uint8

const (
	TypeText              MessageType = 0x01
	TypePrivateMessage    MessageType = 0x02
	TypeChannelMessage    MessageType = 0x03
	TypeHandshakeInit     MessageType = 0x10
	TypeHandshakeResponse MessageType = 0x11
	TypeHandshakeFinal    MessageType = 0x12
	TypePeerAnnounce      MessageType = 0x20
	TypePeerRequest       MessageType = 0x21
	TypePeerResponse      MessageType = 0x22
	TypeHeartbeat         MessageType = 0x23
	TypeFragment          MessageType = 0x30
	TypeReadReceipt       MessageType = 0x40
)

// String returns the canonical name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypePrivateMessage:
		return "PRIVATE_MESSAGE"
	case TypeChannelMessage:
		return "CHANNEL_MESSAGE"
	case TypeHandshakeInit:
		return "HANDSHAKE_INIT"
	case TypeHandshakeResponse:
		return "HANDSHAKE_RESPONSE"
	case TypeHandshakeFinal:
		return "HANDSHAKE_FINAL"
	case TypePeerAnnounce:
		return "PEER_ANNOUNCE"
	case TypePeerRequest:
		return "PEER_REQUEST"
	case TypePeerResponse:
		return "PEER_RESPONSE"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeFragment:
		return "FRAGMENT"
	case TypeReadReceipt:
		return "READ_RECEIPT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// IsHandshake reports whether the type is one of the three handshake frames.
func (t MessageType) IsHandshake() bool {
	return t >= TypeHandshakeInit && t <= TypeHandshakeFinal
}

// Flags is the header flags bitmap.
type Flags uint8

const (
	FlagEncrypted    Flags = 1 << 0
	FlagRequiresAck  Flags = 1 << 1
	FlagIsBroadcast  Flags = 1 << 2
	FlagIsFragment   Flags = 1 << 3
	FlagHighPriority Flags = 1 << 4
	FlagIsCompressed Flags = 1 << 5
	// remaining bits reserved
)

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}
