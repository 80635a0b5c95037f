package logger

import (
	"encoding/hex"
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently so
// that logs from the codec, mesh, handshake, and node layers aggregate
// cleanly when queried.
const (
	// Frame and message identity
	KeyMessageID = "msg_id"   // 128-bit message id, hex
	KeyMsgType   = "msg_type" // wire message type name
	KeyFlags     = "flags"    // header flags bitmap
	KeySize      = "size"     // payload size in bytes

	// Mesh topology
	KeyPeerID    = "peer_id"  // opaque peer identifier
	KeySenderID  = "sender"   // originating peer of a relayed frame
	KeyNextHop   = "next_hop" // relay target peer
	KeyHops      = "hops"     // hop count of a frame or route
	KeyReason    = "reason"   // drop/failure reason
	KeyChannel   = "channel"  // channel identifier
	KeyRequestID = "request_id" // route discovery request id

	// Handshake and session
	KeyRole     = "role"     // handshake role: initiator, responder
	KeyHSState  = "hs_state" // handshake state name
	KeySession  = "session"  // session peer id
	KeyNonce    = "nonce"    // session nonce counter

	// Lifecycle
	KeyState    = "state"     // node lifecycle state
	KeyOldState = "old_state" // previous lifecycle state

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyEvicted    = "evicted"
	KeyCount      = "count"
	KeyTransport  = "transport"
	KeyStoreName  = "store"
)

// Type-safe attribute constructors for the keys above.

func MessageID(id [16]byte) slog.Attr {
	return slog.String(KeyMessageID, hex.EncodeToString(id[:]))
}

func MessageIDStr(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

func MsgType(t string) slog.Attr {
	return slog.String(KeyMsgType, t)
}

func PeerID(id string) slog.Attr {
	return slog.String(KeyPeerID, id)
}

func SenderID(id string) slog.Attr {
	return slog.String(KeySenderID, id)
}

func NextHop(id string) slog.Attr {
	return slog.String(KeyNextHop, id)
}

func Hops(n uint8) slog.Attr {
	return slog.Int(KeyHops, int(n))
}

func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

func Channel(ch string) slog.Attr {
	return slog.String(KeyChannel, ch)
}

func Role(r string) slog.Attr {
	return slog.String(KeyRole, r)
}

func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

func Size(n int) slog.Attr {
	return slog.Int(KeySize, n)
}

func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns an attribute for an error; the zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
