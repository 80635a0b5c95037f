package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

// Header field offsets within the 48-byte serialized form. All multi-byte
// fields are big-endian.
const (
	offVersion       = 0
	offType          = 1
	offFlags         = 2
	offHopCount      = 3
	offMaxHops       = 4
	offReserved      = 5 // 3 bytes, zero
	offMessageID     = 8
	offTimestamp     = 24
	offExpiresAt     = 32
	offPayloadLength = 40
	offFragmentIndex = 42
	offFragmentTotal = 43
	offChecksum      = 44
)

// Header is the fixed 48-byte message header.
//
// Invariants enforced by Validate: HopCount <= MaxHops, FragmentIndex <
// FragmentTotal for fragments, PayloadLength <= MaxMessageSize, and
// ExpiresAt > Timestamp. The checksum is CRC-32 (IEEE) over bytes 0..43 and
// is computed during Marshal, never stored in the struct.
type Header struct {
	Version       uint8
	Type          MessageType
	Flags         Flags
	HopCount      uint8
	MaxHops       uint8
	MessageID     [16]byte
	Timestamp     uint64 // ms since epoch
	ExpiresAt     uint64 // ms since epoch
	PayloadLength uint16
	FragmentIndex uint8
	FragmentTotal uint8
}

// NewMessageID returns a fresh random 128-bit message id in UUIDv4 layout.
func NewMessageID() [16]byte {
	return uuid.New()
}

// MessageIDString renders a message id as its canonical UUID string.
func MessageIDString(id [16]byte) string {
	return uuid.UUID(id).String()
}

// NewHeader builds a header for a frame originated locally. Timestamp is
// now; ExpiresAt is now + ttl.
func NewHeader(t MessageType, flags Flags, maxHops uint8, payloadLen int, ttl time.Duration) (Header, error) {
	if payloadLen < 0 || payloadLen > MaxMessageSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}
	now := uint64(time.Now().UnixMilli())
	return Header{
		Version:       ProtocolVersion,
		Type:          t,
		Flags:         flags,
		MaxHops:       maxHops,
		MessageID:     NewMessageID(),
		Timestamp:     now,
		ExpiresAt:     now + uint64(ttl.Milliseconds()),
		PayloadLength: uint16(payloadLen),
		FragmentTotal: 1,
	}, nil
}

// Validate checks the header invariants.
func (h *Header) Validate() error {
	if h.HopCount > h.MaxHops {
		return fmt.Errorf("%w: hop count %d exceeds max hops %d", ErrInvalidFormat, h.HopCount, h.MaxHops)
	}
	if h.Flags.Has(FlagIsFragment) && h.FragmentIndex >= h.FragmentTotal {
		return fmt.Errorf("%w: fragment index %d out of range [0,%d)", ErrInvalidFormat, h.FragmentIndex, h.FragmentTotal)
	}
	if h.ExpiresAt <= h.Timestamp {
		return fmt.Errorf("%w: expires_at %d not after timestamp %d", ErrInvalidFormat, h.ExpiresAt, h.Timestamp)
	}
	return nil
}

// Marshal serializes the header, computing the CRC last and writing it at
// offset 44.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[offVersion] = h.Version
	buf[offType] = uint8(h.Type)
	buf[offFlags] = uint8(h.Flags)
	buf[offHopCount] = h.HopCount
	buf[offMaxHops] = h.MaxHops
	// bytes 5..7 reserved, left zero
	copy(buf[offMessageID:offMessageID+16], h.MessageID[:])
	binary.BigEndian.PutUint64(buf[offTimestamp:], h.Timestamp)
	binary.BigEndian.PutUint64(buf[offExpiresAt:], h.ExpiresAt)
	binary.BigEndian.PutUint16(buf[offPayloadLength:], h.PayloadLength)
	buf[offFragmentIndex] = h.FragmentIndex
	buf[offFragmentTotal] = h.FragmentTotal
	binary.BigEndian.PutUint32(buf[offChecksum:], crc32.ChecksumIEEE(buf[:offChecksum]))
	return buf
}

// UnmarshalHeader parses a serialized header. It fails with
// ErrInvalidFormat on short input and ErrInvalidChecksum on CRC mismatch.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrInvalidFormat, HeaderSize, len(data))
	}

	stored := binary.BigEndian.Uint32(data[offChecksum:offChecksum+4])
	if computed := crc32.ChecksumIEEE(data[:offChecksum]); computed != stored {
		return Header{}, fmt.Errorf("%w: computed %08x, stored %08x", ErrInvalidChecksum, computed, stored)
	}

	var h Header
	h.Version = data[offVersion]
	h.Type = MessageType(data[offType])
	h.Flags = Flags(data[offFlags])
	h.HopCount = data[offHopCount]
	h.MaxHops = data[offMaxHops]
	copy(h.MessageID[:], data[offMessageID:offMessageID+16])
	h.Timestamp = binary.BigEndian.Uint64(data[offTimestamp:])
	h.ExpiresAt = binary.BigEndian.Uint64(data[offExpiresAt:])
	h.PayloadLength = binary.BigEndian.Uint16(data[offPayloadLength:])
	h.FragmentIndex = data[offFragmentIndex]
	h.FragmentTotal = data[offFragmentTotal]
	return h, nil
}

// PeekTag returns the first byte of an inbound datagram. For bare frames
// (handshake exchanges, §6) it is the message type; for headered mesh
// frames it is the protocol version. Dispatch switches on it.
func PeekTag(frame []byte) (uint8, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("%w: empty frame", ErrInvalidFormat)
	}
	return frame[0], nil
}

// BumpHopCount increments the hop count of a serialized frame in place and
// rewrites the checksum, so relays can forward without a reparse/copy cycle.
func BumpHopCount(frame []byte) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("%w: frame shorter than header", ErrInvalidFormat)
	}
	if frame[offHopCount] == 0xff {
		return fmt.Errorf("%w: hop count overflow", ErrInvalidFormat)
	}
	frame[offHopCount]++
	binary.BigEndian.PutUint32(frame[offChecksum:], crc32.ChecksumIEEE(frame[:offChecksum]))
	return nil
}
