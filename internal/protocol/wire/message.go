package wire

import (
	"fmt"
	"time"
)

// Message is a header plus its payload buffer. Messages are immutable once
// built except for the hop count, which only the forwarder mutates.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds a locally originated message. The payload is not copied.
func NewMessage(t MessageType, flags Flags, maxHops uint8, payload []byte, ttl time.Duration) (*Message, error) {
	h, err := NewHeader(t, flags, maxHops, len(payload), ttl)
	if err != nil {
		return nil, err
	}
	return &Message{Header: h, Payload: payload}, nil
}

// IsFragment reports whether the message is a fragment of a larger payload.
func (m *Message) IsFragment() bool {
	return m.Header.Flags.Has(FlagIsFragment)
}

// IsBroadcast reports whether the message is addressed to every peer.
func (m *Message) IsBroadcast() bool {
	return m.Header.Flags.Has(FlagIsBroadcast)
}

// IsEncrypted reports whether the payload is AEAD ciphertext.
func (m *Message) IsEncrypted() bool {
	return m.Header.Flags.Has(FlagEncrypted)
}

// IsCompressed reports whether the payload is LZ4-compressed.
func (m *Message) IsCompressed() bool {
	return m.Header.Flags.Has(FlagIsCompressed)
}

// RequiresAck reports whether the sender asked for a read receipt.
func (m *Message) RequiresAck() bool {
	return m.Header.Flags.Has(FlagRequiresAck)
}

// IsExpired reports whether the message TTL has passed at time now.
func (m *Message) IsExpired(now time.Time) bool {
	return uint64(now.UnixMilli()) > m.Header.ExpiresAt
}

// Marshal serializes header and payload into a single contiguous frame.
func (m *Message) Marshal() []byte {
	m.Header.PayloadLength = uint16(len(m.Payload))
	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	buf = append(buf, m.Header.Marshal()...)
	return append(buf, m.Payload...)
}

// Unmarshal parses a serialized message. It fails with ErrInvalidFormat
// when the input is shorter than the header plus the declared payload
// length, and with ErrInvalidChecksum on a corrupted header.
func Unmarshal(data []byte) (*Message, error) {
	h, err := UnmarshalHeader(data)
	if err != nil {
		return nil, err
	}
	total := HeaderSize + int(h.PayloadLength)
	if len(data) < total {
		return nil, fmt.Errorf("%w: need %d bytes for payload, have %d", ErrInvalidFormat, total, len(data))
	}
	payload := make([]byte, h.PayloadLength)
	copy(payload, data[HeaderSize:total])
	return &Message{Header: h, Payload: payload}, nil
}

// UnmarshalBatch parses messages packed back to back, stopping silently at
// the first incomplete or invalid entry. It never returns an error; a
// truncated tail simply ends the batch.
func UnmarshalBatch(data []byte) []*Message {
	var msgs []*Message
	for len(data) >= HeaderSize {
		m, err := Unmarshal(data)
		if err != nil {
			break
		}
		msgs = append(msgs, m)
		data = data[HeaderSize+int(m.Header.PayloadLength):]
	}
	return msgs
}
