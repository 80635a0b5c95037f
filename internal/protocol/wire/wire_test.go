package wire

import (
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func testMessage(t *testing.T, typ MessageType, flags Flags, payload []byte) *Message {
	t.Helper()
	m, err := NewMessage(typ, flags, 7, payload, time.Minute)
	require.NoError(t, err)
	return m
}

func TestCRC32Vector(t *testing.T) {
	// IEEE 802.3 reference vector
	if got := crc32.ChecksumIEEE([]byte("123456789")); got != 0xCBF43926 {
		t.Fatalf("crc32(123456789) = %08x, want cbf43926", got)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	types := []MessageType{
		TypeText, TypePrivateMessage, TypeChannelMessage,
		TypeHandshakeInit, TypeHandshakeResponse, TypeHandshakeFinal,
		TypePeerAnnounce, TypePeerRequest, TypePeerResponse,
		TypeHeartbeat, TypeFragment, TypeReadReceipt,
	}
	for _, typ := range types {
		for flags := Flags(0); flags < 64; flags++ {
			h, err := NewHeader(typ, flags, 7, 100, time.Minute)
			require.NoError(t, err)
			if flags.Has(FlagIsFragment) {
				h.FragmentIndex = 1
				h.FragmentTotal = 3
			}
			got, err := UnmarshalHeader(h.Marshal())
			require.NoError(t, err)
			assert.Equal(t, h, got, "type %s flags %06b", typ, flags)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("hello mesh"),
		frand.Bytes(4096),
	}
	for _, payload := range payloads {
		m := testMessage(t, TypeText, FlagIsBroadcast, payload)
		got, err := Unmarshal(m.Marshal())
		require.NoError(t, err)
		assert.Equal(t, m.Header, got.Header)
		assert.Equal(t, append([]byte{}, m.Payload...), append([]byte{}, got.Payload...))
	}
}

func TestUnmarshalShortInput(t *testing.T) {
	for _, n := range []int{0, 1, 47} {
		_, err := Unmarshal(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidFormat, "length %d", n)
	}
}

func TestUnmarshalTruncatedPayload(t *testing.T) {
	m := testMessage(t, TypeText, 0, []byte("some payload"))
	frame := m.Marshal()
	_, err := Unmarshal(frame[:len(frame)-1])
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestHeaderCorruptionDetected(t *testing.T) {
	m := testMessage(t, TypePrivateMessage, FlagEncrypted, []byte("x"))
	frame := m.Marshal()

	// Flipping any header byte must fail the CRC check.
	for i := 0; i < HeaderSize; i++ {
		corrupted := append([]byte{}, frame...)
		corrupted[i] ^= 0xff
		_, err := Unmarshal(corrupted)
		assert.ErrorIs(t, err, ErrInvalidChecksum, "byte %d", i)
	}
}

func TestUnmarshalBatch(t *testing.T) {
	m1 := testMessage(t, TypeText, 0, []byte("first"))
	m2 := testMessage(t, TypeHeartbeat, 0, nil)
	m3 := testMessage(t, TypeText, 0, []byte("third"))

	var data []byte
	data = append(data, m1.Marshal()...)
	data = append(data, m2.Marshal()...)
	data = append(data, m3.Marshal()...)

	msgs := UnmarshalBatch(data)
	require.Len(t, msgs, 3)
	assert.Equal(t, m1.Header.MessageID, msgs[0].Header.MessageID)
	assert.Equal(t, m3.Header.MessageID, msgs[2].Header.MessageID)

	// Truncating the last message stops the batch there, without error.
	msgs = UnmarshalBatch(data[:len(data)-3])
	assert.Len(t, msgs, 2)

	// Corrupting the second header stops after the first.
	corrupted := append([]byte{}, data...)
	corrupted[len(m1.Marshal())+10] ^= 0x01
	msgs = UnmarshalBatch(corrupted)
	assert.Len(t, msgs, 1)
}

func TestBumpHopCount(t *testing.T) {
	m := testMessage(t, TypeText, FlagIsBroadcast, []byte("relayed"))
	frame := m.Marshal()

	require.NoError(t, BumpHopCount(frame))
	got, err := Unmarshal(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), got.Header.HopCount)

	require.NoError(t, BumpHopCount(frame))
	got, err = Unmarshal(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.Header.HopCount)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Header)
		wantErr bool
	}{
		{"valid", func(h *Header) {}, false},
		{"hop count over max", func(h *Header) { h.HopCount = h.MaxHops + 1 }, true},
		{"fragment index out of range", func(h *Header) {
			h.Flags |= FlagIsFragment
			h.FragmentIndex = 2
			h.FragmentTotal = 2
		}, true},
		{"expires before timestamp", func(h *Header) { h.ExpiresAt = h.Timestamp }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHeader(TypeText, 0, 7, 10, time.Minute)
			require.NoError(t, err)
			tt.mutate(&h)
			err = h.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestMessageQueries(t *testing.T) {
	m := testMessage(t, TypeChannelMessage, FlagIsBroadcast|FlagIsCompressed, []byte("hi"))
	assert.True(t, m.IsBroadcast())
	assert.True(t, m.IsCompressed())
	assert.False(t, m.IsEncrypted())
	assert.False(t, m.IsFragment())
	assert.False(t, m.RequiresAck())
	assert.False(t, m.IsExpired(time.Now()))
	assert.True(t, m.IsExpired(time.Now().Add(2*time.Minute)))
}
