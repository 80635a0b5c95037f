package compress

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func roundTrip(t *testing.T, input []byte) Result {
	t.Helper()
	res := Compress(input)
	out, err := Decompress(res.Data, res.Compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(input, out), "round trip mismatch for %d bytes", len(input))
	return res
}

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("a"),
		[]byte("abcd"),
		bytes.Repeat([]byte("x"), 1000),
		bytes.Repeat([]byte("abcdefgh"), 200),
		[]byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps again"),
		frand.Bytes(10000),
		append(bytes.Repeat([]byte{0}, 5000), frand.Bytes(100)...),
	}
	for i, input := range inputs {
		res := roundTrip(t, input)
		if res.Compressed && len(res.Data) >= len(input) {
			t.Errorf("case %d: compressed output not smaller (%d >= %d)", i, len(res.Data), len(input))
		}
	}
}

func TestIncompressibleIsIdentity(t *testing.T) {
	input := frand.Bytes(256)
	res := Compress(input)
	assert.False(t, res.Compressed)
	// Identity, not a copy with the same contents
	assert.Equal(t, &input[0], &res.Data[0])
}

func TestHighlyRepetitiveCompresses(t *testing.T) {
	input := bytes.Repeat([]byte("peerwave "), 500)
	res := Compress(input)
	require.True(t, res.Compressed)
	assert.Less(t, len(res.Data), len(input)/4)
}

func TestLongLiteralAndMatchExtensions(t *testing.T) {
	// >15 literals followed by a >19-byte match forces both nibbles to 15
	// with 255-terminated extensions.
	lit := frand.Bytes(400)
	input := append(append([]byte{}, lit...), lit[:300]...)
	roundTrip(t, input)
}

func TestDecompressRejectsOversizedDeclaration(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, uint32(maxDecompressedSize+1))
	_, err := Decompress(data, true)
	assert.ErrorIs(t, err, ErrInvalidCompressed)
}

func TestDecompressRejectsZeroOffset(t *testing.T) {
	var data []byte
	data = binary.LittleEndian.AppendUint32(data, 12)
	// token: 4 literals, match nibble 0 (match length 4)
	data = append(data, 0x40)
	data = append(data, "abcd"...)
	data = append(data, 0x00, 0x00) // zero offset
	_, err := Decompress(data, true)
	assert.ErrorIs(t, err, ErrInvalidCompressed)
}

func TestDecompressRejectsTruncation(t *testing.T) {
	input := bytes.Repeat([]byte("abcdefgh"), 100)
	res := Compress(input)
	require.True(t, res.Compressed)

	for _, cut := range []int{1, 3, len(res.Data) / 2, len(res.Data) - 1} {
		_, err := Decompress(res.Data[:cut], true)
		assert.ErrorIs(t, err, ErrInvalidCompressed, "cut at %d", cut)
	}
}

func TestDecompressRejectsBadMatchOffset(t *testing.T) {
	var data []byte
	data = binary.LittleEndian.AppendUint32(data, 12)
	data = append(data, 0x40)
	data = append(data, "abcd"...)
	data = append(data, 0xff, 0xff) // offset far beyond output
	_, err := Decompress(data, true)
	assert.ErrorIs(t, err, ErrInvalidCompressed)
}

func TestDecompressUncompressedPassthrough(t *testing.T) {
	input := []byte("plain")
	out, err := Decompress(input, false)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}
