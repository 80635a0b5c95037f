// Package compress implements the payload codec: an LZ4-style
// byte-oriented compressor with a 4-byte little-endian original-size
// header. The format is self-contained (no external frame/block headers)
// so a single flag bit on the wire is enough to mark a compressed payload.
//
// Body layout, repeated until the input is consumed:
//
//	token                  high nibble: literal length, low nibble: match length - 4
//	[literal length ext]   255-terminated bytes when the nibble is 15
//	literals
//	offset                 2 bytes little-endian, match distance, never zero
//	[match length ext]     255-terminated bytes when the nibble is 15
//
// Bytes left after the last match go out as a final literal-only sequence;
// an input that ends inside a match has none. Minimum match is 4 bytes and
// the maximum search distance is 65535.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidCompressed indicates a malformed or hostile compressed payload.
var ErrInvalidCompressed = errors.New("compress: invalid compressed data")

const (
	minMatch    = 4
	maxDistance = 65535

	// maxDecompressedSize bounds the declared original size so a hostile
	// 4-byte header cannot force a huge allocation.
	maxDecompressedSize = 100 << 20

	hashLog  = 16
	hashSize = 1 << hashLog
)

// Result is the outcome of Compress. When Compressed is false, Data is the
// original input unchanged.
type Result struct {
	Data       []byte
	Compressed bool
}

func hash4(v uint32) uint32 {
	// Fibonacci hashing over the 4-byte sequence
	return (v * 2654435761) >> (32 - hashLog)
}

func read32(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i:])
}

// Compress attempts to compress input. The compressed form is selected
// only when it is strictly smaller than the input; otherwise the input is
// returned verbatim with Compressed false.
func Compress(input []byte) Result {
	if len(input) < minMatch {
		return Result{Data: input}
	}

	out := make([]byte, 4, len(input))
	binary.LittleEndian.PutUint32(out, uint32(len(input)))

	var table [hashSize]int32
	for i := range table {
		table[i] = -1
	}

	pos, anchor := 0, 0
	limit := len(input) - minMatch
	for pos <= limit {
		seq := read32(input, pos)
		h := hash4(seq)
		cand := int(table[h])
		table[h] = int32(pos)

		if cand < 0 || pos-cand > maxDistance || read32(input, cand) != seq {
			pos++
			continue
		}

		matchLen := minMatch
		for pos+matchLen < len(input) && input[cand+matchLen] == input[pos+matchLen] {
			matchLen++
		}

		out = emitSequence(out, input[anchor:pos], pos-cand, matchLen)
		pos += matchLen
		anchor = pos
	}

	out = emitLiterals(out, input[anchor:])

	if len(out) >= len(input) {
		return Result{Data: input}
	}
	return Result{Data: out, Compressed: true}
}

// emitSequence writes one token + literals + offset + extensions.
func emitSequence(out, literals []byte, offset, matchLen int) []byte {
	litLen := len(literals)
	matchExtra := matchLen - minMatch

	token := byte(0)
	if litLen >= 15 {
		token = 15 << 4
	} else {
		token = byte(litLen) << 4
	}
	if matchExtra >= 15 {
		token |= 15
	} else {
		token |= byte(matchExtra)
	}
	out = append(out, token)
	out = appendLengthExt(out, litLen)
	out = append(out, literals...)
	out = append(out, byte(offset), byte(offset>>8))
	return appendLengthExt(out, matchExtra)
}

// emitLiterals writes the trailing literal-only sequence. Nothing is
// emitted when there are no trailing literals; the decoder stops at the end
// of input after a match sequence just as after a literal run.
func emitLiterals(out, literals []byte) []byte {
	if len(literals) == 0 {
		return out
	}
	litLen := len(literals)
	token := byte(0)
	if litLen >= 15 {
		token = 15 << 4
	} else {
		token = byte(litLen) << 4
	}
	out = append(out, token)
	out = appendLengthExt(out, litLen)
	return append(out, literals...)
}

// appendLengthExt writes the 255-terminated length extension for a nibble
// that saturated at 15.
func appendLengthExt(out []byte, length int) []byte {
	if length < 15 {
		return out
	}
	rest := length - 15
	for rest >= 255 {
		out = append(out, 255)
		rest -= 255
	}
	return append(out, byte(rest))
}

// Decompress reverses Compress. When compressed is false the data is
// returned as-is. It fails with ErrInvalidCompressed on a declared size
// beyond the bound, a zero match offset, or any structural truncation.
func Decompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing size header", ErrInvalidCompressed)
	}
	declared := int(binary.LittleEndian.Uint32(data))
	if declared > maxDecompressedSize {
		return nil, fmt.Errorf("%w: declared size %d exceeds limit", ErrInvalidCompressed, declared)
	}

	src := data[4:]
	out := make([]byte, 0, declared)
	pos := 0

	for pos < len(src) {
		token := src[pos]
		pos++

		litLen := int(token >> 4)
		var err error
		litLen, pos, err = readLengthExt(src, pos, litLen)
		if err != nil {
			return nil, err
		}
		if pos+litLen > len(src) {
			return nil, fmt.Errorf("%w: literal run past end", ErrInvalidCompressed)
		}
		out = append(out, src[pos:pos+litLen]...)
		pos += litLen

		if pos == len(src) {
			break // final literal-only sequence
		}

		if pos+2 > len(src) {
			return nil, fmt.Errorf("%w: truncated match offset", ErrInvalidCompressed)
		}
		offset := int(src[pos]) | int(src[pos+1])<<8
		pos += 2
		if offset == 0 {
			return nil, fmt.Errorf("%w: zero match offset", ErrInvalidCompressed)
		}
		if offset > len(out) {
			return nil, fmt.Errorf("%w: match offset %d beyond output", ErrInvalidCompressed, offset)
		}

		matchLen := int(token & 0x0f)
		matchLen, pos, err = readLengthExt(src, pos, matchLen)
		if err != nil {
			return nil, err
		}
		matchLen += minMatch

		if len(out)+matchLen > declared {
			return nil, fmt.Errorf("%w: output exceeds declared size", ErrInvalidCompressed)
		}
		// Byte-by-byte copy: matches may overlap their own output.
		start := len(out) - offset
		for i := 0; i < matchLen; i++ {
			out = append(out, out[start+i])
		}
	}

	if len(out) != declared {
		return nil, fmt.Errorf("%w: output %d bytes, declared %d", ErrInvalidCompressed, len(out), declared)
	}
	return out, nil
}

// readLengthExt consumes 255-terminated extension bytes when the nibble
// saturated at 15.
func readLengthExt(src []byte, pos, nibble int) (int, int, error) {
	if nibble < 15 {
		return nibble, pos, nil
	}
	length := nibble
	for {
		if pos >= len(src) {
			return 0, 0, fmt.Errorf("%w: truncated length extension", ErrInvalidCompressed)
		}
		b := src[pos]
		pos++
		length += int(b)
		if b != 255 {
			return length, pos, nil
		}
	}
}
