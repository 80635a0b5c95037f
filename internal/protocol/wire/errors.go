package wire

import "errors"

// Wire parse errors. Frames failing these checks are dropped by the caller;
// they never propagate past the dispatch layer.
var (
	// ErrInvalidFormat indicates a truncated or structurally malformed frame.
	ErrInvalidFormat = errors.New("wire: invalid format")

	// ErrInvalidChecksum indicates the header CRC does not match its contents.
	ErrInvalidChecksum = errors.New("wire: invalid checksum")

	// ErrPayloadTooLarge indicates a payload exceeding MaxMessageSize.
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)
