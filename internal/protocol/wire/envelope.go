package wire

import "fmt"

// Routed payloads carry an addressing envelope ahead of the body, since
// the fixed header holds no peer identities:
//
//	sender length (1) ∥ sender ∥ destination length (1) ∥ destination ∥ body
//
// Broadcasts leave the destination empty. Channel frames length-prefix
// the channel id ahead of the UTF-8 body the same way.

// EncodeEnvelope prepends the addressing envelope to body.
func EncodeEnvelope(sender, dest string, body []byte) ([]byte, error) {
	if len(sender) > 255 {
		return nil, fmt.Errorf("%w: sender id %d bytes", ErrInvalidFormat, len(sender))
	}
	if len(dest) > 255 {
		return nil, fmt.Errorf("%w: destination id %d bytes", ErrInvalidFormat, len(dest))
	}
	out := make([]byte, 0, 2+len(sender)+len(dest)+len(body))
	out = append(out, byte(len(sender)))
	out = append(out, sender...)
	out = append(out, byte(len(dest)))
	out = append(out, dest...)
	return append(out, body...), nil
}

// DecodeEnvelope splits an enveloped payload back into its parts. The
// body aliases the input.
func DecodeEnvelope(data []byte) (sender, dest string, body []byte, err error) {
	if len(data) < 1 {
		return "", "", nil, fmt.Errorf("%w: empty envelope", ErrInvalidFormat)
	}
	n := int(data[0])
	data = data[1:]
	if len(data) < n {
		return "", "", nil, fmt.Errorf("%w: truncated sender id", ErrInvalidFormat)
	}
	sender = string(data[:n])
	data = data[n:]

	if len(data) < 1 {
		return "", "", nil, fmt.Errorf("%w: missing destination", ErrInvalidFormat)
	}
	n = int(data[0])
	data = data[1:]
	if len(data) < n {
		return "", "", nil, fmt.Errorf("%w: truncated destination id", ErrInvalidFormat)
	}
	dest = string(data[:n])
	return sender, dest, data[n:], nil
}

// EncodeChannelPayload length-prefixes the channel id ahead of the body.
func EncodeChannelPayload(channel string, body []byte) ([]byte, error) {
	if len(channel) == 0 || len(channel) > 255 {
		return nil, fmt.Errorf("%w: channel id %d bytes", ErrInvalidFormat, len(channel))
	}
	out := make([]byte, 0, 1+len(channel)+len(body))
	out = append(out, byte(len(channel)))
	out = append(out, channel...)
	return append(out, body...), nil
}

// EncodeDiscovery packs a route request/reply body: the request id and
// the destination being resolved, both length-prefixed.
func EncodeDiscovery(requestID, target string) ([]byte, error) {
	if len(requestID) == 0 || len(requestID) > 255 {
		return nil, fmt.Errorf("%w: request id %d bytes", ErrInvalidFormat, len(requestID))
	}
	if len(target) == 0 || len(target) > 255 {
		return nil, fmt.Errorf("%w: target id %d bytes", ErrInvalidFormat, len(target))
	}
	out := make([]byte, 0, 2+len(requestID)+len(target))
	out = append(out, byte(len(requestID)))
	out = append(out, requestID...)
	out = append(out, byte(len(target)))
	return append(out, target...), nil
}

// DecodeDiscovery unpacks a route request/reply body.
func DecodeDiscovery(data []byte) (requestID, target string, err error) {
	if len(data) < 1 {
		return "", "", fmt.Errorf("%w: empty discovery body", ErrInvalidFormat)
	}
	n := int(data[0])
	data = data[1:]
	if n == 0 || len(data) < n {
		return "", "", fmt.Errorf("%w: truncated request id", ErrInvalidFormat)
	}
	requestID = string(data[:n])
	data = data[n:]

	if len(data) < 1 {
		return "", "", fmt.Errorf("%w: missing target", ErrInvalidFormat)
	}
	n = int(data[0])
	data = data[1:]
	if n == 0 || len(data) < n {
		return "", "", fmt.Errorf("%w: truncated target id", ErrInvalidFormat)
	}
	return requestID, string(data[:n]), nil
}

// DecodeChannelPayload splits a channel payload into id and body.
func DecodeChannelPayload(data []byte) (channel string, body []byte, err error) {
	if len(data) < 1 {
		return "", nil, fmt.Errorf("%w: empty channel payload", ErrInvalidFormat)
	}
	n := int(data[0])
	if n == 0 || len(data) < 1+n {
		return "", nil, fmt.Errorf("%w: truncated channel id", ErrInvalidFormat)
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}
