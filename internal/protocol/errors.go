package protocol

import "errors"

// Closed set of error kinds the parser and binary reader can return.
// Compare with errors.Is, never by string.
var (
	// ErrTruncated indicates a read ran past the end of the buffer, or a
	// frame's declared payload length exceeds the bytes remaining.
	ErrTruncated = errors.New("protocol: truncated payload")

	// ErrMalformedVarInt indicates a VarInt/VarShort/VarLong continuation
	// sequence exceeded its width budget without terminating.
	ErrMalformedVarInt = errors.New("protocol: malformed varint")

	// ErrDecompressionBomb indicates a compressed container inflated past
	// the configured multiplier of its compressed size.
	ErrDecompressionBomb = errors.New("protocol: decompression bomb")
)
