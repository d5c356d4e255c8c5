package qpack

import (
	"errors"
	"fmt"
)

// Errors in this package are fatal for the connection they occur on:
// once encoder and decoder disagree about the dynamic table, every
// subsequent field section is suspect. A blocked decode is not an
// error.
var (
	// ErrHuffmanDecoding is returned when a Huffman-encoded string
	// literal contains an invalid code or bad padding.
	ErrHuffmanDecoding = errors.New("qpack: huffman decoding error")
	// ErrCapacityViolation is returned when a capacity change exceeds
	// the connection's maximum table capacity, or would evict an entry
	// still referenced by an unacknowledged field section.
	ErrCapacityViolation = errors.New("qpack: table capacity violation")
	// ErrInsufficientCapacity is returned when an entry doesn't fit
	// into the dynamic table, even after evicting all evictable entries.
	ErrInsufficientCapacity = errors.New("qpack: insufficient table capacity")
	// ErrTooManyBlockedStreams is returned by the decoder when the peer
	// exceeds the advertised blocked streams limit.
	ErrTooManyBlockedStreams = errors.New("qpack: too many blocked streams")
	// ErrMalformedInstruction is returned for an instruction byte whose
	// leading bits match no known instruction.
	ErrMalformedInstruction = errors.New("qpack: malformed instruction")
)

// A decodingError is something RFC 9204 defines as a decoding error.
type decodingError struct {
	err error
}

func (de decodingError) Error() string {
	return fmt.Sprintf("decoding error: %v", de.err)
}

func (de decodingError) Unwrap() error { return de.err }

// An invalidIndexError is returned when an encoder references a table
// entry before the static table or after the end of the dynamic table.
type invalidIndexError uint64

func (e invalidIndexError) Error() string {
	return fmt.Sprintf("invalid indexed representation index %d", uint64(e))
}

// An unknownIndexError is returned for a reference to a dynamic table
// entry that was never inserted or has already been evicted.
type unknownIndexError uint64

func (e unknownIndexError) Error() string {
	return fmt.Sprintf("unknown dynamic table index %d", uint64(e))
}
