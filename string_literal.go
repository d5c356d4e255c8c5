package qpack

import (
	"golang.org/x/net/http2/hpack"
)

// String literals (RFC 9204, Section 4.1.2) are a length, encoded as a
// prefixed integer, followed by that many octets. The bit directly
// before the length prefix says whether the octets are Huffman-encoded.

// appendStringLiteral appends s, with the length in an n-bit prefix.
// If huffman is set, s is Huffman-encoded and the Huffman bit
// (the bit above the prefix) is set.
func appendStringLiteral(b []byte, n byte, huffman bool, s string) []byte {
	if huffman {
		offset := len(b)
		b = appendVarInt(b, n, hpack.HuffmanEncodeLength(s))
		b[offset] ^= 1 << n
		return hpack.AppendHuffmanString(b, s)
	}
	b = appendVarInt(b, n, uint64(len(s)))
	return append(b, s...)
}

// readStringLiteral reads a string literal with an n-bit length prefix
// off the beginning of p. The Huffman bit is the bit above the prefix,
// so n must be at most 7.
func readStringLiteral(n byte, p []byte) (s string, remain []byte, err error) {
	if len(p) == 0 {
		return "", p, errNeedMore
	}
	huffman := p[0]&(1<<n) > 0
	l, p, err := readVarInt(n, p)
	if err != nil {
		return "", p, err
	}
	if uint64(len(p)) < l {
		return "", p, errNeedMore
	}
	if huffman {
		s, err = hpack.HuffmanDecodeToString(p[:l])
		if err != nil {
			return "", p, decodingError{ErrHuffmanDecoding}
		}
	} else {
		s = string(p[:l])
	}
	return s, p[l:], nil
}
