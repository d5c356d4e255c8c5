package qpack

// copied from the Go standard library HPACK implementation

import "errors"

var errNeedMore = errors.New("need more data")

// ErrIntegerOverflow is returned when a prefixed integer on the wire
// exceeds the implementation limit of 62 bits. Decoding cannot continue
// after this error.
var ErrIntegerOverflow = errors.New("qpack: integer overflow")

// appendVarInt appends i, as encoded in an n-bit prefix.
func appendVarInt(b []byte, n byte, i uint64) []byte {
	k := uint64((1 << n) - 1)
	if i < k {
		return append(b, byte(i))
	}
	b = append(b, byte(k))
	i -= k
	for ; i >= 128; i >>= 7 {
		b = append(b, byte(0x80|(i&0x7f)))
	}
	return append(b, byte(i))
}

// readVarInt reads an unsigned variable length integer off the
// beginning of p. n is the parameter as described in RFC 7541, Section 5.1.
//
// n must always be between 1 and 8.
//
// The returned remain buffer is either a smaller suffix of p, or err != nil.
func readVarInt(n byte, p []byte) (i uint64, remain []byte, err error) {
	if n < 1 || n > 8 {
		panic("bad n")
	}
	if len(p) == 0 {
		return 0, p, errNeedMore
	}
	i = uint64(p[0])
	if n < 8 {
		i &= (1 << uint64(n)) - 1
	}
	if i < (1<<uint64(n))-1 {
		return i, p[1:], nil
	}
	origP := p
	p = p[1:]
	var m uint64
	for len(p) > 0 {
		b := p[0]
		p = p[1:]
		i += uint64(b&127) << m
		if b&128 == 0 {
			return i, p, nil
		}
		m += 7
		if m >= 63 {
			return 0, origP, ErrIntegerOverflow
		}
	}
	return 0, origP, errNeedMore
}
