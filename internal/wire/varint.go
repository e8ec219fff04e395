// Package wire decodes the untyped tag/length/value encoding used by buff
// notifications, without a schema or descriptor.
package wire

import "google.golang.org/protobuf/encoding/protowire"

// ReadVarint reads a base-128 varint starting at pos and returns the value
// truncated to 32 bits together with the position after it.
// ok is false if the buffer ends before a terminating byte, or if no
// terminating byte appears within 10 groups.
func ReadVarint(buf []byte, pos int) (v uint32, next int, ok bool) {
	if pos < 0 || pos >= len(buf) {
		return 0, pos, false
	}
	x, n := consumeVarint(buf[pos:])
	if n < 0 {
		return 0, pos, false
	}
	return uint32(x), pos + n, true
}

const maxVarintGroups = 10

// consumeVarint is protowire.ConsumeVarint without the 64-bit overflow
// check: any varint terminated within 10 groups is accepted and bits past
// 64 are dropped. It returns a negative length on failure.
func consumeVarint(b []byte) (uint64, int) {
	if v, n := protowire.ConsumeVarint(b); n >= 0 {
		return v, n
	}
	var v uint64
	for i := 0; i < maxVarintGroups && i < len(b); i++ {
		v |= uint64(b[i]&0x7F) << (7 * i)
		if b[i] < 0x80 {
			return v, i + 1
		}
	}
	return 0, -1
}

// ReadInt32 is ReadVarint with the result reinterpreted as two's-complement.
// Values wider than 32 bits wrap rather than fail.
func ReadInt32(buf []byte, pos int) (int32, int, bool) {
	v, next, ok := ReadVarint(buf, pos)
	return int32(v), next, ok
}
