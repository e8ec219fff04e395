package wire

import "google.golang.org/protobuf/encoding/protowire"

type ruleKind uint8

const (
	ruleInt32 ruleKind = iota
	ruleUint64
	ruleBytes
)

// fieldRule decodes one known field into a message of type T.
type fieldRule[T any] struct {
	kind      ruleKind
	setInt32  func(*T, int32)
	setUint64 func(*T, uint64)
	setBytes  func(*T, []byte)
}

func int32Field[T any](set func(*T, int32)) fieldRule[T] {
	return fieldRule[T]{kind: ruleInt32, setInt32: set}
}

func uint64Field[T any](set func(*T, uint64)) fieldRule[T] {
	return fieldRule[T]{kind: ruleUint64, setUint64: set}
}

func bytesField[T any](set func(*T, []byte)) fieldRule[T] {
	return fieldRule[T]{kind: ruleBytes, setBytes: set}
}

func (r fieldRule[T]) wireType() protowire.Type {
	if r.kind == ruleBytes {
		return protowire.BytesType
	}
	return protowire.VarintType
}

// apply consumes the field value from b and returns the number of bytes used,
// or a negative value if a varint is truncated. A length-delimited value
// declaring more bytes than remain is cut to what is left.
func (r fieldRule[T]) apply(b []byte, out *T) int {
	switch r.kind {
	case ruleInt32:
		v, n := consumeVarint(b)
		if n < 0 {
			return n
		}
		r.setInt32(out, int32(uint32(v)))
		return n
	case ruleUint64:
		v, n := consumeVarint(b)
		if n < 0 {
			return n
		}
		r.setUint64(out, v)
		return n
	default:
		size, n := consumeVarint(b)
		if n < 0 {
			return n
		}
		v := b[n:]
		if size < uint64(len(v)) {
			v = v[:size]
		}
		r.setBytes(out, v)
		return n + len(v)
	}
}

// schema is the known-field table of one message level.
type schema[T any] map[protowire.Number]fieldRule[T]

// decode walks b and applies every known field to out. Unknown fields, and
// known fields carrying an unexpected wire type, are skipped.
// It returns false if decoding stopped early; out keeps whatever was set.
func (s schema[T]) decode(b []byte, out *T) bool {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false
		}
		b = b[n:]

		if rule, ok := s[num]; ok && rule.wireType() == typ {
			n = rule.apply(b, out)
		} else {
			n = skipValue(typ, b)
		}
		if n < 0 {
			return false
		}
		b = b[n:]
	}
	return true
}

// skipValue returns the length of a field value of the given wire type,
// or -1 if it is truncated or the wire type is not skippable.
func skipValue(typ protowire.Type, b []byte) int {
	var n int
	switch typ {
	case protowire.VarintType:
		_, n = consumeVarint(b)
	case protowire.Fixed64Type:
		_, n = protowire.ConsumeFixed64(b)
	case protowire.BytesType:
		_, n = protowire.ConsumeBytes(b)
	case protowire.Fixed32Type:
		_, n = protowire.ConsumeFixed32(b)
	default:
		return -1
	}
	if n < 0 {
		return -1
	}
	return n
}
