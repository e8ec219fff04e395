// Package protocol dispatches reassembled application frames: it parses the
// frame envelope, undoes compression, and routes notifications by method ID.
package protocol

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/buffwatch/internal/stream"
)

// Message kinds carried in the low 15 bits of the frame type field.
const (
	KindNotify    uint16 = 2
	KindFrameDown uint16 = 6
)

const (
	compressedFlag = 0x8000
	kindMask       = 0x7FFF

	notifyHeaderLen    = 8 + 4 + 4 // serviceUuid, stubId, methodId
	frameDownHeaderLen = 4         // sequence number
)

// Header is the fixed part at the start of every frame.
type Header struct {
	Length     uint32 // Total frame length, header included
	Compressed bool   // Body after the kind-specific header is compressed
	Kind       uint16
}

// ParseHeader reads the frame header. The length is not validated against len(frame).
func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < stream.FrameHeaderLen {
		return Header{}, &FrameError{Kind: FrameErrorTruncated,
			Msg: fmt.Sprintf("frame header needs %d bytes, have %d", stream.FrameHeaderLen, len(frame))}
	}
	typ := binary.BigEndian.Uint16(frame[4:6])
	return Header{
		Length:     binary.BigEndian.Uint32(frame[0:4]),
		Compressed: typ&compressedFlag != 0,
		Kind:       typ & kindMask,
	}, nil
}

// KindName returns the metric label for a message kind.
func KindName(kind uint16) string {
	switch kind {
	case KindNotify:
		return "notify"
	case KindFrameDown:
		return "frame_down"
	default:
		return "other"
	}
}

// Notify is a single server push.
type Notify struct {
	ServiceUUID uint64
	StubID      uint32
	MethodID    uint32
	// Payload is decompressed already. It is only valid during the handler call.
	Payload []byte
}

// parseNotify reads the notify header from body. The payload is returned as is.
func parseNotify(body []byte) (Notify, error) {
	if len(body) < notifyHeaderLen {
		return Notify{}, &FrameError{Kind: FrameErrorTruncated,
			Msg: fmt.Sprintf("notify header needs %d bytes, have %d", notifyHeaderLen, len(body))}
	}
	return Notify{
		ServiceUUID: binary.BigEndian.Uint64(body[0:8]),
		StubID:      binary.BigEndian.Uint32(body[8:12]),
		MethodID:    binary.BigEndian.Uint32(body[12:16]),
		Payload:     body[notifyHeaderLen:],
	}, nil
}

// AppendFrame appends a frame of the given kind. body must already be
// compressed if compressed is set.
func AppendFrame(b []byte, kind uint16, compressed bool, body []byte) []byte {
	typ := kind & kindMask
	if compressed {
		typ |= compressedFlag
	}
	b = binary.BigEndian.AppendUint32(b, uint32(stream.FrameHeaderLen+len(body)))
	b = binary.BigEndian.AppendUint16(b, typ)
	return append(b, body...)
}

// NotifyBody builds a notify body around payload.
func NotifyBody(serviceUUID uint64, stubID, methodID uint32, payload []byte) []byte {
	b := make([]byte, 0, notifyHeaderLen+len(payload))
	b = binary.BigEndian.AppendUint64(b, serviceUUID)
	b = binary.BigEndian.AppendUint32(b, stubID)
	b = binary.BigEndian.AppendUint32(b, methodID)
	return append(b, payload...)
}

// FrameDownBody builds a frame-down body around a nested frame stream.
func FrameDownBody(seq uint32, nested []byte) []byte {
	b := make([]byte, 0, frameDownHeaderLen+len(nested))
	b = binary.BigEndian.AppendUint32(b, seq)
	return append(b, nested...)
}
