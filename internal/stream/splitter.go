// Package stream reassembles one TCP direction into a byte stream and
// splits it into length-prefixed frames.
package stream

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/buffwatch/internal/core"
)

// Frame length bounds. The length prefix counts the 4-byte length and the
// 2-byte type field that follows it.
const (
	FrameHeaderLen = 6
	MinFrameLen    = FrameHeaderLen
	MaxFrameLen    = 0x0FFFFF
)

// PlausibleFrameLength reports whether n can be a frame length prefix.
func PlausibleFrameLength(n uint32) bool {
	return n >= MinFrameLen && n <= MaxFrameLen
}

// Split emits every complete frame at the front of buf and returns the
// unconsumed tail. Emitted frames alias buf.
//
// An implausible length prefix stops splitting with ErrImplausibleLength;
// the returned tail then starts at the bad prefix.
func Split(buf []byte, emit func(frame []byte)) ([]byte, error) {
	for len(buf) >= 4 {
		n := binary.BigEndian.Uint32(buf)
		if !PlausibleFrameLength(n) {
			return buf, fmt.Errorf("%w: %#x", core.ErrImplausibleLength, n)
		}
		if int(n) > len(buf) {
			break
		}
		emit(buf[:n:n])
		buf = buf[n:]
	}
	return buf, nil
}
