package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/metrics"
)

// Defaults applied by NewReassembler.
const (
	DefaultDesyncTimeout   = 15 * time.Second
	DefaultMaxPendingBytes = 4 << 20
)

// Config bounds a Reassembler.
type Config struct {
	DesyncTimeout   time.Duration // No contiguous progress for this long while data is held resets the stream
	MaxPendingBytes int           // Out-of-order bytes held before the stream is reset
}

// Reassembler orders the segments of one TCP direction into a contiguous
// byte stream. It is not safe for concurrent use.
//
// Until synchronized, a segment is only accepted if it starts with a
// plausible frame length; its sequence number then becomes the stream
// position. The position only moves forward, except on reset.
type Reassembler struct {
	flow string
	cfg  Config

	synced       bool
	next         uint32
	pending      map[uint32][]byte
	pendingBytes int
	buf          []byte
	lastActivity time.Time
}

// NewReassembler creates a reassembler for one direction. flow only labels logs.
func NewReassembler(flow string, cfg Config) *Reassembler {
	if cfg.DesyncTimeout <= 0 {
		cfg.DesyncTimeout = DefaultDesyncTimeout
	}
	if cfg.MaxPendingBytes <= 0 {
		cfg.MaxPendingBytes = DefaultMaxPendingBytes
	}
	return &Reassembler{
		flow:    flow,
		cfg:     cfg,
		pending: make(map[uint32][]byte),
	}
}

// syncCandidate is stricter than PlausibleFrameLength at both ends.
func syncCandidate(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	n := binary.BigEndian.Uint32(payload)
	return n > MinFrameLen && n < MaxFrameLen
}

// Feed adds one segment. Segments entirely behind the stream position are
// dropped as retransmissions; a segment straddling it is trimmed.
// If held out-of-order data exceeds the pending cap the stream is reset and
// ErrPendingOverflow is returned.
func (r *Reassembler) Feed(seq uint32, payload []byte, now time.Time) error {
	if len(payload) == 0 {
		return nil
	}
	if !r.synced {
		if !syncCandidate(payload) {
			return nil
		}
		r.synced = true
		r.next = seq
		r.lastActivity = now
	}

	r.hold(seq, payload)
	r.drain(now)

	if r.pendingBytes > r.cfg.MaxPendingBytes {
		held := r.pendingBytes
		r.reset(metrics.ResetOverflow)
		return fmt.Errorf("%w: %d bytes held", core.ErrPendingOverflow, held)
	}
	return nil
}

// hold stores a copy of the part of payload at or after the stream position.
// Of two segments at the same sequence number the longer one is kept.
func (r *Reassembler) hold(seq uint32, payload []byte) {
	if behind := int64(int32(r.next - seq)); behind > 0 {
		if behind >= int64(len(payload)) {
			return
		}
		payload = payload[behind:]
		seq = r.next
	}
	if old, ok := r.pending[seq]; ok {
		if len(old) >= len(payload) {
			return
		}
		r.pendingBytes -= len(old)
	}
	r.pending[seq] = bytes.Clone(payload)
	r.pendingBytes += len(payload)
}

// drain appends every held segment contiguous with the stream position.
func (r *Reassembler) drain(now time.Time) {
	for {
		seg, ok := r.pending[r.next]
		if !ok {
			if !r.rebase() {
				return
			}
			continue
		}
		delete(r.pending, r.next)
		r.pendingBytes -= len(seg)
		r.buf = append(r.buf, seg...)
		r.next += uint32(len(seg))
		r.lastActivity = now
	}
}

// rebase re-holds segments the stream position has moved past, trimming
// them to the position. It reports whether a segment now starts there.
func (r *Reassembler) rebase() bool {
	var stale []uint32
	for seq := range r.pending {
		if int32(seq-r.next) < 0 {
			stale = append(stale, seq)
		}
	}
	for _, seq := range stale {
		seg := r.pending[seq]
		delete(r.pending, seq)
		r.pendingBytes -= len(seg)
		r.hold(seq, seg)
	}
	_, ok := r.pending[r.next]
	return ok
}

// Split emits the complete frames accumulated so far. Frames are valid only
// during emit. An implausible length prefix resets the stream and is returned
// wrapped as ErrImplausibleLength.
func (r *Reassembler) Split(emit func(frame []byte)) error {
	rest, err := Split(r.buf, emit)
	if err != nil {
		r.reset(metrics.ResetImplausibleLength)
		return err
	}
	if len(rest) == 0 {
		r.buf = r.buf[:0]
	} else {
		r.buf = rest
	}
	return nil
}

// CheckDesync resets the stream if it holds data but has made no contiguous
// progress for longer than the desync timeout. It reports whether it reset.
func (r *Reassembler) CheckDesync(now time.Time) bool {
	if len(r.pending) == 0 && len(r.buf) == 0 {
		return false
	}
	if now.Sub(r.lastActivity) <= r.cfg.DesyncTimeout {
		return false
	}
	r.reset(metrics.ResetDesync)
	return true
}

// Reset discards all state; the next plausible segment resynchronizes.
func (r *Reassembler) Reset() {
	r.synced = false
	r.next = 0
	clear(r.pending)
	r.pendingBytes = 0
	r.buf = nil
}

func (r *Reassembler) reset(reason string) {
	slog.Debug("stream reset", "flow", r.flow, "reason", reason,
		"buffered", len(r.buf), "pending", r.pendingBytes)
	metrics.StreamResetsTotal.WithLabelValues(reason).Inc()
	r.Reset()
}

// Synced reports whether the stream position is known.
func (r *Reassembler) Synced() bool { return r.synced }

// Next returns the next expected sequence number.
func (r *Reassembler) Next() uint32 { return r.next }

// Buffered returns the contiguous bytes not yet split into frames.
func (r *Reassembler) Buffered() []byte { return r.buf }

// PendingBytes returns the number of out-of-order bytes held.
func (r *Reassembler) PendingBytes() int { return r.pendingBytes }

// IsReset reports whether err came from a stream reset.
func IsReset(err error) bool {
	return errors.Is(err, core.ErrImplausibleLength) || errors.Is(err, core.ErrPendingOverflow)
}
