package protocol

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/buffwatch/internal/metrics"
	"firestige.xyz/buffwatch/internal/stream"
)

// DefaultMaxDepth bounds FrameDown recursion.
const DefaultMaxDepth = 8

// NotifyHandler handles one notification. now is the capture time of the
// segment that completed the frame.
type NotifyHandler func(n *Notify, now time.Time)

// Dispatcher routes frames to notify handlers by method ID. Frames of other
// kinds, and notifications without a handler, are ignored.
// Handlers must be registered before the first Dispatch.
type Dispatcher struct {
	decompressor Decompressor
	handlers     map[uint32]NotifyHandler
	maxDepth     int
}

// NewDispatcher creates a dispatcher using dec for compressed bodies.
func NewDispatcher(dec Decompressor) *Dispatcher {
	return &Dispatcher{
		decompressor: dec,
		handlers:     make(map[uint32]NotifyHandler),
		maxDepth:     DefaultMaxDepth,
	}
}

// Handle registers h for methodID, replacing any previous handler.
func (d *Dispatcher) Handle(methodID uint32, h NotifyHandler) {
	d.handlers[methodID] = h
}

// Dispatch processes one complete frame. The returned error joins every
// FrameError met in the frame and in frames nested inside it; it is never
// fatal to the stream.
func (d *Dispatcher) Dispatch(frame []byte, now time.Time) error {
	return d.dispatch(frame, now, 0)
}

func (d *Dispatcher) dispatch(frame []byte, now time.Time, depth int) error {
	hdr, err := ParseHeader(frame)
	if err != nil {
		return d.fail(err)
	}
	metrics.FramesTotal.WithLabelValues(KindName(hdr.Kind)).Inc()
	body := frame[stream.FrameHeaderLen:]

	switch hdr.Kind {
	case KindNotify:
		n, err := parseNotify(body)
		if err != nil {
			return d.fail(err)
		}
		h, ok := d.handlers[n.MethodID]
		if !ok {
			return nil
		}
		if hdr.Compressed {
			if n.Payload, err = d.decompress(n.Payload, "notify"); err != nil {
				return d.fail(err)
			}
		}
		h(&n, now)
		return nil

	case KindFrameDown:
		if len(body) < frameDownHeaderLen {
			return d.fail(&FrameError{Kind: FrameErrorTruncated,
				Msg: fmt.Sprintf("frame-down header needs %d bytes, have %d", frameDownHeaderLen, len(body))})
		}
		if depth >= d.maxDepth {
			return d.fail(&FrameError{Kind: FrameErrorNested,
				Msg: fmt.Sprintf("frame-down nesting exceeds %d", d.maxDepth)})
		}
		nested := body[frameDownHeaderLen:]
		if hdr.Compressed {
			if nested, err = d.decompress(nested, "frame-down"); err != nil {
				return d.fail(err)
			}
		}
		return d.dispatchStream(nested, now, depth+1)

	default:
		return nil
	}
}

// dispatchStream dispatches every frame of a nested stream. A broken length
// prefix ends the nested stream only; trailing partial bytes are dropped.
func (d *Dispatcher) dispatchStream(buf []byte, now time.Time, depth int) error {
	var errs []error
	_, err := stream.Split(buf, func(frame []byte) {
		if err := d.dispatch(frame, now, depth); err != nil {
			errs = append(errs, err)
		}
	})
	if err != nil {
		errs = append(errs, d.fail(&FrameError{Kind: FrameErrorNested, Msg: "nested frame stream", Err: err}))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) decompress(src []byte, what string) ([]byte, error) {
	out, err := d.decompressor.Decompress(src)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecompress, Msg: what + " body", Err: err}
	}
	return out, nil
}

// fail counts err, which must be a *FrameError, and returns it.
func (d *Dispatcher) fail(err error) error {
	var fe *FrameError
	if errors.As(err, &fe) {
		metrics.FrameErrorsTotal.WithLabelValues(fe.Kind.String()).Inc()
	}
	return err
}
