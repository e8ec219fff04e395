package protocol

import "fmt"

// FrameErrorKind classifies per-frame errors.
type FrameErrorKind int

const (
	// FrameErrorTruncated indicates a frame shorter than its fixed headers.
	FrameErrorTruncated FrameErrorKind = iota
	// FrameErrorDecompress indicates a malformed compressed body.
	FrameErrorDecompress
	// FrameErrorNested indicates a broken or too deeply nested frame stream.
	FrameErrorNested
)

// String returns the metric label for the kind.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorTruncated:
		return "truncated"
	case FrameErrorDecompress:
		return "decompress"
	case FrameErrorNested:
		return "nested"
	default:
		return fmt.Sprintf("kind_%d", int(k))
	}
}

// FrameError is a recoverable error confined to one frame. Later frames of
// the same stream are unaffected.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if err, or any error it wraps or joins, is a
// FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *FrameError:
		return e.Kind == kind || IsFrameError(e.Err, kind)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsFrameError(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsFrameError(e.Unwrap(), kind)
	default:
		return false
	}
}
