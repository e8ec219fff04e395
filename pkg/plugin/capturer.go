package plugin

import (
	"context"

	"firestige.xyz/buffwatch/internal/core"
)

// Capturer captures raw link-layer frames from a live device or a file.
//
// Capture blocks until ctx is cancelled or the source is exhausted, sending
// every frame to output. It returns nil on cancellation and on end of file.
type Capturer interface {
	Plugin
	Capture(ctx context.Context, output chan<- core.RawPacket) error
	Stats() CaptureStats
	LinkType() core.LinkType
}

// CaptureStats represents capture statistics.
type CaptureStats struct {
	PacketsReceived  uint64
	PacketsDropped   uint64
	PacketsIfDropped uint64
}
