package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics contains per-pipeline counters. They are written by the consumer
// goroutine and may be read from any goroutine.
type Metrics struct {
	Received     atomic.Uint64
	Segments     atomic.Uint64
	Ignored      atomic.Uint64 // not IPv4/TCP, or unsupported link type
	DecodeErrors atomic.Uint64
	StreamResets atomic.Uint64
	Frames       atomic.Uint64
	FrameErrors  atomic.Uint64
	Deltas       atomic.Uint64
	Events       atomic.Uint64
	Reported     atomic.Uint64
	ReportErrors atomic.Uint64

	lastPacket atomic.Int64 // wall clock UnixNano of the last dequeued packet
	clock      atomic.Int64 // UnixNano of the latest capture timestamp
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Segments.Store(0)
	m.Ignored.Store(0)
	m.DecodeErrors.Store(0)
	m.StreamResets.Store(0)
	m.Frames.Store(0)
	m.FrameErrors.Store(0)
	m.Deltas.Store(0)
	m.Events.Store(0)
	m.Reported.Store(0)
	m.ReportErrors.Store(0)
	m.lastPacket.Store(0)
	m.clock.Store(0)
}

// Stats represents a snapshot of pipeline statistics.
type Stats struct {
	Received     uint64
	Segments     uint64
	Ignored      uint64
	DecodeErrors uint64
	StreamResets uint64
	Frames       uint64
	FrameErrors  uint64
	Deltas       uint64
	Events       uint64
	Reported     uint64
	ReportErrors uint64

	ActiveStreams   int
	ActiveFragments int
	ActiveBuffs     int
	QueueLen        int

	// Idle is the wall time since the last packet, or zero before the first one.
	Idle time.Duration
	// Clock is the latest capture timestamp seen, or zero before the first packet.
	Clock time.Time
}

func (m *Metrics) snapshot(now time.Time) Stats {
	s := Stats{
		Received:     m.Received.Load(),
		Segments:     m.Segments.Load(),
		Ignored:      m.Ignored.Load(),
		DecodeErrors: m.DecodeErrors.Load(),
		StreamResets: m.StreamResets.Load(),
		Frames:       m.Frames.Load(),
		FrameErrors:  m.FrameErrors.Load(),
		Deltas:       m.Deltas.Load(),
		Events:       m.Events.Load(),
		Reported:     m.Reported.Load(),
		ReportErrors: m.ReportErrors.Load(),
	}
	if last := m.lastPacket.Load(); last != 0 {
		s.Idle = now.Sub(time.Unix(0, last))
	}
	if c := m.clock.Load(); c != 0 {
		s.Clock = time.Unix(0, c)
	}
	return s
}
