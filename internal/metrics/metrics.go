// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts total packets captured by source
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"source"},
	)

	// CaptureDropsTotal counts packets dropped before reaching the decoder
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_capture_drops_total",
			Help: "Total number of packets dropped",
		},
		[]string{"stage"},
	)

	// ReassemblyActiveFragments tracks IP datagrams awaiting reassembly
	ReassemblyActiveFragments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buffwatch_reassembly_active_fragments",
			Help: "Number of IP datagrams in the fragment reassembly table",
		},
	)

	// StreamResetsTotal counts TCP direction resets by reason
	StreamResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_stream_resets_total",
			Help: "Total number of stream reassembly resets",
		},
		[]string{"reason"},
	)

	// ActiveStreams tracks the number of tracked TCP directions
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buffwatch_active_streams",
			Help: "Number of TCP directions being reassembled",
		},
	)

	// FramesTotal counts dispatched frames by message kind
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_frames_total",
			Help: "Total number of frames dispatched",
		},
		[]string{"kind"},
	)

	// FrameErrorsTotal counts per-frame recoverable errors
	FrameErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_frame_errors_total",
			Help: "Total number of frames dropped by error kind",
		},
		[]string{"kind"},
	)

	// BuffEventsTotal counts decoded buff events by operation
	BuffEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_buff_events_total",
			Help: "Total number of buff events decoded",
		},
		[]string{"op"},
	)

	// ActiveBuffs tracks the size of the active-buff table
	ActiveBuffs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buffwatch_active_buffs",
			Help: "Number of buffs currently active",
		},
	)

	// ReporterErrorsTotal counts reporter errors by name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buffwatch_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter"},
	)
)

// Stream reset reasons.
const (
	ResetDesync            = "desync"
	ResetImplausibleLength = "implausible_length"
	ResetOverflow          = "overflow"
)
