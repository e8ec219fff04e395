package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/buffwatch/internal/config"
	"firestige.xyz/buffwatch/internal/metrics"
	"firestige.xyz/buffwatch/internal/pipeline"
	"firestige.xyz/buffwatch/pkg/plugin"
)

// runPipeline runs capturer through a pipeline built from cfg until ctx is
// done or the capturer is exhausted, calling tick every interval. The
// stopped pipeline is returned for final reporting.
func runPipeline(ctx context.Context, cfg *config.GlobalConfig, capturer plugin.Capturer,
	interval time.Duration, tick func(*pipeline.Pipeline)) (*pipeline.Pipeline, error) {

	p, err := pipeline.NewBuilder().
		FromConfig(cfg).
		WithCapturer(capturer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				slog.Warn("metrics server stop failed", "error", err)
			}
		}()
	}

	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-p.Done():
			break loop
		case <-ticker.C:
			tick(p)
		}
	}

	return p, p.Stop()
}

// logStatus logs the periodic status line.
func logStatus(p *pipeline.Pipeline, capturer plugin.Capturer) {
	st := p.Stats()
	cs := capturer.Stats()
	slog.Info("status",
		"packets", st.Received,
		"deltas", st.Deltas,
		"events", st.Events,
		"idle_ms", st.Idle.Milliseconds(),
		"streams", st.ActiveStreams,
		"fragments", st.ActiveFragments,
		"active_buffs", st.ActiveBuffs,
		"queue", st.QueueLen,
		"dropped", cs.PacketsDropped,
		"decode_errors", st.DecodeErrors,
		"frame_errors", st.FrameErrors,
	)
}

// trackerClock returns the time tracker panels are rendered at: the capture
// clock extended by the idle wall time, or the wall clock before any packet.
func trackerClock(st pipeline.Stats) time.Time {
	if st.Clock.IsZero() {
		return time.Now()
	}
	return st.Clock.Add(st.Idle)
}
