// Package pipeline implements the packet processing pipeline engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/buffwatch/internal/buff"
	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/core/decoder"
	"firestige.xyz/buffwatch/internal/metrics"
	"firestige.xyz/buffwatch/internal/protocol"
	"firestige.xyz/buffwatch/internal/stream"
	"firestige.xyz/buffwatch/internal/wire"
	"firestige.xyz/buffwatch/pkg/plugin"
)

// Defaults applied to zero Config fields.
const (
	DefaultQueueCapacity = 65536
	DefaultSweepInterval = 10 * time.Second
)

// Pipeline connects one capturer to the decode chain. A capture goroutine
// fills a bounded queue; a single consumer goroutine owns every piece of
// reassembly and dispatch state.
type Pipeline struct {
	capturer         plugin.Capturer
	reporters        []plugin.Reporter
	payloadReporters []plugin.PayloadReporter

	decoder      *decoder.Decoder
	streams      *stream.Table
	decompressor protocol.Decompressor
	ownsDecomp   bool
	dispatcher   *protocol.Dispatcher
	tracker      *buff.Tracker
	metrics      *Metrics

	fragmentSweep time.Duration
	streamSweep   time.Duration

	// Capture clock, consumer goroutine only.
	now             time.Time
	nowWall         time.Time // wall time at which now was observed
	lastFragSweep   time.Time
	lastStreamSweep time.Time

	// Runtime state
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	// Channel for backpressure control
	rawPacketChan chan core.RawPacket
}

// Config contains pipeline configuration.
type Config struct {
	Capturer     plugin.Capturer
	Reporters    []plugin.Reporter
	Decompressor protocol.Decompressor // nil = zstd, owned by the pipeline

	Reassembly        decoder.ReassemblyConfig
	Stream            stream.Config
	StreamIdleTimeout time.Duration
	Cooldowns         map[int32]time.Duration

	QueueCapacity         int
	FragmentSweepInterval time.Duration
	StreamSweepInterval   time.Duration
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Capturer == nil {
		return nil, fmt.Errorf("%w: pipeline requires a capturer", core.ErrConfigInvalid)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.FragmentSweepInterval <= 0 {
		cfg.FragmentSweepInterval = DefaultSweepInterval
	}
	if cfg.StreamSweepInterval <= 0 {
		cfg.StreamSweepInterval = DefaultSweepInterval
	}

	p := &Pipeline{
		capturer:      cfg.Capturer,
		reporters:     cfg.Reporters,
		decoder:       decoder.NewDecoder(cfg.Reassembly),
		streams:       stream.NewTable(cfg.Stream, cfg.StreamIdleTimeout),
		decompressor:  cfg.Decompressor,
		tracker:       buff.NewTracker(cfg.Cooldowns),
		metrics:       &Metrics{},
		fragmentSweep: cfg.FragmentSweepInterval,
		streamSweep:   cfg.StreamSweepInterval,
		done:          make(chan struct{}),
		rawPacketChan: make(chan core.RawPacket, cfg.QueueCapacity),
	}

	if p.decompressor == nil {
		z, err := protocol.NewZstdDecompressor()
		if err != nil {
			return nil, err
		}
		p.decompressor = z
		p.ownsDecomp = true
	}

	for _, r := range cfg.Reporters {
		if pr, ok := r.(plugin.PayloadReporter); ok {
			p.payloadReporters = append(p.payloadReporters, pr)
		}
	}

	p.dispatcher = protocol.NewDispatcher(p.decompressor)
	p.dispatcher.HandleAOI(p.onDelta)
	return p, nil
}

// Tracker returns the buff state tracker. It is safe for concurrent reads.
func (p *Pipeline) Tracker() *buff.Tracker {
	return p.tracker
}

// Done is closed when processing ends: after Stop, or once the capturer is
// exhausted and the queue drained.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Start starts the plugins and the pipeline goroutines.
func (p *Pipeline) Start(ctx context.Context) error {
	slog.Info("pipeline starting", "capturer", p.capturer.Name(), "reporters", len(p.reporters))

	p.ctx, p.cancel = context.WithCancel(ctx)

	started := make([]plugin.Plugin, 0, len(p.reporters)+1)
	for _, r := range p.reporters {
		if err := r.Start(p.ctx); err != nil {
			p.stopPlugins(started)
			p.cancel()
			return fmt.Errorf("start reporter %s: %w", r.Name(), err)
		}
		started = append(started, r)
	}
	if err := p.capturer.Start(p.ctx); err != nil {
		p.stopPlugins(started)
		p.cancel()
		return fmt.Errorf("start capturer %s: %w", p.capturer.Name(), err)
	}

	// Start capture goroutine
	p.wg.Add(1)
	go p.captureLoop()

	// Start processing goroutine
	p.wg.Add(1)
	go p.processLoop()

	return nil
}

// Stop stops the pipeline gracefully and flushes the reporters.
// Calls after the first return the first result.
func (p *Pipeline) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.stopOnce.Do(func() { p.stopErr = p.stop() })
	return p.stopErr
}

func (p *Pipeline) stop() error {
	slog.Info("pipeline stopping", "capturer", p.capturer.Name())

	// Cancel context to signal goroutines to stop
	p.cancel()

	// Wait for all goroutines to finish
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, reporter := range p.reporters {
		if err := reporter.Flush(ctx); err != nil {
			slog.Warn("reporter flush failed", "reporter", reporter.Name(), "error", err)
			errs = append(errs, err)
		}
	}

	plugins := make([]plugin.Plugin, 0, len(p.reporters)+1)
	plugins = append(plugins, p.capturer)
	for _, r := range p.reporters {
		plugins = append(plugins, r)
	}
	errs = append(errs, p.stopPlugins(plugins))

	p.streams.Flush()
	if p.ownsDecomp {
		if z, ok := p.decompressor.(*protocol.ZstdDecompressor); ok {
			z.Close()
		}
	}

	st := p.Stats()
	slog.Info("pipeline stopped", "packets", st.Received, "deltas", st.Deltas, "events", st.Events)
	return errors.Join(errs...)
}

func (p *Pipeline) stopPlugins(plugins []plugin.Plugin) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, pl := range plugins {
		if err := pl.Stop(ctx); err != nil {
			slog.Warn("plugin stop failed", "plugin", pl.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// captureLoop runs the capturer into the processing channel.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()

	if err := p.capturer.Capture(p.ctx, p.rawPacketChan); err != nil {
		if p.ctx.Err() == nil {
			// Context not cancelled, this is a real error
			slog.Error("capture failed", "capturer", p.capturer.Name(), "error", err)
		}
	}

	// Close channel when capture ends
	close(p.rawPacketChan)
}

// processLoop is the main processing loop.
func (p *Pipeline) processLoop() {
	defer p.wg.Done()
	defer close(p.done)

	fragTicker := time.NewTicker(p.fragmentSweep)
	defer fragTicker.Stop()
	streamTicker := time.NewTicker(p.streamSweep)
	defer streamTicker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case raw, ok := <-p.rawPacketChan:
			if !ok {
				// Channel closed, capturer stopped
				return
			}
			p.processPacket(raw)

		case <-fragTicker.C:
			p.sweepFragments(p.idleClock())

		case <-streamTicker.C:
			p.sweepStreams(p.idleClock())
		}
	}
}

// processPacket runs one captured frame through decode, stream reassembly
// and frame dispatch. Every failure here is per-packet and recoverable.
func (p *Pipeline) processPacket(raw core.RawPacket) {
	p.metrics.Received.Add(1)
	p.metrics.lastPacket.Store(time.Now().UnixNano())
	metrics.CapturePacketsTotal.WithLabelValues(p.capturer.Name()).Inc()

	if raw.Timestamp.After(p.now) {
		p.now = raw.Timestamp
		p.nowWall = time.Now()
		p.metrics.clock.Store(p.now.UnixNano())
	}
	defer p.maybeSweep()

	seg, ok, err := p.decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, core.ErrUnsupportedProto) || errors.Is(err, core.ErrUnsupportedLink) {
			p.metrics.Ignored.Add(1)
			return
		}
		p.metrics.DecodeErrors.Add(1)
		metrics.CaptureDropsTotal.WithLabelValues("decode").Inc()
		slog.Debug("packet decode failed", "error", err, "len", len(raw.Data))
		return
	}
	if !ok {
		return
	}
	p.metrics.Segments.Add(1)

	r := p.streams.Get(seg.Flow)
	if err := r.Feed(seg.Seq, seg.Payload, seg.Timestamp); err != nil {
		p.metrics.StreamResets.Add(1)
		slog.Warn("stream reset", "flow", seg.Flow.String(), "error", err)
		return
	}

	if err := r.Split(func(frame []byte) {
		p.dispatch(frame, seg.Timestamp)
	}); err != nil {
		p.metrics.StreamResets.Add(1)
		slog.Debug("stream reset", "flow", seg.Flow.String(), "error", err)
		return
	}

	if r.CheckDesync(seg.Timestamp) {
		p.metrics.StreamResets.Add(1)
	}
}

func (p *Pipeline) dispatch(frame []byte, now time.Time) {
	p.metrics.Frames.Add(1)
	if err := p.dispatcher.Dispatch(frame, now); err != nil {
		p.metrics.FrameErrors.Add(1)
		slog.Debug("frame dropped", "error", err, "len", len(frame))
	}
}

// onDelta decodes one AOI delta's buff list and fans the events out.
func (p *Pipeline) onDelta(pl core.BuffPayload) {
	p.metrics.Deltas.Add(1)
	if len(pl.Data) == 0 {
		return
	}

	for _, pr := range p.payloadReporters {
		if err := pr.ReportPayload(p.ctx, &pl); err != nil {
			p.reportFailed(pr, err)
		}
	}

	events := wire.DecodeBuffEvents(pl.Data)
	if len(events) == 0 {
		return
	}
	for i := range events {
		e := &events[i]
		e.EntityUUID = pl.EntityUUID
		e.MethodID = pl.MethodID
		e.Timestamp = pl.Timestamp
		metrics.BuffEventsTotal.WithLabelValues(opName(e)).Inc()
	}
	p.metrics.Events.Add(uint64(len(events)))

	p.tracker.Feed(events, pl.Timestamp)
	metrics.ActiveBuffs.Set(float64(p.tracker.ActiveCount()))

	for i := range events {
		for _, r := range p.reporters {
			if err := r.Report(p.ctx, &events[i]); err != nil {
				p.reportFailed(r, err)
				continue
			}
		}
		p.metrics.Reported.Add(1)
	}
}

func (p *Pipeline) reportFailed(r plugin.Reporter, err error) {
	p.metrics.ReportErrors.Add(1)
	metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
	slog.Warn("reporter failed", "reporter", r.Name(), "error", err)
}

// opName labels an event for metrics.
func opName(e *core.BuffEvent) string {
	switch {
	case e.IsRemove():
		return "remove"
	case e.IsLite():
		return "lite"
	default:
		return "update"
	}
}

// maybeSweep sweeps on the capture clock, so that offline replays expire
// state at the rate the capture was recorded.
func (p *Pipeline) maybeSweep() {
	if p.now.Sub(p.lastFragSweep) >= p.fragmentSweep {
		p.sweepFragments(p.now)
	}
	if p.now.Sub(p.lastStreamSweep) >= p.streamSweep {
		p.sweepStreams(p.now)
	}
}

// idleClock extends the capture clock by the wall time elapsed since the
// last capture timestamp, so a silent live capture still expires state.
func (p *Pipeline) idleClock() time.Time {
	if p.now.IsZero() {
		return p.now
	}
	return p.now.Add(time.Since(p.nowWall))
}

func (p *Pipeline) sweepFragments(now time.Time) {
	p.lastFragSweep = now
	if n := p.decoder.Reassembler().Sweep(now); n > 0 {
		slog.Debug("expired fragment groups", "count", n)
	}
}

func (p *Pipeline) sweepStreams(now time.Time) {
	p.lastStreamSweep = now
	if n := p.streams.Sweep(now); n > 0 {
		p.metrics.StreamResets.Add(uint64(n))
	}
}

// Stats returns pipeline statistics. Safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	s := p.metrics.snapshot(time.Now())
	s.ActiveStreams = p.streams.Len()
	s.ActiveFragments = p.decoder.Reassembler().Len()
	s.ActiveBuffs = p.tracker.ActiveCount()
	s.QueueLen = len(p.rawPacketChan)
	return s
}
