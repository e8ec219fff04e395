package pipeline

import (
	"fmt"
	"time"

	"firestige.xyz/buffwatch/internal/config"
	"firestige.xyz/buffwatch/internal/core/decoder"
	"firestige.xyz/buffwatch/internal/protocol"
	"firestige.xyz/buffwatch/internal/stream"
	"firestige.xyz/buffwatch/pkg/plugin"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
	err    error
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			QueueCapacity: DefaultQueueCapacity,
		},
	}
}

// FromConfig applies every pipeline-related section of cfg and creates the
// enabled reporters from the plugin registry.
func (b *Builder) FromConfig(cfg *config.GlobalConfig) *Builder {
	cooldowns, err := cfg.Tracker.CooldownTable()
	if err != nil {
		b.fail(err)
		return b
	}

	b.config.QueueCapacity = cfg.Pipeline.QueueCapacity
	b.config.FragmentSweepInterval = cfg.Pipeline.FragmentSweepInterval
	b.config.StreamSweepInterval = cfg.Pipeline.StreamSweepInterval
	b.config.Reassembly = decoder.ReassemblyConfig{
		MaxFragments:    cfg.Reassembly.MaxFragments,
		Timeout:         cfg.Reassembly.FragmentTimeout,
		MaxFragsPerIP:   cfg.Reassembly.MaxFragsPerIP,
		RateLimitWindow: cfg.Reassembly.RateLimitWindow,
	}
	b.config.Stream = stream.Config{
		DesyncTimeout:   cfg.Reassembly.StreamDesyncTimeout,
		MaxPendingBytes: cfg.Reassembly.MaxPendingBytes,
	}
	b.config.StreamIdleTimeout = cfg.Reassembly.StreamIdleTimeout
	b.config.Cooldowns = cooldowns

	for _, rc := range cfg.EnabledReporters() {
		r, err := NewReporter(rc.Name, rc.Config)
		if err != nil {
			b.fail(err)
			return b
		}
		b.config.Reporters = append(b.config.Reporters, r)
	}
	return b
}

// NewReporter creates and initializes the reporter registered under name.
func NewReporter(name string, cfg map[string]any) (plugin.Reporter, error) {
	factory, err := plugin.GetReporterFactory(name)
	if err != nil {
		return nil, err
	}
	r := factory()
	if err := r.Init(cfg); err != nil {
		return nil, fmt.Errorf("init reporter %s: %w", name, err)
	}
	return r, nil
}

// NewCapturer creates and initializes the capturer registered under name.
func NewCapturer(name string, cfg map[string]any) (plugin.Capturer, error) {
	factory, err := plugin.GetCapturerFactory(name)
	if err != nil {
		return nil, err
	}
	c := factory()
	if err := c.Init(cfg); err != nil {
		return nil, fmt.Errorf("init capturer %s: %w", name, err)
	}
	return c, nil
}

// WithCapturer sets the packet capturer.
func (b *Builder) WithCapturer(c plugin.Capturer) *Builder {
	b.config.Capturer = c
	return b
}

// WithReporters appends to the reporter chain.
func (b *Builder) WithReporters(reporters ...plugin.Reporter) *Builder {
	b.config.Reporters = append(b.config.Reporters, reporters...)
	return b
}

// WithDecompressor replaces the default zstd decompressor.
func (b *Builder) WithDecompressor(d protocol.Decompressor) *Builder {
	b.config.Decompressor = d
	return b
}

// WithReassembly sets the IP fragment reassembly limits.
func (b *Builder) WithReassembly(cfg decoder.ReassemblyConfig) *Builder {
	b.config.Reassembly = cfg
	return b
}

// WithStream sets the per-direction stream limits and the idle eviction timeout.
func (b *Builder) WithStream(cfg stream.Config, idle time.Duration) *Builder {
	b.config.Stream = cfg
	b.config.StreamIdleTimeout = idle
	return b
}

// WithCooldowns sets the buff cooldown table.
func (b *Builder) WithCooldowns(cooldowns map[int32]time.Duration) *Builder {
	b.config.Cooldowns = cooldowns
	return b
}

// WithQueueCapacity sets the raw packet channel buffer size.
func (b *Builder) WithQueueCapacity(size int) *Builder {
	b.config.QueueCapacity = size
	return b
}

// WithSweepIntervals sets how often fragment and stream state is swept.
func (b *Builder) WithSweepIntervals(fragments, streams time.Duration) *Builder {
	b.config.FragmentSweepInterval = fragments
	b.config.StreamSweepInterval = streams
	return b
}

// Build creates the pipeline, returning the first error met while building.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return New(b.config)
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
