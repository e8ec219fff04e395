// Package afpacket implements an AF_PACKET TPACKET_V3 capture plugin.
package afpacket

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/metrics"
	pcapcapture "firestige.xyz/buffwatch/plugins/capture/pcap"
	"firestige.xyz/buffwatch/pkg/plugin"
)

const (
	pluginName = "afpacket"

	defaultSnapLen      = 65535
	defaultBufferSizeMB = 10
	defaultBPFFilter    = "ip and tcp"
	pollTimeout         = 100 * time.Millisecond
)

// Config represents afpacket-specific configuration.
type Config struct {
	Device       string `mapstructure:"device"`         // index or name substring; empty picks the first
	BPFFilter    string `mapstructure:"bpf_filter"`     // optional
	SnapLen      int    `mapstructure:"snap_len"`       // default 65535
	BufferSizeMB int    `mapstructure:"buffer_size_mb"` // ring size, default 10
	FanoutID     int    `mapstructure:"fanout_id"`      // used when fanout_type is set
	FanoutType   string `mapstructure:"fanout_type"`    // "" (off) | hash
}

// AFPacketCapturer implements the Capturer interface using AF_PACKET_V3.
type AFPacketCapturer struct {
	config Config
	device string
	ring   ringSize

	mu     sync.Mutex
	handle *afpacket.TPacket
	cancel context.CancelFunc

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	queueDropped    atomic.Uint64
}

// NewAFPacketCapturer creates a new AF_PACKET capturer instance.
func NewAFPacketCapturer() plugin.Capturer {
	return &AFPacketCapturer{}
}

// Name returns the plugin name.
func (c *AFPacketCapturer) Name() string {
	return pluginName
}

// Init initializes the capturer with configuration.
func (c *AFPacketCapturer) Init(cfg map[string]any) error {
	c.config = Config{
		BPFFilter:    defaultBPFFilter,
		SnapLen:      defaultSnapLen,
		BufferSizeMB: defaultBufferSizeMB,
	}
	if err := plugin.DecodeConfig(cfg, &c.config); err != nil {
		return fmt.Errorf("afpacket: %w", err)
	}
	if c.config.SnapLen <= 0 {
		c.config.SnapLen = defaultSnapLen
	}
	if c.config.BufferSizeMB <= 0 {
		c.config.BufferSizeMB = defaultBufferSizeMB
	}
	if _, err := parseFanoutType(c.config.FanoutType); err != nil {
		return fmt.Errorf("afpacket: %w: %v", core.ErrConfigInvalid, err)
	}

	ring, err := computeRing(c.config.BufferSizeMB, c.config.SnapLen, os.Getpagesize())
	if err != nil {
		return fmt.Errorf("afpacket: %w: %v", core.ErrConfigInvalid, err)
	}
	c.ring = ring

	slog.Debug("afpacket initialized",
		"device", c.config.Device,
		"bpf_filter", c.config.BPFFilter,
		"snap_len", c.config.SnapLen,
		"frame_size", ring.frameSize,
		"block_size", ring.blockSize,
		"num_blocks", ring.numBlocks,
		"fanout_type", c.config.FanoutType)
	return nil
}

// Start resolves the device and opens the TPacket ring.
func (c *AFPacketCapturer) Start(ctx context.Context) error {
	dev, err := pcapcapture.LookupDevice(c.config.Device)
	if err != nil {
		return err
	}
	c.device = dev.Name

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(c.device),
		afpacket.OptFrameSize(c.ring.frameSize),
		afpacket.OptBlockSize(c.ring.blockSize),
		afpacket.OptNumBlocks(c.ring.numBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("afpacket: create TPacket on %s: %w", c.device, err)
	}

	if err := c.configure(handle); err != nil {
		handle.Close()
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()

	slog.Info("afpacket capture opened", "device", pcapcapture.FormatDevice(dev))
	return nil
}

func (c *AFPacketCapturer) configure(handle *afpacket.TPacket) error {
	if c.config.FanoutType != "" {
		fanoutType, _ := parseFanoutType(c.config.FanoutType)
		if err := handle.SetFanout(fanoutType, uint16(c.config.FanoutID)); err != nil {
			return fmt.Errorf("afpacket: set fanout: %w", err)
		}
		slog.Info("afpacket fanout configured",
			"device", c.device,
			"fanout_id", c.config.FanoutID,
			"fanout_type", c.config.FanoutType)
	}

	if c.config.BPFFilter != "" {
		insns, err := compileBPF(c.config.SnapLen, c.config.BPFFilter)
		if err != nil {
			return err
		}
		if err := handle.SetBPF(insns); err != nil {
			return fmt.Errorf("afpacket: set BPF: %w", err)
		}
		slog.Debug("BPF filter applied", "filter", c.config.BPFFilter)
	}

	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}
	return nil
}

// Stop cancels a running Capture.
//
// The TPacket handle is owned by Capture once it runs and is closed there
// after the read loop returns, so Close never races a read on the ring.
func (c *AFPacketCapturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	} else if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	return nil
}

// Capture reads frames until ctx is cancelled, dropping frames when output
// is full.
func (c *AFPacketCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	c.mu.Lock()
	handle := c.handle
	if handle == nil {
		c.mu.Unlock()
		return fmt.Errorf("afpacket: capture not started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.handle = nil
		c.mu.Unlock()
		handle.Close()
	}()

	slog.Info("afpacket capture started", "device", c.device)
	for {
		select {
		case <-ctx.Done():
			slog.Info("afpacket capture stopped", "device", c.device)
			return nil
		default:
		}

		// ReadPacketData copies out of the ring, so frames stay valid after
		// the next read.
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			// Poll timeouts and EINTR land here; ctx is checked at the top.
			continue
		}
		c.packetsReceived.Add(1)

		if st, _, err := handle.SocketStats(); err == nil {
			c.packetsDropped.Store(uint64(st.Drops()))
		}

		raw := core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
			LinkType:       core.LinkTypeEthernet,
		}

		select {
		case output <- raw:
		case <-ctx.Done():
			slog.Info("afpacket capture stopped", "device", c.device)
			return nil
		default:
			c.queueDropped.Add(1)
			metrics.CaptureDropsTotal.WithLabelValues("queue").Inc()
			slog.Debug("output channel full, dropping packet", "device", c.device)
		}
	}
}

// Stats returns capture statistics.
func (c *AFPacketCapturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived: c.packetsReceived.Load(),
		PacketsDropped:  c.packetsDropped.Load() + c.queueDropped.Load(),
	}
}

// LinkType returns Ethernet; AF_PACKET rings deliver full link-layer frames.
func (c *AFPacketCapturer) LinkType() core.LinkType {
	return core.LinkTypeEthernet
}

// compileBPF compiles expr with libpcap and converts the program for SetBPF.
// pcap.BPFInstruction and bpf.RawInstruction share the same layout.
func compileBPF(snapLen int, expr string) ([]bpf.RawInstruction, error) {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("afpacket: compile BPF filter %q: %w", expr, err)
	}
	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{Op: insn.Code, Jt: insn.Jt, Jf: insn.Jf, K: insn.K}
	}
	return raw, nil
}

// parseFanoutType converts a fanout type string to the afpacket constant.
// gopacket v1.1.19 exports only FanoutHash.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch ft {
	case "":
		return 0, nil
	case "hash":
		return afpacket.FanoutHash, nil
	default:
		return 0, fmt.Errorf("unknown fanout type %q (only hash is supported)", ft)
	}
}
