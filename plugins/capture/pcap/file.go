package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/pkg/plugin"
)

const filePluginName = "pcapfile"

// FileConfig represents offline capture configuration.
type FileConfig struct {
	Path      string `mapstructure:"path"`
	BPFFilter string `mapstructure:"bpf_filter"`
}

// FileCapturer replays frames from a pcap or pcapng file.
type FileCapturer struct {
	config FileConfig

	mu       sync.Mutex
	handle   *pcap.Handle
	linkType core.LinkType

	packetsReceived atomic.Uint64
}

// NewFileCapturer creates a new offline capturer.
func NewFileCapturer() plugin.Capturer {
	return &FileCapturer{}
}

// Name returns the plugin name.
func (c *FileCapturer) Name() string {
	return filePluginName
}

// Init decodes the file configuration. A path is required.
func (c *FileCapturer) Init(cfg map[string]any) error {
	c.config = FileConfig{}
	if err := plugin.DecodeConfig(cfg, &c.config); err != nil {
		return fmt.Errorf("pcapfile: %w", err)
	}
	if c.config.Path == "" {
		return fmt.Errorf("pcapfile: %w: path is required", core.ErrConfigInvalid)
	}
	return nil
}

// Start opens the capture file.
func (c *FileCapturer) Start(ctx context.Context) error {
	handle, err := pcap.OpenOffline(c.config.Path)
	if err != nil {
		return fmt.Errorf("pcapfile: open %s: %w", c.config.Path, err)
	}
	if c.config.BPFFilter != "" {
		if err := handle.SetBPFFilter(c.config.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("pcapfile: bpf filter %q: %w", c.config.BPFFilter, err)
		}
	}

	c.mu.Lock()
	c.handle = handle
	c.linkType = linkTypeOf(handle.LinkType())
	c.mu.Unlock()

	slog.Info("pcap file opened", "path", c.config.Path, "link_type", c.linkType)
	return nil
}

// Stop closes the file if Capture never ran.
func (c *FileCapturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	return nil
}

// Capture sends every frame of the file to output and returns nil at end of
// file. Sends block, so no frame of the file is lost.
func (c *FileCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	linkType := c.linkType
	c.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("pcapfile: capture not started")
	}
	defer handle.Close()

	for {
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("pcap file finished", "path", c.config.Path, "packets", c.packetsReceived.Load())
				return nil
			}
			return fmt.Errorf("pcapfile: read: %w", err)
		}
		c.packetsReceived.Add(1)

		select {
		case output <- rawPacket(data, ci, linkType):
		case <-ctx.Done():
			return nil
		}
	}
}

// Stats returns capture statistics.
func (c *FileCapturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{PacketsReceived: c.packetsReceived.Load()}
}

// LinkType returns the framing recorded in the file header.
func (c *FileCapturer) LinkType() core.LinkType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkType
}
