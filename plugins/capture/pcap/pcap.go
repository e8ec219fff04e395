// Package pcap implements libpcap-based capturers: a live device capturer
// and an offline capture file reader.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/metrics"
	"firestige.xyz/buffwatch/pkg/plugin"
)

const (
	pluginName = "pcap"

	defaultSnapLen      = 65535
	defaultBufferSizeMB = 10
	defaultBPFFilter    = "ip and tcp"
	readTimeout         = 100 * time.Millisecond
)

// Config represents live pcap capture configuration.
type Config struct {
	Device       string `mapstructure:"device"` // index or name/description substring; empty picks the first
	BPFFilter    string `mapstructure:"bpf_filter"`
	SnapLen      int    `mapstructure:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	Promiscuous  bool   `mapstructure:"promiscuous"`
}

// Capturer captures frames from a live device through libpcap.
type Capturer struct {
	config Config
	device Device

	mu       sync.Mutex
	handle   *pcap.Handle
	linkType core.LinkType
	cancel   context.CancelFunc

	packetsReceived  atomic.Uint64
	packetsDropped   atomic.Uint64
	packetsIfDropped atomic.Uint64
	queueDropped     atomic.Uint64
}

// NewCapturer creates a new live pcap capturer.
func NewCapturer() plugin.Capturer {
	return &Capturer{}
}

// Name returns the plugin name.
func (c *Capturer) Name() string {
	return pluginName
}

// Init decodes the capture configuration.
func (c *Capturer) Init(cfg map[string]any) error {
	c.config = Config{
		BPFFilter:    defaultBPFFilter,
		SnapLen:      defaultSnapLen,
		BufferSizeMB: defaultBufferSizeMB,
		Promiscuous:  true,
	}
	if err := plugin.DecodeConfig(cfg, &c.config); err != nil {
		return fmt.Errorf("pcap: %w", err)
	}
	if c.config.SnapLen <= 0 {
		c.config.SnapLen = defaultSnapLen
	}
	if c.config.BufferSizeMB <= 0 {
		c.config.BufferSizeMB = defaultBufferSizeMB
	}

	slog.Debug("pcap initialized",
		"device", c.config.Device,
		"bpf_filter", c.config.BPFFilter,
		"snap_len", c.config.SnapLen,
		"buffer_size_mb", c.config.BufferSizeMB)
	return nil
}

// Start resolves the device and activates the capture handle.
func (c *Capturer) Start(ctx context.Context) error {
	dev, err := LookupDevice(c.config.Device)
	if err != nil {
		return err
	}
	c.device = dev

	handle, err := c.open(dev.Name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.linkType = linkTypeOf(handle.LinkType())
	c.mu.Unlock()

	slog.Info("pcap capture opened",
		"device", FormatDevice(dev),
		"link_type", c.linkType,
		"bpf_filter", c.config.BPFFilter)
	return nil
}

func (c *Capturer) open(device string) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, fmt.Errorf("pcap: open %s: %w", device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(c.config.SnapLen); err != nil {
		return nil, fmt.Errorf("pcap: snap_len: %w", err)
	}
	if err := inactive.SetPromisc(c.config.Promiscuous); err != nil {
		return nil, fmt.Errorf("pcap: promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("pcap: timeout: %w", err)
	}
	if err := inactive.SetBufferSize(c.config.BufferSizeMB << 20); err != nil {
		return nil, fmt.Errorf("pcap: buffer_size_mb: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap: activate %s: %w", device, err)
	}
	if c.config.BPFFilter != "" {
		if err := handle.SetBPFFilter(c.config.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("pcap: bpf filter %q: %w", c.config.BPFFilter, err)
		}
	}
	return handle, nil
}

// Stop cancels a running Capture. The handle is closed by Capture itself
// once its read loop returns, so a blocked read never races the close.
func (c *Capturer) Stop(ctx context.Context) error {
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

// Capture reads frames until ctx is cancelled. Frames are dropped rather
// than blocking the read loop when output is full.
func (c *Capturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	c.mu.Lock()
	handle := c.handle
	if handle == nil {
		c.mu.Unlock()
		return fmt.Errorf("pcap: capture not started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	linkType := c.linkType
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.handle = nil
		c.mu.Unlock()
		handle.Close()
	}()

	slog.Info("pcap capture started", "device", c.device.Name)
	for {
		if ctx.Err() != nil {
			slog.Info("pcap capture stopped", "device", c.device.Name)
			return nil
		}

		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				c.refreshStats(handle)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pcap: read: %w", err)
		}
		c.packetsReceived.Add(1)

		select {
		case output <- rawPacket(data, ci, linkType):
		case <-ctx.Done():
			slog.Info("pcap capture stopped", "device", c.device.Name)
			return nil
		default:
			c.queueDropped.Add(1)
			metrics.CaptureDropsTotal.WithLabelValues("queue").Inc()
			slog.Debug("output channel full, dropping packet", "device", c.device.Name)
		}
	}
}

func (c *Capturer) refreshStats(handle *pcap.Handle) {
	st, err := handle.Stats()
	if err != nil {
		return
	}
	c.packetsDropped.Store(uint64(st.PacketsDropped))
	c.packetsIfDropped.Store(uint64(st.PacketsIfDropped))
}

// Stats returns capture statistics. PacketsDropped includes both kernel
// drops and frames dropped because the pipeline queue was full.
func (c *Capturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived:  c.packetsReceived.Load(),
		PacketsDropped:   c.packetsDropped.Load() + c.queueDropped.Load(),
		PacketsIfDropped: c.packetsIfDropped.Load(),
	}
}

// LinkType returns the framing of the opened device.
func (c *Capturer) LinkType() core.LinkType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkType
}

// Device returns the device resolved by Start.
func (c *Capturer) Device() Device {
	return c.device
}

func linkTypeOf(lt layers.LinkType) core.LinkType {
	switch lt {
	case layers.LinkTypeEthernet:
		return core.LinkTypeEthernet
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return core.LinkTypeNull
	case layers.LinkTypeLinuxSLL:
		return core.LinkTypeLinuxSLL
	default:
		return core.LinkType(lt)
	}
}

func rawPacket(data []byte, ci gopacket.CaptureInfo, lt core.LinkType) core.RawPacket {
	return core.RawPacket{
		Data:           data,
		Timestamp:      ci.Timestamp,
		CaptureLen:     uint32(ci.CaptureLength),
		OrigLen:        uint32(ci.Length),
		InterfaceIndex: ci.InterfaceIndex,
		LinkType:       lt,
	}
}
