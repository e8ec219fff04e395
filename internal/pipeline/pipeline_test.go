package pipeline

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/protocol"
	"firestige.xyz/buffwatch/internal/wire"
	"firestige.xyz/buffwatch/pkg/plugin"
)

// Mock implementations for testing

// MockCapturer replays a fixed list of frames, then reports end of input.
type MockCapturer struct {
	packets []core.RawPacket
	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *MockCapturer) Name() string { return "mock" }
func (m *MockCapturer) Init(config map[string]any) error { return nil }
func (m *MockCapturer) LinkType() core.LinkType { return core.LinkTypeEthernet }
func (m *MockCapturer) Stats() plugin.CaptureStats { return plugin.CaptureStats{} }
func (m *MockCapturer) Start(ctx context.Context) error { m.mu.Lock(); m.started = true; m.mu.Unlock(); return nil }
func (m *MockCapturer) Stop(ctx context.Context) error { m.mu.Lock(); m.stopped = true; m.mu.Unlock(); return nil }

func (m *MockCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	for _, pkt := range m.packets {
		select {
		case output <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// BlockingCapturer produces nothing until cancelled.
type BlockingCapturer struct{ MockCapturer }

func (b *BlockingCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	<-ctx.Done()
	return ctx.Err()
}

// MockReporter records everything it is given.
type MockReporter struct {
	mu       sync.Mutex
	events   []core.BuffEvent
	payloads [][]byte
	flushed  int
	stopped  bool
}

func (m *MockReporter) Name() string { return "mock" }
func (m *MockReporter) Init(config map[string]any) error { return nil }
func (m *MockReporter) Start(ctx context.Context) error { return nil }
func (m *MockReporter) Stop(ctx context.Context) error { m.mu.Lock(); m.stopped = true; m.mu.Unlock(); return nil }

func (m *MockReporter) Report(ctx context.Context, evt *core.BuffEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt)
	return nil
}

func (m *MockReporter) ReportPayload(ctx context.Context, p *core.BuffPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, append([]byte(nil), p.Data...))
	return nil
}

func (m *MockReporter) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed++
	return nil
}

func (m *MockReporter) Events() []core.BuffEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.BuffEvent(nil), m.events...)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func tcpFrame(t *testing.T, seq uint32, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{192, 168, 1, 2},
	}
	tcp := &layers.TCP{SrcPort: 5003, DstPort: 51000, Seq: seq, ACK: true, PSH: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return append([]byte(nil), buf.Bytes()...)
}

func udpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: 53, DstPort: 5353}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("x"))))
	return append([]byte(nil), buf.Bytes()...)
}

func raw(ts time.Time, data []byte) core.RawPacket {
	return core.RawPacket{
		Data:       data,
		Timestamp:  ts,
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
		LinkType:   core.LinkTypeEthernet,
	}
}

func buffFrame(uuid uint64, events ...core.BuffEvent) []byte {
	payload := wire.EncodeToMeDelta(wire.Delta{EntityUUID: uuid, BuffList: wire.EncodeBuffEvents(events)})
	return protocol.AppendFrame(nil, protocol.KindNotify, false,
		protocol.NotifyBody(7, 0, wire.MethodSyncToMeDeltaInfo, payload))
}

var applied = core.BuffEvent{
	OpType:     core.Some(core.BuffOpAddOrUpdate),
	Slot:       core.Some(73),
	OwnerSlot:  core.Some(5),
	BuffID:     core.Some(2205391),
	Stack:      core.Some(1),
	DurationMs: core.Some(30000),
}

func runToEnd(t *testing.T, p *Pipeline) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not drain")
	}
	require.NoError(t, p.Stop())
}

func TestPipelineEndToEnd(t *testing.T) {
	removal := core.BuffEvent{OpType: core.Some(core.BuffOpRemove), Slot: core.Some(9)}
	first := buffFrame(42, applied)
	second := buffFrame(42, removal)

	capturer := &MockCapturer{packets: []core.RawPacket{
		raw(t0, tcpFrame(t, 1000, first)),
		raw(t0.Add(10*time.Millisecond), udpFrame(t)),
		raw(t0.Add(20*time.Millisecond), tcpFrame(t, 1000+uint32(len(first)), second)),
	}}
	reporter := &MockReporter{}

	p, err := NewBuilder().
		WithCapturer(capturer).
		WithReporters(reporter).
		WithCooldowns(map[int32]time.Duration{2205391: 30 * time.Second}).
		Build()
	require.NoError(t, err)

	runToEnd(t, p)

	events := reporter.Events()
	require.Len(t, events, 2)
	assert.Equal(t, int32(2205391), events[0].BuffID.Value)
	assert.Equal(t, uint64(42), events[0].EntityUUID)
	assert.Equal(t, uint32(wire.MethodSyncToMeDeltaInfo), events[0].MethodID)
	assert.Equal(t, t0, events[0].Timestamp)
	assert.True(t, events[1].IsRemove())
	assert.Len(t, reporter.payloads, 2)
	assert.Equal(t, 1, reporter.flushed)
	assert.True(t, reporter.stopped)
	assert.True(t, capturer.stopped)

	active := p.Tracker().Active()
	require.Len(t, active, 1)
	assert.Equal(t, "5:73", active[0].Key)

	_, count, ok := p.Tracker().LastProc(2205391)
	assert.True(t, ok)
	assert.Equal(t, 1, count)

	st := p.Stats()
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, uint64(2), st.Segments)
	assert.Equal(t, uint64(1), st.Ignored)
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(2), st.Deltas)
	assert.Equal(t, uint64(2), st.Events)
	assert.Equal(t, uint64(2), st.Reported)
	assert.Zero(t, st.FrameErrors)
}

func TestPipelineOutOfOrderSegments(t *testing.T) {
	frame := buffFrame(1, applied)
	cut := 10
	head, tail := frame[:cut], frame[cut:]

	capturer := &MockCapturer{packets: []core.RawPacket{
		raw(t0, tcpFrame(t, 5000, head)),
		// A retransmitted head, then the tail.
		raw(t0.Add(time.Millisecond), tcpFrame(t, 5000, head)),
		raw(t0.Add(2*time.Millisecond), tcpFrame(t, 5000+uint32(cut), tail)),
	}}
	reporter := &MockReporter{}

	p, err := NewBuilder().WithCapturer(capturer).WithReporters(reporter).Build()
	require.NoError(t, err)
	runToEnd(t, p)

	events := reporter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int32(73), events[0].Slot.Value)
}

func TestPipelineDecodeErrorsAreCounted(t *testing.T) {
	capturer := &MockCapturer{packets: []core.RawPacket{
		raw(t0, []byte{0x00, 0x01}),
		raw(t0, tcpFrame(t, 1, buffFrame(1, applied))),
	}}
	reporter := &MockReporter{}

	p, err := NewBuilder().WithCapturer(capturer).WithReporters(reporter).Build()
	require.NoError(t, err)
	runToEnd(t, p)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.DecodeErrors)
	assert.Len(t, reporter.Events(), 1)
}

func TestPipelineFrameErrorsDoNotStopStream(t *testing.T) {
	// A notify frame too short for its header, followed by a good frame.
	bad := protocol.AppendFrame(nil, protocol.KindNotify, false, []byte{1, 2, 3, 4})
	good := buffFrame(1, applied)
	stream := append(append([]byte(nil), bad...), good...)

	capturer := &MockCapturer{packets: []core.RawPacket{raw(t0, tcpFrame(t, 1, stream))}}
	reporter := &MockReporter{}

	p, err := NewBuilder().WithCapturer(capturer).WithReporters(reporter).Build()
	require.NoError(t, err)
	runToEnd(t, p)

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(1), st.FrameErrors)
	assert.Len(t, reporter.Events(), 1)
}

func TestPipelineStopWhileCapturing(t *testing.T) {
	capturer := &BlockingCapturer{}
	p, err := NewBuilder().WithCapturer(capturer).Build()
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	assert.True(t, capturer.stopped)
}

func TestNewRequiresCapturer(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestBuilderUnknownReporter(t *testing.T) {
	_, err := NewReporter("no-such-reporter", nil)
	assert.ErrorIs(t, err, core.ErrPluginNotFound)
}
