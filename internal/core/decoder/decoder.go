package decoder

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/buffwatch/internal/core"
)

// Decoder turns captured link-layer frames into TCP segments, reassembling
// fragmented IPv4 datagrams on the way. It is used by a single goroutine;
// only the embedded Reassembler may be swept concurrently.
type Decoder struct {
	link        linkDecoder
	ip          layers.IPv4
	tcp         layers.TCP
	reassembler *Reassembler
}

// NewDecoder creates a decoder with its own fragment reassembler.
func NewDecoder(cfg ReassemblyConfig) *Decoder {
	return &Decoder{reassembler: NewReassembler(cfg)}
}

// Reassembler returns the fragment reassembler, for sweeping.
func (d *Decoder) Reassembler() *Reassembler {
	return d.reassembler
}

// Decode decodes one frame. ok is false when the frame carried no TCP
// payload yet: a non-final fragment, or a segment without data. Frames that
// are not IPv4/TCP, or are malformed, return an error wrapping a core sentinel.
// The segment payload may alias raw.Data.
func (d *Decoder) Decode(raw core.RawPacket) (seg core.Segment, ok bool, err error) {
	ipData, err := d.link.ipv4(raw.LinkType, raw.Data)
	if err != nil {
		return seg, false, err
	}

	if err := d.ip.DecodeFromBytes(ipData, gopacket.NilDecodeFeedback); err != nil {
		return seg, false, fmt.Errorf("%w: ipv4: %v", core.ErrPacketTooShort, err)
	}
	if d.ip.Version != 4 {
		return seg, false, fmt.Errorf("%w: ip version %d", core.ErrUnsupportedProto, d.ip.Version)
	}
	if d.ip.Protocol != layers.IPProtocolTCP {
		return seg, false, fmt.Errorf("%w: ip protocol %s", core.ErrUnsupportedProto, d.ip.Protocol)
	}

	// Addresses alias ipData, which the reassembler does not retain.
	src, _ := netip.AddrFromSlice(d.ip.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(d.ip.DstIP.To4())
	fragmented := d.ip.Flags&layers.IPv4MoreFragments != 0 || d.ip.FragOffset != 0

	transport, complete, err := d.reassembler.Process(&d.ip, raw.Timestamp)
	if err != nil || !complete {
		return seg, false, err
	}

	if err := d.tcp.DecodeFromBytes(transport, gopacket.NilDecodeFeedback); err != nil {
		return seg, false, fmt.Errorf("%w: tcp: %v", core.ErrPacketTooShort, err)
	}
	if len(d.tcp.Payload) == 0 {
		return seg, false, nil
	}

	seg = core.Segment{
		Timestamp: raw.Timestamp,
		Flow: core.FlowKey{
			Src: netip.AddrPortFrom(src, uint16(d.tcp.SrcPort)),
			Dst: netip.AddrPortFrom(dst, uint16(d.tcp.DstPort)),
		},
		Seq:         d.tcp.Seq,
		Payload:     d.tcp.Payload,
		Reassembled: fragmented,
	}
	return seg, true, nil
}
