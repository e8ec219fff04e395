package decoder

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/buffwatch/internal/core"
)

// maxVLANDepth bounds stacked 802.1Q/802.1ad tags.
const maxVLANDepth = 2

// linkDecoder strips link-layer framing down to the network layer.
// Layer structs are reused across calls; a linkDecoder is not safe for
// concurrent use.
type linkDecoder struct {
	eth      layers.Ethernet
	dot1q    layers.Dot1Q
	loopback layers.Loopback
	sll      layers.LinuxSLL
}

// ipv4 returns the IPv4 datagram carried by frame, or ErrUnsupportedProto if
// the frame carries something else.
func (d *linkDecoder) ipv4(linkType core.LinkType, frame []byte) ([]byte, error) {
	df := gopacket.NilDecodeFeedback

	switch linkType {
	case core.LinkTypeEthernet:
		if err := d.eth.DecodeFromBytes(frame, df); err != nil {
			return nil, fmt.Errorf("%w: ethernet: %v", core.ErrPacketTooShort, err)
		}
		etherType, payload := d.eth.EthernetType, d.eth.Payload
		for depth := 0; isVLAN(etherType); depth++ {
			if depth == maxVLANDepth {
				return nil, fmt.Errorf("%w: too many VLAN tags", core.ErrUnsupportedProto)
			}
			if err := d.dot1q.DecodeFromBytes(payload, df); err != nil {
				return nil, fmt.Errorf("%w: vlan: %v", core.ErrPacketTooShort, err)
			}
			etherType, payload = d.dot1q.Type, d.dot1q.Payload
		}
		if etherType != layers.EthernetTypeIPv4 {
			return nil, fmt.Errorf("%w: ethertype %s", core.ErrUnsupportedProto, etherType)
		}
		return payload, nil

	case core.LinkTypeNull:
		if err := d.loopback.DecodeFromBytes(frame, df); err != nil {
			return nil, fmt.Errorf("%w: loopback: %v", core.ErrPacketTooShort, err)
		}
		if d.loopback.Family != layers.ProtocolFamilyIPv4 {
			return nil, fmt.Errorf("%w: address family %d", core.ErrUnsupportedProto, d.loopback.Family)
		}
		return d.loopback.Payload, nil

	case core.LinkTypeLinuxSLL:
		if err := d.sll.DecodeFromBytes(frame, df); err != nil {
			return nil, fmt.Errorf("%w: linux sll: %v", core.ErrPacketTooShort, err)
		}
		if d.sll.EthernetType != layers.EthernetTypeIPv4 {
			return nil, fmt.Errorf("%w: ethertype %s", core.ErrUnsupportedProto, d.sll.EthernetType)
		}
		return d.sll.Payload, nil

	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedLink, linkType)
	}
}

func isVLAN(t layers.EthernetType) bool {
	return t == layers.EthernetTypeDot1Q || t == layers.EthernetTypeQinQ
}
