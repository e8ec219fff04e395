// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"time"
)

// LinkType identifies the link-layer framing of captured frames.
// Values follow the libpcap DLT_* numbering.
type LinkType uint16

const (
	LinkTypeNull     LinkType = 0   // BSD loopback, 4-byte host-order address family
	LinkTypeEthernet LinkType = 1   // Ethernet II, optional 802.1Q tags
	LinkTypeLinuxSLL LinkType = 113 // Linux cooked capture v1
)

// String returns the libpcap-style name of the link type.
func (l LinkType) String() string {
	switch l {
	case LinkTypeNull:
		return "NULL"
	case LinkTypeEthernet:
		return "ETHERNET"
	case LinkTypeLinuxSLL:
		return "LINUX_SLL"
	default:
		return fmt.Sprintf("LINKTYPE_%d", uint16(l))
	}
}

// RawPacket is a link-layer frame as delivered by a capture source.
type RawPacket struct {
	Data           []byte    // Raw frame data, owned by the receiver
	Timestamp      time.Time // Capture timestamp
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
	LinkType       LinkType  // Framing of Data
}

// FlowKey identifies one direction of a TCP connection.
type FlowKey struct {
	Src netip.AddrPort
	Dst netip.AddrPort
}

// String renders the flow as "src->dst".
func (k FlowKey) String() string {
	return k.Src.String() + "->" + k.Dst.String()
}

// Reverse returns the opposite direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{Src: k.Dst, Dst: k.Src}
}

// Segment is a TCP payload recovered from one (possibly reassembled) IPv4 datagram.
type Segment struct {
	Timestamp   time.Time
	Flow        FlowKey
	Seq         uint32
	Payload     []byte
	Reassembled bool // Whether the datagram went through IP fragment reassembly
}
