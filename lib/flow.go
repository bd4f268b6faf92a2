package lib

import (
	"fmt"
	"net"

	"github.com/google/gopacket/layers"
)

// FlowKey identifies one direction of a TCP flow as seen by the endpoint.
// It is comparable and used as-is as the connection table key.
type FlowKey struct {
	SrcIP   [4]byte
	SrcPort uint16
	DstIP   [4]byte
	DstPort uint16
}

// NewFlowKey builds the key of an inbound segment.
func NewFlowKey(ip *layers.IPv4, tcp *layers.TCP) FlowKey {
	var k FlowKey
	copy(k.SrcIP[:], ip.SrcIP.To4())
	copy(k.DstIP[:], ip.DstIP.To4())
	k.SrcPort = uint16(tcp.SrcPort)
	k.DstPort = uint16(tcp.DstPort)
	return k
}

// Reverse returns the key of the opposite direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{SrcIP: k.DstIP, SrcPort: k.DstPort, DstIP: k.SrcIP, DstPort: k.SrcPort}
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", net.IP(k.SrcIP[:]), k.SrcPort, net.IP(k.DstIP[:]), k.DstPort)
}
