package lib

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Codec turns raw bytes into typed IPv4/TCP header views and back.
type Codec interface {
	// ParseIPv4 decodes the IPv4 header at the start of data and returns it
	// together with the number of header bytes consumed.
	ParseIPv4(data []byte) (*layers.IPv4, int, error)
	// ParseTCP decodes the TCP header at the start of data.
	ParseTCP(data []byte) (*layers.TCP, int, error)
	// Serialize writes the layers back to bytes exactly as their fields say.
	// Lengths and checksums are not recomputed.
	Serialize(ls ...gopacket.SerializableLayer) ([]byte, error)
	// Checksum returns the Internet checksum of pseudoHeader followed by data.
	Checksum(pseudoHeader, data []byte) uint16
}

// PacketCodec is the gopacket backed Codec.
type PacketCodec struct{}

func NewPacketCodec() *PacketCodec {
	return &PacketCodec{}
}

func (c *PacketCodec) ParseIPv4(data []byte) (*layers.IPv4, int, error) {
	if len(data) == 0 || data[0]>>4 != 4 {
		return nil, 0, fmt.Errorf("%w: not an IPv4 packet", ErrMalformedFrame)
	}
	ip := &layers.IPv4{}
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	// addresses alias the frame buffer, which goes back to the pool
	ip.SrcIP = append(net.IP(nil), ip.SrcIP...)
	ip.DstIP = append(net.IP(nil), ip.DstIP...)
	return ip, int(ip.IHL) * 4, nil
}

func (c *PacketCodec) ParseTCP(data []byte) (*layers.TCP, int, error) {
	tcp := &layers.TCP{}
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return tcp, int(tcp.DataOffset) * 4, nil
}

func (c *PacketCodec) Serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, ls...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *PacketCodec) Checksum(pseudoHeader, data []byte) uint16 {
	if len(pseudoHeader) == 0 {
		return CalculateChecksum(data)
	}
	buffer := make([]byte, 0, len(pseudoHeader)+len(data))
	buffer = append(buffer, pseudoHeader...)
	buffer = append(buffer, data...)
	return CalculateChecksum(buffer)
}
