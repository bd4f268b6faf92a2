package lib

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Segment is one IPv4/TCP packet before serialization.
type Segment struct {
	IP      *layers.IPv4
	TCP     *layers.TCP
	Payload []byte
}

// NewSegment builds a segment travelling along key, source to destination.
// Checksums are left to Finalize.
func NewSegment(key FlowKey, seq, ack uint32, flags uint8, window uint16, ttl uint8, payload []byte) *Segment {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolTCP,
		Length:   uint16(IpHeaderLength + TcpHeaderLength + len(payload)),
		SrcIP:    net.IP(append([]byte(nil), key.SrcIP[:]...)),
		DstIP:    net.IP(append([]byte(nil), key.DstIP[:]...)),
	}
	tcp := &layers.TCP{
		SrcPort:    layers.TCPPort(key.SrcPort),
		DstPort:    layers.TCPPort(key.DstPort),
		Seq:        seq,
		Ack:        ack,
		DataOffset: TcpHeaderLength / 4,
		Window:     window,
	}
	setTcpFlags(tcp, flags)
	return &Segment{IP: ip, TCP: tcp, Payload: payload}
}

// Flags returns the control bits of the segment in header layout.
func (s *Segment) Flags() uint8 {
	return tcpFlags(s.TCP)
}

// Finalize computes both checksums and returns the wire bytes. Every header
// field must be set before calling it; nothing may change afterwards without
// another call.
func (s *Segment) Finalize(codec Codec) ([]byte, error) {
	// IPv4 header checksum over the header alone, checksum field zeroed
	s.IP.Checksum = 0
	ipHeader, err := codec.Serialize(s.IP)
	if err != nil {
		return nil, fmt.Errorf("serialize ip header: %w", err)
	}
	s.IP.Checksum = codec.Checksum(nil, ipHeader)

	// TCP checksum over pseudo header, TCP header and payload
	s.TCP.Checksum = 0
	tcpSegment, err := codec.Serialize(s.TCP, gopacket.Payload(s.Payload))
	if err != nil {
		return nil, fmt.Errorf("serialize tcp segment: %w", err)
	}
	pseudoHeader := make([]byte, TcpPseudoHeaderLength)
	if err := assemblePseudoHeader(pseudoHeader, s.IP.SrcIP, s.IP.DstIP, TcpProtocolID, uint16(len(tcpSegment))); err != nil {
		return nil, err
	}
	s.TCP.Checksum = codec.Checksum(pseudoHeader, tcpSegment)

	frame, err := codec.Serialize(s.IP, s.TCP, gopacket.Payload(s.Payload))
	if err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return frame, nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.URG {
		flags |= URGFlag
	}
	if tcp.ACK {
		flags |= ACKFlag
	}
	if tcp.PSH {
		flags |= PSHFlag
	}
	if tcp.RST {
		flags |= RSTFlag
	}
	if tcp.SYN {
		flags |= SYNFlag
	}
	if tcp.FIN {
		flags |= FINFlag
	}
	return flags
}

func setTcpFlags(tcp *layers.TCP, flags uint8) {
	tcp.URG = flags&URGFlag != 0
	tcp.ACK = flags&ACKFlag != 0
	tcp.PSH = flags&PSHFlag != 0
	tcp.RST = flags&RSTFlag != 0
	tcp.SYN = flags&SYNFlag != 0
	tcp.FIN = flags&FINFlag != 0
}

// CalculateChecksum is the Internet checksum of RFC 1071.
func CalculateChecksum(buffer []byte) uint16 {
	var cksum uint32 = 0

	// Process 16-bit words (2 bytes each)
	for i := 0; i < len(buffer)-1; i += 2 {
		word := binary.BigEndian.Uint16(buffer[i : i+2])
		cksum += uint32(word)
	}

	// Handle remaining odd byte, if any
	if len(buffer)%2 != 0 {
		cksum += uint32(buffer[len(buffer)-1]) << 8 // Shift last byte to 16 bits
	}

	// Fold 32-bit sum to 16 bits
	cksum = (cksum >> 16) + (cksum & 0xffff)
	cksum += (cksum >> 16)

	// Return one's complement of the final sum
	return ^uint16(cksum)
}

// assemblePseudoHeader fills the 12 byte pseudo header used by the TCP checksum.
func assemblePseudoHeader(buffer []byte, srcIP, dstIP net.IP, protocolId uint8, tcpLength uint16) error {
	if len(buffer) != TcpPseudoHeaderLength {
		return fmt.Errorf("tcp pseudo header Buffer length(%d) is not TcpPseudoHeaderLength", len(buffer))
	}
	src, dst := srcIP.To4(), dstIP.To4()
	if src == nil || dst == nil {
		return fmt.Errorf("tcp pseudo header needs IPv4 addresses, got %v and %v", srcIP, dstIP)
	}
	copy(buffer[0:4], src)
	copy(buffer[4:8], dst)
	// leave byte 8 (Fixed 8 bits) as all zero
	buffer[8] = 0
	buffer[9] = protocolId
	binary.BigEndian.PutUint16(buffer[10:12], tcpLength)
	return nil
}

// VerifyChecksum checks the TCP checksum of an inbound segment.
func VerifyChecksum(codec Codec, ip *layers.IPv4, tcpSegment []byte) bool {
	if len(tcpSegment) < TcpHeaderLength {
		return false
	}
	pseudoHeader := make([]byte, TcpPseudoHeaderLength)
	if err := assemblePseudoHeader(pseudoHeader, ip.SrcIP, ip.DstIP, TcpProtocolID, uint16(len(tcpSegment))); err != nil {
		return false
	}
	// a correct checksum makes the complemented sum over everything zero
	return codec.Checksum(pseudoHeader, tcpSegment) == 0
}
