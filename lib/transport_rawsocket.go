package lib

import (
	"fmt"
	"log"
	"net"

	rs "github.com/Clouded-Sabre/rawsocket/lib"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// RawSocketTransport carries frames over a raw "ip4:tcp" socket opened from
// the process wide raw socket core. The socket reads and writes TCP segments
// only: Receive rebuilds an IPv4 header in front of each segment and Send
// strips it again, leaving the outer header to the socket.
type RawSocketTransport struct {
	conn    rs.RawConnection
	localIP net.IP
	codec   Codec
}

// NewRawSocketTransport listens for TCP on localIP.
func NewRawSocketTransport(core rs.RSCore, localIP string) (*RawSocketTransport, error) {
	ip := net.ParseIP(localIP).To4()
	if ip == nil {
		return nil, fmt.Errorf("raw socket transport needs a local IPv4 address, got %q", localIP)
	}
	conn, err := core.ListenIP("ip4:tcp", &net.IPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("raw socket listen on %s: %w", ip, err)
	}
	log.Printf("Raw socket listening for TCP on %s", ip)
	return &RawSocketTransport{conn: conn, localIP: ip, codec: NewPacketCodec()}, nil
}

func (r *RawSocketTransport) Receive(buf []byte) (int, error) {
	if len(buf) <= IpHeaderLength {
		return 0, fmt.Errorf("receive buffer of %d bytes cannot hold a frame", len(buf))
	}
	n, addr, err := r.conn.ReadFrom(buf[IpHeaderLength:])
	if err != nil {
		return 0, err
	}
	src, ok := addr.(*net.IPAddr)
	if !ok || src.IP.To4() == nil {
		return 0, fmt.Errorf("raw socket returned non IPv4 source %v", addr)
	}

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      DefaultTTL,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src.IP.To4(),
		DstIP:    r.localIP,
	}
	sb := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(sb, opts, ip, gopacket.Payload(buf[IpHeaderLength:IpHeaderLength+n])); err != nil {
		return 0, fmt.Errorf("rebuild ip header: %w", err)
	}
	return copy(buf, sb.Bytes()), nil
}

func (r *RawSocketTransport) Send(frame []byte) error {
	ip, ipHeaderLen, err := r.codec.ParseIPv4(frame)
	if err != nil {
		return err
	}
	end := len(frame)
	if int(ip.Length) >= ipHeaderLen && int(ip.Length) < end {
		end = int(ip.Length)
	}
	_, err = r.conn.WriteTo(frame[ipHeaderLen:end], &net.IPAddr{IP: ip.DstIP})
	return err
}

func (r *RawSocketTransport) Close() error {
	return r.conn.Close()
}
