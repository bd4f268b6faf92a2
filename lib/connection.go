package lib

import (
	"fmt"
	"net"

	"github.com/google/gopacket/layers"
)

type ConnectionConfig struct {
	WindowSize uint16 // receive window advertised to the peer
	TTL        uint8  // time-to-live of outbound IPv4 headers
	RandomISS  bool   // draw ISS from crypto/rand; false uses ISS below
	ISS        uint32 // fixed initial send sequence number, for deterministic runs only
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		WindowSize: DefaultReceiveWindow,
		TTL:        DefaultTTL,
		RandomISS:  true,
		ISS:        0,
	}
}

func (c *ConnectionConfig) initialSequence() (uint32, error) {
	if c.RandomISS {
		return GenerateISN()
	}
	return c.ISS, nil
}

// Connection is the TCP state of one flow.
type Connection struct {
	Key   FlowKey
	State State
	Send  SendSequenceSpace
	Recv  ReceiveSequenceSpace

	ip                    layers.IPv4 // outbound header template: addresses of the reverse direction
	localPort, remotePort layers.TCPPort
	config                *ConnectionConfig
}

// Accept opens a connection for an inbound segment on a flow that is not in
// the table yet. Only a SYN can open one. The returned SYN+ACK must be sent
// before the connection is stored.
func Accept(config *ConnectionConfig, ip *layers.IPv4, tcp *layers.TCP) (*Connection, *Segment, error) {
	if !tcp.SYN || tcp.RST {
		return nil, nil, ErrExpectedSyn
	}

	iss, err := config.initialSequence()
	if err != nil {
		return nil, nil, fmt.Errorf("choose initial sequence number: %w", err)
	}

	c := &Connection{
		Key:   NewFlowKey(ip, tcp),
		State: StateSynReceived,
		Send: SendSequenceSpace{
			ISS: iss,
			UNA: iss,
			NXT: SeqIncrement(iss),
			WND: tcp.Window,
			UP:  false,
			WL1: tcp.Seq,
			WL2: 0,
		},
		Recv: ReceiveSequenceSpace{
			IRS: tcp.Seq,
			NXT: SeqIncrement(tcp.Seq),
			WND: config.WindowSize,
			UP:  false,
		},
		ip: layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      config.TTL,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    append(net.IP(nil), ip.DstIP.To4()...),
			DstIP:    append(net.IP(nil), ip.SrcIP.To4()...),
		},
		localPort:  tcp.DstPort,
		remotePort: tcp.SrcPort,
		config:     config,
	}

	return c, c.buildSegment(SYNFlag|ACKFlag, c.Send.ISS, nil), nil
}

// OnPacket advances the connection by one inbound segment. It returns the
// segment to send in reply, if any. On error the connection is unchanged,
// except that a handshake ACK carrying data still establishes it.
func (c *Connection) OnPacket(ip *layers.IPv4, tcp *layers.TCP, payload []byte) (*Segment, error) {
	if tcp.RST {
		return c.onReset(tcp)
	}
	switch c.State {
	case StateSynReceived:
		return c.onSynReceived(tcp, payload)
	case StateEstablished:
		return c.onEstablished(tcp, payload)
	case StateClosed:
		return nil, ErrConnectionClosed
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, c.State)
	}
}

func (c *Connection) onReset(tcp *layers.TCP) (*Segment, error) {
	if c.State == StateClosed {
		return nil, ErrConnectionClosed
	}
	if !segmentAcceptable(c.Recv.NXT, c.Recv.WND, tcp.Seq, 0) {
		return nil, fmt.Errorf("%w: reset seq %d outside window at %d", ErrUnacceptableSegment, tcp.Seq, c.Recv.NXT)
	}
	c.State = StateClosed
	return nil, nil
}

// onSynReceived completes the handshake on an acceptable ACK. Payload or FIN
// riding on that ACK is reported after the transition; the bytes are not
// consumed and RCV.NXT stays put.
func (c *Connection) onSynReceived(tcp *layers.TCP, payload []byte) (*Segment, error) {
	if tcp.SYN && !tcp.ACK && tcp.Seq == c.Recv.IRS {
		// our SYN+ACK got lost and the peer retransmitted its SYN
		return c.buildSegment(SYNFlag|ACKFlag, c.Send.ISS, nil), nil
	}
	if !tcp.ACK {
		return nil, ErrExpectedAck
	}
	if !AckAcceptable(c.Send.UNA, tcp.Ack, c.Send.NXT) {
		return nil, fmt.Errorf("%w: ack %d not in (%d, %d]", ErrUnacceptableAck, tcp.Ack, c.Send.UNA, c.Send.NXT)
	}

	c.Send.UNA = tcp.Ack
	c.Send.WND = tcp.Window
	c.Send.WL1 = tcp.Seq
	c.Send.WL2 = tcp.Ack
	c.State = StateEstablished

	if len(payload) > 0 || tcp.FIN {
		return nil, fmt.Errorf("%w: %d bytes, fin=%t on the handshake ack", ErrNotImplemented, len(payload), tcp.FIN)
	}
	return nil, nil
}

// onEstablished keeps the send space current. The data path is not built:
// segments carrying payload or FIN are reported and dropped.
func (c *Connection) onEstablished(tcp *layers.TCP, payload []byte) (*Segment, error) {
	segLen := uint32(len(payload))
	if tcp.SYN {
		segLen++
	}
	if tcp.FIN {
		segLen++
	}
	if !segmentAcceptable(c.Recv.NXT, c.Recv.WND, tcp.Seq, segLen) {
		return nil, fmt.Errorf("%w: seq %d len %d outside window at %d", ErrUnacceptableSegment, tcp.Seq, segLen, c.Recv.NXT)
	}
	if !tcp.ACK {
		return nil, ErrExpectedAck
	}
	// a zero-advance ack is a duplicate and harmless once synchronized
	if tcp.Ack != c.Send.UNA && !AckAcceptable(c.Send.UNA, tcp.Ack, c.Send.NXT) {
		return nil, fmt.Errorf("%w: ack %d not in (%d, %d]", ErrUnacceptableAck, tcp.Ack, c.Send.UNA, c.Send.NXT)
	}
	if len(payload) > 0 || tcp.FIN || tcp.SYN {
		return nil, fmt.Errorf("%w: %d bytes, fin=%t syn=%t in %s", ErrNotImplemented, len(payload), tcp.FIN, tcp.SYN, c.State)
	}

	c.Send.UNA = tcp.Ack
	c.Send.updateWindow(tcp.Seq, tcp.Ack, tcp.Window)
	return nil, nil
}

// buildSegment fills every header field of an outbound segment except the
// checksums, which Segment.Finalize computes.
func (c *Connection) buildSegment(flags uint8, seq uint32, payload []byte) *Segment {
	ip := c.ip
	ip.Length = uint16(IpHeaderLength + TcpHeaderLength + len(payload))

	tcp := &layers.TCP{
		SrcPort:    c.localPort,
		DstPort:    c.remotePort,
		Seq:        seq,
		DataOffset: TcpHeaderLength / 4,
		Window:     c.Recv.WND,
	}
	setTcpFlags(tcp, flags)
	if tcp.ACK {
		tcp.Ack = c.Recv.NXT
	}
	return &Segment{IP: &ip, TCP: tcp, Payload: payload}
}
