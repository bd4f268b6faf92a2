package lib

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func newTestEndpoint(t *testing.T, config *EndpointConfig, codec Codec) (*Endpoint, *MemTransport) {
	t.Helper()
	transport := NewMemTransport(16)
	if config == nil {
		config = DefaultEndpointConfig()
	}
	if codec == nil {
		codec = NewPacketCodec()
	}
	e, err := NewEndpoint(config, fixedISS(0), transport, codec, nil, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	return e, transport
}

func peerFrame(t *testing.T, seq, ack uint32, flags uint8, window uint16) []byte {
	t.Helper()
	frame, err := NewSegment(peerKey, seq, ack, flags, window, 64, nil).Finalize(NewPacketCodec())
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func decodeSent(t *testing.T, frame []byte) (*layers.IPv4, *layers.TCP) {
	t.Helper()
	packet := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)
	ip, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	tcp, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if ip == nil || tcp == nil {
		t.Fatalf("sent frame does not decode: % x", frame)
	}
	return ip, tcp
}

func TestEndToEndHandshake(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)

	if err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840)); err != nil {
		t.Fatalf("SYN: %v", err)
	}
	sent := transport.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one frame sent, but got %d", len(sent))
	}
	ip, tcp := decodeSent(t, sent[0])
	if ip.SrcIP.String() != "5.6.7.8" || ip.DstIP.String() != "1.2.3.4" || tcp.SrcPort != 80 || tcp.DstPort != 1234 {
		t.Errorf("expected 5.6.7.8:80 -> 1.2.3.4:1234, but got %s:%d -> %s:%d", ip.SrcIP, tcp.SrcPort, ip.DstIP, tcp.DstPort)
	}
	if !tcp.SYN || !tcp.ACK || tcp.RST || tcp.FIN {
		t.Errorf("expected SYN|ACK, but got %#02x", tcpFlags(tcp))
	}
	if tcp.Seq != 0 || tcp.Ack != 1001 {
		t.Errorf("expected seq 0 ack 1001, but got %d and %d", tcp.Seq, tcp.Ack)
	}
	if ip.Checksum != CalculateChecksum(append(append([]byte(nil), sent[0][:10]...), sent[0][12:20]...)) {
		t.Errorf("IPv4 checksum %#04x is wrong", ip.Checksum)
	}
	if !VerifyChecksum(NewPacketCodec(), ip, sent[0][IpHeaderLength:]) {
		t.Errorf("TCP checksum %#04x is wrong", tcp.Checksum)
	}

	conn, ok := e.Lookup(peerKey)
	if !ok || conn.State != StateSynReceived {
		t.Fatalf("expected a %s connection for %s", StateSynReceived, peerKey)
	}

	if err := e.HandleFrame(peerFrame(t, 1001, 1, ACKFlag, 5840)); err != nil {
		t.Fatalf("ACK: %v", err)
	}
	if conn.State != StateEstablished {
		t.Errorf("expected %s, but got %s", StateEstablished, conn.State)
	}
	if len(transport.Sent()) != 1 {
		t.Errorf("expected nothing sent for the ACK, but got %d frames", len(transport.Sent())-1)
	}
	if e.Len() != 1 {
		t.Errorf("expected one connection, but got %d", e.Len())
	}
}

func TestHandleFrameNonSyn(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)
	err := e.HandleFrame(peerFrame(t, 1000, 5, ACKFlag, 5840))
	if !errors.Is(err, ErrExpectedSyn) {
		t.Errorf("expected ErrExpectedSyn, but got %v", err)
	}
	if e.Len() != 0 || len(transport.Sent()) != 0 {
		t.Errorf("expected no connection and nothing sent, but got %d and %d", e.Len(), len(transport.Sent()))
	}
}

func TestHandleFrameUnacceptableAck(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)
	if err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840)); err != nil {
		t.Fatal(err)
	}
	err := e.HandleFrame(peerFrame(t, 1001, 7, ACKFlag, 5840))
	if !errors.Is(err, ErrUnacceptableAck) {
		t.Errorf("expected ErrUnacceptableAck, but got %v", err)
	}
	conn, ok := e.Lookup(peerKey)
	if !ok || conn.State != StateSynReceived {
		t.Errorf("expected the connection to stay in %s", StateSynReceived)
	}
	if len(transport.Sent()) != 1 {
		t.Errorf("expected only the SYN+ACK sent, but got %d frames", len(transport.Sent()))
	}
}

func TestHandleFrameDropped(t *testing.T) {
	codec := NewPacketCodec()
	udp, err := codec.Serialize(&layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, Length: 28,
		SrcIP: []byte{1, 2, 3, 4}, DstIP: []byte{5, 6, 7, 8},
	}, gopacket.Payload(make([]byte, 8)))
	if err != nil {
		t.Fatal(err)
	}
	corrupt := peerFrame(t, 1000, 0, SYNFlag, 5840)
	corrupt[len(corrupt)-1] ^= 0x01

	testCases := []struct {
		name  string
		frame []byte
		err   error
	}{
		{name: "udp", frame: udp, err: nil},
		{name: "garbage", frame: []byte{0xde, 0xad, 0xbe, 0xef}, err: ErrMalformedFrame},
		{name: "short tcp", frame: peerFrame(t, 1000, 0, SYNFlag, 5840)[:30], err: ErrMalformedFrame},
		{name: "bad checksum", frame: corrupt, err: ErrBadChecksum},
	}

	for _, tc := range testCases {
		e, transport := newTestEndpoint(t, nil, nil)
		err := e.HandleFrame(tc.frame)
		if !errors.Is(err, tc.err) {
			t.Errorf("For %s, expected %v, but got %v", tc.name, tc.err, err)
		}
		if e.Len() != 0 || len(transport.Sent()) != 0 {
			t.Errorf("For %s, expected the frame dropped", tc.name)
		}
	}
}

func TestHandleFrameChecksumNotVerified(t *testing.T) {
	config := DefaultEndpointConfig()
	config.VerifyChecksum = false
	e, _ := newTestEndpoint(t, config, nil)
	corrupt := peerFrame(t, 1000, 0, SYNFlag, 5840)
	corrupt[36] ^= 0xff
	if err := e.HandleFrame(corrupt); err != nil {
		t.Errorf("expected the SYN accepted, but got %v", err)
	}
}

func TestHandleFramePortNotListening(t *testing.T) {
	config := DefaultEndpointConfig()
	config.ListenPorts = []int{443}
	e, transport := newTestEndpoint(t, config, nil)
	if err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840)); !errors.Is(err, ErrPortNotListening) {
		t.Errorf("expected ErrPortNotListening, but got %v", err)
	}
	if e.Len() != 0 || len(transport.Sent()) != 0 {
		t.Errorf("expected the SYN dropped")
	}
}

func TestHandleFrameSendFailure(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)
	transport.FailSends(net.ErrClosed)

	err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840))
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "send" {
		t.Fatalf("expected a send TransportError, but got %v", err)
	}
	if IsFatal(err) {
		t.Errorf("a failed send must not be fatal")
	}
	if e.Len() != 0 {
		t.Errorf("expected no connection stored, but got %d", e.Len())
	}

	// the peer retransmits once the network is back
	transport.FailSends(nil)
	if err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840)); err != nil {
		t.Fatal(err)
	}
	if e.Len() != 1 || len(transport.Sent()) != 1 {
		t.Errorf("expected one connection and one frame, but got %d and %d", e.Len(), len(transport.Sent()))
	}
}

func TestHandleFrameSerializeFailure(t *testing.T) {
	codec := &recordingCodec{PacketCodec: NewPacketCodec(), fail: 1}
	e, transport := newTestEndpoint(t, nil, codec)
	if err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840)); err == nil {
		t.Errorf("expected an error, but got none")
	}
	if e.Len() != 0 || len(transport.Sent()) != 0 {
		t.Errorf("expected nothing stored or sent")
	}
}

func TestHandleFrameReset(t *testing.T) {
	e, _ := newTestEndpoint(t, nil, nil)
	for _, frame := range [][]byte{
		peerFrame(t, 1000, 0, SYNFlag, 5840),
		peerFrame(t, 1001, 1, ACKFlag, 5840),
		peerFrame(t, 1001, 0, RSTFlag, 0),
	} {
		if err := e.HandleFrame(frame); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := e.Lookup(peerKey); ok {
		t.Errorf("expected the reset connection removed")
	}
}

func TestRunReceiveError(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)
	transport.Inject([]byte{0xde, 0xad}) // malformed, logged only
	transport.Inject(peerFrame(t, 1000, 0, SYNFlag, 5840))
	transport.Inject(peerFrame(t, 1001, 1, ACKFlag, 5840))
	transport.Close()

	err := e.Run(context.Background())
	if !IsFatal(err) || !errors.Is(err, net.ErrClosed) {
		t.Errorf("expected a fatal receive error, but got %v", err)
	}
	conn, ok := e.Lookup(peerKey)
	if !ok || conn.State != StateEstablished {
		t.Errorf("expected every queued frame processed before the error")
	}
}

func TestRunPoolDebug(t *testing.T) {
	config := DefaultEndpointConfig()
	config.PoolDebug = true
	config.FramePoolSize = 2
	e, transport := newTestEndpoint(t, config, nil)
	defer func() { rp.Debug = false }()

	transport.Inject(peerFrame(t, 1000, 0, SYNFlag, 5840))
	transport.Inject([]byte{0x45})
	transport.Inject(peerFrame(t, 1001, 1, ACKFlag, 5840))
	transport.Close()

	if err := e.Run(context.Background()); !IsFatal(err) {
		t.Errorf("expected a fatal receive error, but got %v", err)
	}
	conn, ok := e.Lookup(peerKey)
	if !ok || conn.State != StateEstablished {
		t.Errorf("expected the handshake completed with pool debugging on")
	}
	if len(transport.Sent()) != 1 {
		t.Errorf("expected one frame sent, but got %d", len(transport.Sent()))
	}
}

func TestHandleFrameHandshakeAckWithData(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)
	if err := e.HandleFrame(peerFrame(t, 1000, 0, SYNFlag, 5840)); err != nil {
		t.Fatal(err)
	}
	frame, err := NewSegment(peerKey, 1001, 1, ACKFlag|PSHFlag, 5840, 64, []byte("hello")).Finalize(NewPacketCodec())
	if err != nil {
		t.Fatal(err)
	}

	if err := e.HandleFrame(frame); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, but got %v", err)
	}
	conn, ok := e.Lookup(peerKey)
	if !ok || conn.State != StateEstablished {
		t.Errorf("expected the connection established")
	}
	if len(transport.Sent()) != 1 {
		t.Errorf("expected only the SYN+ACK sent, but got %d frames", len(transport.Sent()))
	}
}

func TestRunClose(t *testing.T) {
	e, transport := newTestEndpoint(t, nil, nil)
	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background())
	}()

	transport.Inject(peerFrame(t, 1000, 0, SYNFlag, 5840))
	deadline := time.Now().Add(2 * time.Second)
	for len(transport.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after Close, but got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if len(transport.Sent()) != 1 {
		t.Errorf("expected the SYN+ACK sent, but got %d frames", len(transport.Sent()))
	}
}

func TestRunContextDone(t *testing.T) {
	e, _ := newTestEndpoint(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, but got %v", err)
	}
}

func TestNewEndpointErrors(t *testing.T) {
	transport := NewMemTransport(1)
	codec := NewPacketCodec()

	if _, err := NewEndpoint(nil, nil, nil, codec, nil, nil); err == nil {
		t.Errorf("For a nil transport, expected an error, but got none")
	}
	if _, err := NewEndpoint(nil, nil, transport, nil, nil, nil); err == nil {
		t.Errorf("For a nil codec, expected an error, but got none")
	}
	config := DefaultEndpointConfig()
	config.MTU = 30
	if _, err := NewEndpoint(config, nil, transport, codec, nil, nil); err == nil {
		t.Errorf("For MTU 30, expected an error, but got none")
	}
	config = DefaultEndpointConfig()
	config.ListenPorts = []int{70000}
	if _, err := NewEndpoint(config, nil, transport, codec, nil, nil); err == nil {
		t.Errorf("For port 70000, expected an error, but got none")
	}
}
