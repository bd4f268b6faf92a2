package lib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Clouded-Sabre/Tun-TCP/filter"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/gopacket/layers"
)

type EndpointConfig struct {
	LocalIP              string // address the endpoint answers for; used for RST filtering rules
	ListenPorts          []int  // ports accepting SYNs; empty accepts every port
	MTU                  int    // size of each receive frame buffer
	FramePoolSize        int    // how many frame buffers in the ring pool
	VerifyChecksum       bool   // drop inbound segments whose TCP checksum is wrong
	FilterRst            bool   // install RST filtering rules for ListenPorts on LocalIP
	Debug                bool   // per frame logging
	PoolDebug            bool   // Ring Pool debug setting
	ProcessTimeThreshold int    // frame processing time threshold in ms, reported by the pool in debug mode
}

func DefaultEndpointConfig() *EndpointConfig {
	return &EndpointConfig{
		LocalIP:              "",
		ListenPorts:          nil,
		MTU:                  DefaultMTU,
		FramePoolSize:        8,
		VerifyChecksum:       true,
		FilterRst:            false,
		Debug:                false,
		PoolDebug:            false,
		ProcessTimeThreshold: 10,
	}
}

// Endpoint owns the connection table and runs the control loop: one frame is
// received, decoded, dispatched to its connection and answered before the
// next one is read. The table is only touched from that loop, so Endpoint
// methods other than Close must not be called concurrently with Run.
type Endpoint struct {
	config      *EndpointConfig
	connConfig  *ConnectionConfig
	transport   Transport
	codec       Codec
	filter      filter.Filter
	rscore      *rs.RSCore // one per process on platforms using raw sockets; may be nil
	pool        *rp.RingPool
	connections map[FlowKey]*Connection
	listening   map[uint16]bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewEndpoint wires the endpoint. f and rscore are optional.
func NewEndpoint(config *EndpointConfig, connConfig *ConnectionConfig, transport Transport, codec Codec, f filter.Filter, rscore *rs.RSCore) (*Endpoint, error) {
	if transport == nil || codec == nil {
		return nil, errors.New("endpoint needs a transport and a codec")
	}
	if config == nil {
		config = DefaultEndpointConfig()
	}
	if connConfig == nil {
		connConfig = DefaultConnectionConfig()
	}
	if config.MTU < IpHeaderLength+TcpHeaderLength {
		return nil, fmt.Errorf("MTU %d too small for an IPv4/TCP header", config.MTU)
	}

	e := &Endpoint{
		config:      config,
		connConfig:  connConfig,
		transport:   transport,
		codec:       codec,
		filter:      f,
		rscore:      rscore,
		connections: make(map[FlowKey]*Connection),
		listening:   make(map[uint16]bool),
	}
	for _, port := range config.ListenPorts {
		if port <= 0 || port > 0xffff {
			return nil, fmt.Errorf("invalid listen port %d", port)
		}
		e.listening[uint16(port)] = true
	}

	if config.FilterRst && f != nil && config.LocalIP != "" {
		for _, port := range config.ListenPorts {
			if err := f.AddTcpServerFiltering(config.LocalIP, port); err != nil {
				log.Println("Error adding server filtering rule:", err)
				return nil, err
			}
			log.Println("Server filtering rule added to prevent RST packets at ", config.LocalIP, ":", port)
		}
	}

	e.pool = newFramePool(config.FramePoolSize, config.MTU, config.PoolDebug, config.ProcessTimeThreshold)

	log.Println("TCP endpoint started")
	return e, nil
}

// Run processes frames until the transport fails, ctx is done or the
// endpoint is closed. A receive failure is returned as a *TransportError.
func (e *Endpoint) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		elem := e.pool.GetElement()
		frame := elem.Data.(*Frame)
		n, err := e.transport.Receive(frame.Buffer())
		if err != nil {
			e.pool.ReturnElement(elem)
			if e.closed.Load() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Op: "receive", Err: err}
		}
		frame.SetLength(n)

		var fp int
		if rp.Debug {
			fp = elem.AddFootPrint("Endpoint.HandleFrame")
		}
		if err := e.HandleFrame(frame.Bytes()); err != nil {
			log.Println(err)
		}
		if rp.Debug {
			elem.TickFootPrint(fp)
		}
		e.pool.ReturnElement(elem)
	}
}

// HandleFrame runs one raw frame through decode, dispatch and reply. Errors
// describe a dropped frame or a failed send and are never fatal.
func (e *Endpoint) HandleFrame(frame []byte) error {
	ip, ipHeaderLen, err := e.codec.ParseIPv4(frame)
	if err != nil {
		return fmt.Errorf("ignoring weird IP packet: %w", err)
	}
	if ip.Protocol != layers.IPProtocolTCP {
		if e.config.Debug {
			log.Printf("Dropping %s packet from %s", ip.Protocol, ip.SrcIP)
		}
		return nil
	}

	segment := frame[ipHeaderLen:]
	if int(ip.Length) >= ipHeaderLen && int(ip.Length) <= len(frame) {
		segment = frame[ipHeaderLen:ip.Length]
	}
	tcp, tcpHeaderLen, err := e.codec.ParseTCP(segment)
	if err != nil {
		return fmt.Errorf("ignoring weird TCP packet: %w", err)
	}
	key := NewFlowKey(ip, tcp)
	if e.config.VerifyChecksum && !VerifyChecksum(e.codec, ip, segment) {
		return fmt.Errorf("%s: %w", key, ErrBadChecksum)
	}
	payload := segment[tcpHeaderLen:]

	if e.config.Debug {
		log.Printf("%s, seq %d ack %d flags %#02x, %d bytes of TCP", key, tcp.Seq, tcp.Ack, tcpFlags(tcp), len(payload))
	}

	conn, ok := e.connections[key]
	if !ok {
		return e.accept(key, ip, tcp, payload)
	}
	return e.dispatch(conn, ip, tcp, payload)
}

func (e *Endpoint) accept(key FlowKey, ip *layers.IPv4, tcp *layers.TCP, payload []byte) error {
	conn, synAck, err := Accept(e.connConfig, ip, tcp)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if len(e.listening) > 0 && !e.listening[key.DstPort] {
		return fmt.Errorf("%s: %w", key, ErrPortNotListening)
	}
	log.Printf("%s, %d bytes of TCP", key, len(payload))

	// the flow is only remembered once the SYN+ACK is out; otherwise the
	// peer's retransmitted SYN starts over
	if err := e.send(synAck); err != nil {
		return fmt.Errorf("%s: SYN+ACK not sent: %w", key, err)
	}
	e.connections[key] = conn
	log.Printf("%s: %s", key, conn.State)
	return nil
}

func (e *Endpoint) dispatch(conn *Connection, ip *layers.IPv4, tcp *layers.TCP, payload []byte) error {
	before := conn.State
	reply, err := conn.OnPacket(ip, tcp, payload)
	if conn.State != before {
		log.Printf("%s: %s -> %s", conn.Key, before, conn.State)
	}
	if err != nil {
		return fmt.Errorf("%s in %s: %w", conn.Key, before, err)
	}
	if conn.State == StateClosed {
		e.Remove(conn.Key)
	}
	if reply != nil {
		if err := e.send(reply); err != nil {
			return fmt.Errorf("%s: reply not sent: %w", conn.Key, err)
		}
	}
	return nil
}

// send finalizes the segment and hands it to the transport. A segment that
// fails to serialize is never sent.
func (e *Endpoint) send(seg *Segment) error {
	frame, err := seg.Finalize(e.codec)
	if err != nil {
		return err
	}
	if err := e.transport.Send(frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (e *Endpoint) Lookup(key FlowKey) (*Connection, bool) {
	conn, ok := e.connections[key]
	return conn, ok
}

func (e *Endpoint) Len() int {
	return len(e.connections)
}

// Remove tears a connection down explicitly.
func (e *Endpoint) Remove(key FlowKey) {
	if _, ok := e.connections[key]; ok {
		delete(e.connections, key)
		log.Printf("Connection %s removed.", key)
	}
}

// Close removes filtering rules and closes the transport, which unblocks a
// pending receive in Run.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)

		if e.config.FilterRst && e.filter != nil && e.config.LocalIP != "" {
			for _, port := range e.config.ListenPorts {
				if ferr := e.filter.RemoveTcpServerFiltering(e.config.LocalIP, port); ferr != nil {
					log.Println("Error removing server filtering rule:", ferr)
				}
			}
			if ferr := e.filter.FinishFiltering(); ferr != nil {
				log.Println("Error finishing filtering:", ferr)
			}
		}

		if terr := e.transport.Close(); terr != nil {
			log.Println("Error closing transport:", terr)
			err = terr
		}

		if e.rscore != nil {
			if rerr := (*e.rscore).Close(); rerr != nil {
				log.Println("Error closing RSCore:", rerr)
				err = rerr
			}
		}

		log.Println("TCP endpoint closed gracefully.")
	})
	return err
}
