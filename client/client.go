package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Clouded-Sabre/Tun-TCP/filter"
	"github.com/Clouded-Sabre/Tun-TCP/lib"
	"golang.org/x/net/ipv4"
)

// The probe opens one connection against a user-space endpoint by hand: it
// sends a SYN, checks the SYN+ACK, completes the handshake and resets the
// flow. The local kernel never owns the flow, so its RSTs are filtered.
func main() {
	target := flag.String("target", "10.0.0.2:80", "endpoint address to probe")
	local := flag.String("local", "10.0.0.1", "local source address")
	sport := flag.Int("sport", 0, "local source port; 0 picks one per probe from the ephemeral range")
	count := flag.Int("count", 1, "number of handshakes to run")
	timeout := flag.Duration("timeout", 3*time.Second, "time to wait for the SYN+ACK")
	anchor := flag.String("anchor", "TUN_probe", "iptables comment, nftables table or pf anchor of the RST filtering rule")
	noFilter := flag.Bool("nofilter", false, "do not install a RST filtering rule")
	flag.Parse()
	if *sport < 0 || *sport > 0xffff {
		log.Fatalf("bad source port %d", *sport)
	}

	ports, err := lib.NewPortPool(ephemeralMin, ephemeralMax)
	if err != nil {
		log.Fatalln(err)
	}
	// validates the addresses once; the source port changes per probe
	key, err := flowKey(*local, ephemeralMin, *target)
	if err != nil {
		log.Fatalln("Bad address:", err)
	}

	conn, err := net.ListenPacket("ip4:tcp", *local)
	if err != nil {
		log.Fatalln("Error listening:", err)
	}
	defer conn.Close()
	raw, err := ipv4.NewRawConn(conn)
	if err != nil {
		log.Fatalln("Error opening raw connection:", err)
	}

	rstFilter := filter.NewNoopFilter()
	if !*noFilter {
		if rstFilter, err = filter.NewFilter(*anchor); err != nil {
			log.Fatalln("Error creating filter object:", err)
		}
	}
	dstIP := net.IP(key.DstIP[:]).String()
	if err := rstFilter.AddTcpClientFiltering(dstIP, int(key.DstPort)); err != nil {
		log.Fatalln("Error adding client filtering rule:", err)
	}
	defer rstFilter.FinishFiltering()
	defer rstFilter.RemoveTcpClientFiltering(dstIP, int(key.DstPort))

	failed := 0
	for i := 0; i < *count; i++ {
		port := *sport
		if port == 0 {
			if port, err = ports.Allocate(); err != nil {
				log.Fatalln(err)
			}
		}
		key.SrcPort = uint16(port)
		if err := probe(raw, key, *timeout); err != nil {
			fmt.Println("Probe failed:", err)
			failed++
		}
		if *sport == 0 {
			ports.Release(port)
		}
	}
	fmt.Printf("%d of %d handshakes completed\n", *count-failed, *count)
	if failed > 0 {
		os.Exit(1)
	}
}

// source ports picked when none is given, the Linux default ephemeral range
const (
	ephemeralMin = 32768
	ephemeralMax = 60999
)

func flowKey(local string, sport int, target string) (lib.FlowKey, error) {
	var key lib.FlowKey
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return key, err
	}
	dport, err := strconv.Atoi(portStr)
	if err != nil || dport <= 0 || dport > 0xffff {
		return key, fmt.Errorf("bad port %q", portStr)
	}
	if sport <= 0 || sport > 0xffff {
		return key, fmt.Errorf("bad source port %d", sport)
	}
	src, dst := net.ParseIP(local).To4(), net.ParseIP(host).To4()
	if src == nil || dst == nil {
		return key, fmt.Errorf("need IPv4 addresses, got %q and %q", local, host)
	}
	copy(key.SrcIP[:], src)
	copy(key.DstIP[:], dst)
	key.SrcPort, key.DstPort = uint16(sport), uint16(dport)
	return key, nil
}

func probe(raw *ipv4.RawConn, key lib.FlowKey, timeout time.Duration) error {
	codec := lib.NewPacketCodec()
	iss, err := lib.GenerateISN()
	if err != nil {
		return err
	}

	if err := send(raw, codec, lib.NewSegment(key, iss, 0, lib.SYNFlag, 64240, 64, nil)); err != nil {
		return fmt.Errorf("send SYN: %w", err)
	}
	start := time.Now()
	fmt.Printf("SYN sent %s, seq %d\n", key, iss)

	synAck, err := awaitSynAck(raw, codec, key, lib.SeqIncrement(iss), timeout)
	if err != nil {
		return err
	}
	fmt.Printf("SYN+ACK received after %v: seq %d ack %d window %d\n", time.Since(start), synAck.Seq, synAck.Ack, synAck.Window)

	seq, ack := lib.SeqIncrement(iss), lib.SeqIncrement(synAck.Seq)
	if err := send(raw, codec, lib.NewSegment(key, seq, ack, lib.ACKFlag, 64240, 64, nil)); err != nil {
		return fmt.Errorf("send ACK: %w", err)
	}
	fmt.Println("ACK sent, connection established")

	if err := send(raw, codec, lib.NewSegment(key, seq, 0, lib.RSTFlag, 0, 64, nil)); err != nil {
		return fmt.Errorf("send RST: %w", err)
	}
	fmt.Println("RST sent, connection torn down")
	return nil
}

func send(raw *ipv4.RawConn, codec lib.Codec, seg *lib.Segment) error {
	frame, err := seg.Finalize(codec)
	if err != nil {
		return err
	}
	h, err := ipv4.ParseHeader(frame[:lib.IpHeaderLength])
	if err != nil {
		return err
	}
	return raw.WriteTo(h, frame[lib.IpHeaderLength:], nil)
}

// awaitSynAck reads until the SYN+ACK of the reverse flow acknowledging
// expectedAck shows up or the timeout passes.
func awaitSynAck(raw *ipv4.RawConn, codec lib.Codec, key lib.FlowKey, expectedAck uint32, timeout time.Duration) (*synAckInfo, error) {
	if err := raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	reverse := key.Reverse()
	buf := make([]byte, lib.DefaultMTU)
	for {
		h, p, _, err := raw.ReadFrom(buf)
		if err != nil {
			return nil, fmt.Errorf("waiting for SYN+ACK: %w", err)
		}
		tcp, _, err := codec.ParseTCP(p)
		if err != nil {
			continue
		}
		var from lib.FlowKey
		copy(from.SrcIP[:], h.Src.To4())
		copy(from.DstIP[:], h.Dst.To4())
		from.SrcPort, from.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		if from != reverse {
			continue
		}
		if !tcp.SYN || !tcp.ACK {
			return nil, fmt.Errorf("unexpected reply: syn=%t ack=%t rst=%t", tcp.SYN, tcp.ACK, tcp.RST)
		}
		if tcp.Ack != expectedAck {
			return nil, fmt.Errorf("SYN+ACK acknowledges %d, expected %d", tcp.Ack, expectedAck)
		}
		return &synAckInfo{Seq: tcp.Seq, Ack: tcp.Ack, Window: tcp.Window}, nil
	}
}

type synAckInfo struct {
	Seq, Ack uint32
	Window   uint16
}
