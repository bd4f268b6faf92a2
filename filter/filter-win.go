//go:build windows
// +build windows

package filter

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	divert "github.com/imgk/divert-go"
)

type filterImpl struct {
	identifier string
	handle     *divert.Handle
	stopChan   chan struct{}
	isRunning  bool
	clientSet  map[string]bool // "dstIP:dstPort" of RST packets to drop
	serverSet  map[string]bool // "srcIP:srcPort" of RST packets to drop
	mutex      sync.Mutex
}

func NewFilter(identifier string) (Filter, error) {
	return &filterImpl{
		identifier: identifier,
		clientSet:  make(map[string]bool),
		serverSet:  make(map[string]bool),
	}, nil
}

func ruleKey(addr string, port int) string {
	return fmt.Sprintf("%s:%d", addr, port)
}

// start opens the WinDivert handle on first use. Caller holds the mutex.
func (f *filterImpl) start() error {
	if f.isRunning {
		return nil
	}
	h, err := divert.Open("outbound and tcp.Rst", divert.LayerNetwork, 0, 0)
	if err != nil {
		return err
	}
	f.handle = h
	f.stopChan = make(chan struct{})
	f.isRunning = true
	go f.runFilteringLoop()
	log.Printf("%s: RST filtering started", f.identifier)
	return nil
}

func (f *filterImpl) add(set map[string]bool, addr string, port int) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	key := ruleKey(addr, port)
	if set[key] {
		log.Printf("Rule already exists: %s\n", key)
		return nil
	}
	if err := f.start(); err != nil {
		return err
	}
	set[key] = true
	return nil
}

func (f *filterImpl) remove(set map[string]bool, addr string, port int) error {
	f.mutex.Lock()
	key := ruleKey(addr, port)
	if !set[key] {
		f.mutex.Unlock()
		return fmt.Errorf("rule not found: %s", key)
	}
	delete(set, key)
	empty := len(f.clientSet) == 0 && len(f.serverSet) == 0
	f.mutex.Unlock()

	if empty {
		return f.FinishFiltering()
	}
	return nil
}

func (f *filterImpl) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.add(f.clientSet, dstAddr, dstPort)
}

func (f *filterImpl) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.remove(f.clientSet, dstAddr, dstPort)
}

func (f *filterImpl) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.add(f.serverSet, srcAddr, srcPort)
}

func (f *filterImpl) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.remove(f.serverSet, srcAddr, srcPort)
}

// FinishFiltering stops the filtering loop, which closes the WinDivert handle.
func (f *filterImpl) FinishFiltering() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if !f.isRunning {
		return errors.New("no active filtering rules")
	}
	close(f.stopChan)
	f.isRunning = false
	f.clientSet = make(map[string]bool)
	f.serverSet = make(map[string]bool)
	return nil
}

func (f *filterImpl) shouldDrop(ip *layers.IPv4, tcp *layers.TCP) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.clientSet[ruleKey(ip.DstIP.String(), int(tcp.DstPort))] ||
		f.serverSet[ruleKey(ip.SrcIP.String(), int(tcp.SrcPort))]
}

func (f *filterImpl) runFilteringLoop() {
	handle, stop := f.handle, f.stopChan
	defer handle.Close()

	buf := make([]byte, 1500)
	addr := divert.Address{}

	for {
		select {
		case <-stop:
			log.Println("Stopping filter...")
			return
		default:
		}

		n, err := handle.Recv(buf, &addr)
		if err != nil {
			log.Println("Failed to receive packet:", err)
			continue
		}

		packet := gopacket.NewPacket(buf[:n], layers.LayerTypeIPv4, gopacket.Default)
		ipv4, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		tcp, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if ipv4 != nil && tcp != nil && f.shouldDrop(ipv4, tcp) {
			log.Printf("Dropping RST packet: %s:%d -> %s:%d", ipv4.SrcIP, tcp.SrcPort, ipv4.DstIP, tcp.DstPort)
			continue
		}

		if _, err := handle.Send(buf[:n], &addr); err != nil {
			log.Println("Failed to reinject packet:", err)
		}
	}
}
