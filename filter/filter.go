package filter

import "log"

// Filter keeps the host TCP/IP stack from answering flows that are handled in
// user space. Without it the kernel resets every SYN+ACK it never asked for.
type Filter interface {
	AddTcpClientFiltering(dstAddr string, dstPort int) error    // blocks RST packets sent out by this host to dstAddr:dstPort.
	RemoveTcpClientFiltering(dstAddr string, dstPort int) error // removes the rule added by AddTcpClientFiltering.
	AddTcpServerFiltering(srcAddr string, srcPort int) error    // blocks RST packets sent out from srcAddr:srcPort.
	RemoveTcpServerFiltering(srcAddr string, srcPort int) error // removes the rule added by AddTcpServerFiltering.
	FinishFiltering() error                                     // flushes all rules and stops filtering.
}

// noopFilter is used where nothing needs filtering, e.g. a TUN peer address
// the kernel never owns.
type noopFilter struct{}

func NewNoopFilter() Filter {
	return noopFilter{}
}

func (noopFilter) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	log.Printf("noop filter: client rule for %s:%d skipped", dstAddr, dstPort)
	return nil
}

func (noopFilter) RemoveTcpClientFiltering(dstAddr string, dstPort int) error { return nil }

func (noopFilter) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	log.Printf("noop filter: server rule for %s:%d skipped", srcAddr, srcPort)
	return nil
}

func (noopFilter) RemoveTcpServerFiltering(srcAddr string, srcPort int) error { return nil }

func (noopFilter) FinishFiltering() error { return nil }
