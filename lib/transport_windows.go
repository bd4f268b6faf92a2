//go:build windows
// +build windows

package lib

import (
	"fmt"
	"log"
	"sync"

	divert "github.com/imgk/divert-go"
)

// DivertTransport diverts IPv4/TCP packets matching a WinDivert filter away
// from the Windows stack and hands them to the endpoint. Replies are
// injected with the address of the last diverted packet, direction flipped.
type DivertTransport struct {
	handle *divert.Handle
	mu     sync.Mutex
	addr   divert.Address
}

// NewDivertTransport opens a network layer handle, e.g. for the filter
// "inbound and ip.DstAddr == 10.0.0.2 and tcp".
func NewDivertTransport(filter string) (*DivertTransport, error) {
	h, err := divert.Open(filter, divert.LayerNetwork, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("divert open %q: %w", filter, err)
	}
	log.Printf("WinDivert handle opened with filter %q", filter)
	return &DivertTransport{handle: h}, nil
}

func (d *DivertTransport) Receive(buf []byte) (int, error) {
	addr := divert.Address{}
	n, err := d.handle.Recv(buf, &addr)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.addr = addr
	d.mu.Unlock()
	return int(n), nil
}

func (d *DivertTransport) Send(frame []byte) error {
	d.mu.Lock()
	addr := d.addr
	d.mu.Unlock()
	// the reply travels the other way
	addr.Flags ^= 1 << 1 // outbound bit of WINDIVERT_ADDRESS
	_, err := d.handle.Send(frame, &addr)
	return err
}

func (d *DivertTransport) Close() error {
	return d.handle.Close()
}
