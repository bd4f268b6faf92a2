package lib

import (
	"net"
	"sync"
)

// Transport moves raw IP frames between the endpoint and the network.
type Transport interface {
	// Receive blocks until one frame is copied into buf and returns its length.
	Receive(buf []byte) (int, error)
	// Send writes one complete frame.
	Send(frame []byte) error
	Close() error
}

// MemTransport is an in-memory Transport. Frames injected with Inject come
// out of Receive in order; frames passed to Send are recorded.
type MemTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func NewMemTransport(depth int) *MemTransport {
	return &MemTransport{
		inbound: make(chan []byte, depth),
		closed:  make(chan struct{}),
	}
}

// Inject queues a copy of frame for Receive.
func (m *MemTransport) Inject(frame []byte) {
	m.inbound <- append([]byte(nil), frame...)
}

// Receive drains queued frames before reporting the transport closed.
func (m *MemTransport) Receive(buf []byte) (int, error) {
	select {
	case f := <-m.inbound:
		return copy(buf, f), nil
	default:
	}
	select {
	case f := <-m.inbound:
		return copy(buf, f), nil
	case <-m.closed:
		return 0, net.ErrClosed
	}
}

func (m *MemTransport) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, append([]byte(nil), frame...))
	return nil
}

func (m *MemTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// FailSends makes every following Send return err; nil restores delivery.
func (m *MemTransport) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Sent returns the frames sent so far.
func (m *MemTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}
