package lib

import (
	"fmt"
	"log"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Frame is one raw packet buffer handed out by the ring pool.
type Frame struct {
	frameBytes []byte
	length     int
}

// NewFrame creates a pool element. It takes exactly one parameter: the
// buffer length.
func NewFrame(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewFrame: Invalid number of calling parameters. Should be only one: bufferLength")
		return nil
	}
	bufferLength, ok := params[0].(int)
	if !ok || bufferLength <= 0 {
		log.Println("NewFrame: bufferLength should be a positive int")
		return nil
	}
	return &Frame{
		frameBytes: make([]byte, bufferLength),
	}
}

// newFramePool creates the ring pool backing the receive path.
func newFramePool(size, mtu int, debug bool, processTimeThreshold int) *rp.RingPool {
	rp.Debug = debug
	pool := rp.NewRingPool("TUN: ", size, NewFrame, mtu)
	pool.Debug = debug
	pool.ProcessTimeThreshold = time.Duration(processTimeThreshold) * time.Millisecond
	return pool
}

// SetContent sets the content of the frame
func (f *Frame) SetContent(s string) {
	f.length = copy(f.frameBytes, s)
}

// Reset clears the content of the frame
func (f *Frame) Reset() {
	clear(f.frameBytes[:f.length])
	f.length = 0
}

// PrintContent prints the content of the frame
func (f *Frame) PrintContent() {
	fmt.Printf("Frame(%d bytes): % x\n", f.length, f.frameBytes[:f.length])
}

// Buffer returns the whole backing buffer for a transport to fill.
func (f *Frame) Buffer() []byte {
	return f.frameBytes
}

func (f *Frame) SetLength(n int) {
	f.length = n
}

func (f *Frame) Bytes() []byte {
	return f.frameBytes[:f.length]
}
