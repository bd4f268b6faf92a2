package lib

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrBadChecksum         = errors.New("bad tcp checksum")
	ErrExpectedSyn         = errors.New("expected a SYN packet")
	ErrExpectedAck         = errors.New("expected an ACK packet")
	ErrUnacceptableAck     = errors.New("acknowledgment number not acceptable")
	ErrUnacceptableSegment = errors.New("segment outside receive window")
	ErrPortNotListening    = errors.New("no listener on destination port")
	ErrNotImplemented      = errors.New("not implemented in this state")
	ErrConnectionClosed    = errors.New("connection closed")
)

// TransportError wraps a failure of the packet transport. A failed receive
// is fatal to the endpoint; a failed send is reported for that frame only.
type TransportError struct {
	Op  string // "receive" or "send"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the control loop.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Op == "receive"
}
