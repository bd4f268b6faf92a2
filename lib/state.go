package lib

// State of a connection. LISTEN is implicit: a flow absent from the
// connection table is listening.
type State uint8

const (
	StateListen State = iota
	// SYN received from the peer and SYN+ACK sent, waiting for the
	// acknowledgment of our SYN.
	StateSynReceived
	// Open connection, data received can be delivered to the user.
	StateEstablished
	// Peer has sent FIN, waiting for the local side to close.
	StateCloseWait
	// Local FIN sent after CLOSE_WAIT, waiting for its acknowledgment.
	StateLastAck
	// Waiting for enough time to pass so the peer has received the
	// acknowledgment of its FIN.
	StateTimeWait
	// No connection state at all; the entry is removed from the table.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
