package lib

// SendSequenceSpace tracks what we have sent (RFC 793 section 3.2).
//
//	     1         2          3          4
//	----------|----------|----------|----------
//	       SND.UNA    SND.NXT    SND.UNA
//	                            +SND.WND
//
//	1 - old sequence numbers which have been acknowledged
//	2 - sequence numbers of unacknowledged data
//	3 - sequence numbers allowed for new data transmission
//	4 - future sequence numbers which are not yet allowed
type SendSequenceSpace struct {
	UNA uint32 // send unacknowledged
	NXT uint32 // send next
	WND uint16 // send window, as advertised by the peer
	UP  bool   // send urgent pointer
	WL1 uint32 // segment sequence number used for last window update
	WL2 uint32 // segment acknowledgment number used for last window update
	ISS uint32 // initial send sequence number
}

// ReceiveSequenceSpace tracks what the peer has sent us.
//
//	    1          2          3
//	----------|----------|----------
//	       RCV.NXT    RCV.NXT
//	                 +RCV.WND
//
//	1 - old sequence numbers which have been acknowledged
//	2 - sequence numbers allowed for new reception
//	3 - future sequence numbers which are not yet allowed
type ReceiveSequenceSpace struct {
	NXT uint32 // receive next
	WND uint16 // receive window, as advertised by us
	UP  bool   // receive urgent pointer
	IRS uint32 // initial receive sequence number
}

// updateWindow applies the RFC 793 window update rule for an acceptable
// segment: newer by sequence number, or same sequence and newer ack.
func (s *SendSequenceSpace) updateWindow(seq, ack uint32, wnd uint16) {
	if isLess(s.WL1, seq) || (s.WL1 == seq && isLessOrEqual(s.WL2, ack)) {
		s.WND = wnd
		s.WL1 = seq
		s.WL2 = ack
	}
}
