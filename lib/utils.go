package lib

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

func SeqIncrement(seq uint32) uint32 {
	return uint32(uint64(seq) + 1) // implicit modulo operation included
}

func SeqIncrementBy(seq, inc uint32) uint32 {
	return uint32(uint64(seq) + uint64(inc)) // implicit modulo operation included
}

// SEQ compare function with SEQ wraparound in mind
func isGreater(seq1, seq2 uint32) bool {
	if seq1 == seq2 {
		return false
	}
	// Calculate direct difference
	var diff, wrapdiff, distance int64
	diff = int64(seq1) - int64(seq2)
	if diff < 0 {
		diff = -diff
	}
	wrapdiff = int64(math.MaxUint32 + 1 - diff)

	// Choose the shorter distance
	if diff < wrapdiff {
		distance = diff
	} else {
		distance = wrapdiff
	}

	// Check if the first sequence number is "greater"
	return (distance+int64(seq2))%(math.MaxUint32+1) == int64(seq1)
}

func isGreaterOrEqual(seq1, seq2 uint32) bool {
	return isGreater(seq1, seq2) || (seq1 == seq2)
}

func isLess(seq1, seq2 uint32) bool {
	return !isGreaterOrEqual(seq1, seq2)
}

func isLessOrEqual(seq1, seq2 uint32) bool {
	return !isGreater(seq1, seq2)
}

// AckAcceptable reports whether ack is acceptable for a send space whose
// oldest unacknowledged byte is una and whose next byte to send is nxt.
// Walking forward around the ring strictly after una, ack must be reached at
// or before nxt. A zero-advance ack (ack == una) is rejected.
func AckAcceptable(una, ack, nxt uint32) bool {
	switch {
	case ack == una:
		return false
	case una < ack:
		// either nxt lies above ack, or nxt has wrapped past zero and every
		// value above una precedes it. The second half accepts una < ack with
		// nxt < una, e.g. una=0xfffffff0 ack=0xffffffff nxt=5.
		return ack <= nxt || nxt < una
	default: // ack < una
		// ack can only be valid inside the wrapped part: una -> 0 -> ack -> nxt
		return nxt < una && ack <= nxt
	}
}

// segmentAcceptable is the RFC 793 receive test: a segment of segLen bytes
// starting at seq must overlap the window [nxt, nxt+wnd).
func segmentAcceptable(nxt uint32, wnd uint16, seq uint32, segLen uint32) bool {
	inWindow := func(v uint32) bool {
		return isLessOrEqual(nxt, v) && isLess(v, SeqIncrementBy(nxt, uint32(wnd)))
	}
	switch {
	case segLen == 0 && wnd == 0:
		return seq == nxt
	case segLen == 0:
		return inWindow(seq)
	case wnd == 0:
		return false
	default:
		return inWindow(seq) || inWindow(SeqIncrementBy(seq, segLen-1))
	}
}

// GenerateISN draws an unpredictable initial sequence number.
func GenerateISN() (uint32, error) {
	var isn uint32
	err := binary.Read(rand.Reader, binary.BigEndian, &isn)
	if err != nil {
		return 0, err
	}
	return isn, nil
}
