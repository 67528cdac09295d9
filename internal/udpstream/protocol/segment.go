package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// CmdData - a fragment of the application byte stream
	CmdData = byte(iota)
	// CmdAck - cumulative acknowledgment, Seq is the highest delivered sequence
	CmdAck
	// CmdNack - selective negative feedback, payload lists the missing ranges
	CmdNack
	// CmdPing - keepalive, refreshes the peer's inactivity timer
	CmdPing
	// CmdClose - graceful shutdown, occupies one sequence number of the stream
	CmdClose
)

const (
	// FlagMoreFragments - set on all but the last fragment of one write call
	FlagMoreFragments = byte(1 << 0)
)

// HeaderLen - fixed header size: cmd(1) + seq(4) + window(2) + flags(1) + length(2)
const HeaderLen = 10

// SeqRange - a missing sequence range [Start, End), carried by NACK segments
type SeqRange struct {
	Start uint32
	End   uint32
}

// Segment - one self-contained protocol message, one per datagram, Big-Endian.
// Immutable once constructed.
type Segment struct {
	// command
	Cmd byte
	// sequence number (DATA/CLOSE: stream position, ACK: cumulative ack,
	// NACK: lowest missing sequence)
	Seq uint32
	// sender's free receive-window slots
	Wnd uint16
	// flags
	Flags byte
	// payload byte count (DATA) or missing-range count (NACK)
	Length uint16
	// payload
	Payload []byte
}

// NewDataSegment - new a Segment with cmd = CmdData
func NewDataSegment(seq uint32, wnd uint16, more bool, payload []byte) Segment {
	flags := byte(0)
	if more {
		flags |= FlagMoreFragments
	}
	return Segment{
		Cmd:     CmdData,
		Seq:     seq,
		Wnd:     wnd,
		Flags:   flags,
		Length:  uint16(len(payload)),
		Payload: payload,
	}
}

// NewAckSegment - new a Segment with cmd = CmdAck
func NewAckSegment(seq uint32, wnd uint16) Segment {
	return Segment{
		Cmd: CmdAck,
		Seq: seq,
		Wnd: wnd,
	}
}

// NewNackSegment - new a Segment with cmd = CmdNack
func NewNackSegment(seq uint32, wnd uint16, ranges []SeqRange) Segment {
	payload := make([]byte, 8*len(ranges))
	for i, r := range ranges {
		binary.BigEndian.PutUint32(payload[8*i:], r.Start)
		binary.BigEndian.PutUint32(payload[8*i+4:], r.End)
	}
	return Segment{
		Cmd:     CmdNack,
		Seq:     seq,
		Wnd:     wnd,
		Length:  uint16(len(ranges)),
		Payload: payload,
	}
}

// NewPingSegment - new a Segment with cmd = CmdPing
func NewPingSegment(wnd uint16) Segment {
	return Segment{
		Cmd: CmdPing,
		Wnd: wnd,
	}
}

// NewCloseSegment - new a Segment with cmd = CmdClose
func NewCloseSegment(seq uint32, wnd uint16) Segment {
	return Segment{
		Cmd: CmdClose,
		Seq: seq,
		Wnd: wnd,
	}
}

// Equal - Equal
func (s *Segment) Equal(other *Segment) bool {
	return s.Cmd == other.Cmd &&
		s.Seq == other.Seq &&
		s.Wnd == other.Wnd &&
		s.Flags == other.Flags &&
		s.Length == other.Length &&
		bytes.Equal(s.Payload, other.Payload)
}

// Copy - deep copy the object, use none pointer receiver implement basic copy
func (s Segment) Copy() Segment {
	payload := make([]byte, len(s.Payload))
	copy(payload, s.Payload)
	s.Payload = payload
	return s
}

// More - whether the more-fragments flag is set
func (s *Segment) More() bool {
	return s.Flags&FlagMoreFragments != 0
}

// NackRanges - decode the missing-sequence ranges of a NACK payload
func (s *Segment) NackRanges() []SeqRange {
	ranges := make([]SeqRange, s.Length)
	for i := range ranges {
		ranges[i].Start = binary.BigEndian.Uint32(s.Payload[8*i:])
		ranges[i].End = binary.BigEndian.Uint32(s.Payload[8*i+4:])
	}
	return ranges
}

// Serialize - Serialize Segment to []byte
func (s Segment) Serialize() []byte {
	data := make([]byte, HeaderLen+len(s.Payload))
	data[0] = s.Cmd
	binary.BigEndian.PutUint32(data[1:5], s.Seq)
	binary.BigEndian.PutUint16(data[5:7], s.Wnd)
	data[7] = s.Flags
	binary.BigEndian.PutUint16(data[8:10], s.Length)
	copy(data[HeaderLen:], s.Payload)
	return data
}

// Deserialize - decode one datagram into a Segment. The payload is copied so
// the caller may reuse `data`. Returns ErrMalformedSegment when the buffer is
// shorter than the header, the command is unknown, or the declared length does
// not match the remaining bytes.
func Deserialize(data []byte) (Segment, error) {
	if len(data) < HeaderLen {
		return Segment{}, errors.Wrapf(ErrMalformedSegment, "datagram of %d bytes", len(data))
	}
	s := Segment{
		Cmd:    data[0],
		Seq:    binary.BigEndian.Uint32(data[1:5]),
		Wnd:    binary.BigEndian.Uint16(data[5:7]),
		Flags:  data[7],
		Length: binary.BigEndian.Uint16(data[8:10]),
	}
	body := data[HeaderLen:]
	switch s.Cmd {
	case CmdData:
		if int(s.Length) != len(body) {
			return Segment{}, errors.Wrapf(ErrMalformedSegment,
				"data length %d, %d payload bytes", s.Length, len(body))
		}
	case CmdNack:
		if 8*int(s.Length) != len(body) {
			return Segment{}, errors.Wrapf(ErrMalformedSegment,
				"nack of %d ranges, %d payload bytes", s.Length, len(body))
		}
	case CmdAck, CmdPing, CmdClose:
		if s.Length != 0 || len(body) != 0 {
			return Segment{}, errors.Wrapf(ErrMalformedSegment,
				"cmd %d carries a payload", s.Cmd)
		}
	default:
		return Segment{}, errors.Wrapf(ErrMalformedSegment, "unknown cmd %d", s.Cmd)
	}
	if len(body) > 0 {
		s.Payload = make([]byte, len(body))
		copy(s.Payload, body)
	}
	return s, nil
}
