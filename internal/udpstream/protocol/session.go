package protocol

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/rectcircle/udpstream/internal/variable"
	"github.com/rectcircle/udpstream/tools"
)

// SessionState - the session lifecycle
type SessionState byte

const (
	// StateInit - created, no DATA/ACK exchanged yet
	StateInit = SessionState(iota)
	// StateEstablished - first DATA or ACK observed in either direction
	StateEstablished
	// StateClosing - a CLOSE was sent or received, outstanding fragments keep
	// retransmitting but no new writes are admitted
	StateClosing
	// StateClosed - close acknowledged or timed out, window memory released
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// writeOp - the not-yet-fragmented remainder of one Write call. Keeping the
// call boundary lets fragmentation set more-fragments on all but its last
// fragment.
type writeOp struct {
	data []byte
	off  int
}

// Session - one peer address, one ordered byte stream. All internal state is
// guarded by mu; the endpoint's read loop (HandleSegment) and tick loop (Tick)
// are the only external drivers. A Session emits datagrams through the
// injected send function and holds no reference to its owner.
//
// Session implements net.Conn, so io.Copy and x/crypto/ssh run on top of it
// unmodified.
type Session struct {
	mu        sync.Mutex
	readCond  *sync.Cond
	writeCond *sync.Cond

	localAddr net.Addr
	peer      net.Addr
	send      func(Segment)
	now       func() time.Time

	state SessionState
	swnd  *sendWindow
	rwnd  *receiveWindow

	writeQueue    []*writeOp
	writeQueueLen int
	readBuf       bytes.Buffer

	err           error // terminal error, set once
	peerClosed    bool  // the peer's CLOSE was delivered
	closeSent     bool  // Close() was called locally
	closePushed   bool  // our CLOSE occupies a slot of the send window
	closeDeadline time.Time
	lastRecv      time.Time
	lastSend      time.Time

	readDeadline  time.Time
	writeDeadline time.Time
	readTimer     *time.Timer
	writeTimer    *time.Timer
}

// NewSession - bind a peer address to a fresh send/receive engine pair.
// `send` transmits one encoded segment to the peer, `now` is the monotonic
// clock (time.Now outside of tests).
func NewSession(localAddr net.Addr, peer net.Addr, send func(Segment), now func() time.Time) *Session {
	s := &Session{
		localAddr: localAddr,
		peer:      peer,
		send:      send,
		now:       now,
		swnd:      newSendWindow(variable.SendWindowCapacity),
		rwnd:      newReceiveWindow(variable.RecvWindowCapacity),
	}
	s.readCond = sync.NewCond(&s.mu)
	s.writeCond = sync.NewCond(&s.mu)
	t := now()
	s.lastRecv = t
	s.lastSend = t
	return s
}

// Write - append bytes to the stream. Blocks while the write queue is full
// and resumes when acknowledgments free capacity. A zero-length write sends
// nothing. Writes larger than the window are chunked across admission rounds,
// never rejected.
func (s *Session) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := s.writeErrLocked(); err != nil {
			return 0, err
		}
		if !s.writeDeadline.IsZero() && !s.now().Before(s.writeDeadline) {
			return 0, &deadlineError{op: "write"}
		}
		if s.writeQueueLen < variable.WriteQueueLimit {
			break
		}
		s.writeCond.Wait()
	}
	s.enqueueLocked(p)
	return len(p), nil
}

// TryWrite - the non-blocking variant of Write, reports ErrWouldBlock instead
// of suspending.
func (s *Session) TryWrite(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErrLocked(); err != nil {
		return 0, err
	}
	if s.writeQueueLen >= variable.WriteQueueLimit {
		return 0, ErrWouldBlock
	}
	s.enqueueLocked(p)
	return len(p), nil
}

func (s *Session) writeErrLocked() error {
	if s.err != nil {
		return s.err
	}
	if s.closeSent || s.peerClosed || s.state == StateClosing || s.state == StateClosed {
		return ErrPeerClosed
	}
	return nil
}

func (s *Session) enqueueLocked(p []byte) {
	data := make([]byte, len(p))
	copy(data, p)
	s.writeQueue = append(s.writeQueue, &writeOp{data: data})
	s.writeQueueLen += len(data)
	s.pumpLocked()
}

// Read - fill p with the next delivered bytes of the stream. Blocks while no
// contiguous bytes are available. After the peer's CLOSE (or a local Close)
// the remaining buffered bytes are still readable, then ErrPeerClosed.
func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.readBuf.Len() > 0 {
			return s.readBuf.Read(p)
		}
		if s.err != nil {
			return 0, s.err
		}
		if s.peerClosed || s.closeSent || s.state == StateClosed {
			return 0, ErrPeerClosed
		}
		if !s.readDeadline.IsZero() && !s.now().Before(s.readDeadline) {
			return 0, &deadlineError{op: "read"}
		}
		s.readCond.Wait()
	}
}

// TryRead - the non-blocking variant of Read, reports ErrWouldBlock instead
// of suspending.
func (s *Session) TryRead(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readBuf.Len() > 0 {
		return s.readBuf.Read(p)
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.peerClosed || s.closeSent || s.state == StateClosed {
		return 0, ErrPeerClosed
	}
	return 0, ErrWouldBlock
}

// Close - initiate graceful shutdown. Already queued writes are still
// fragmented and retransmitted; the session reaches Closed once the peer acks
// the CLOSE or the close-timeout elapses. Suspended readers and writers are
// released with ErrPeerClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeSent || s.state == StateClosed {
		return nil
	}
	s.closeSent = true
	s.state = StateClosing
	s.closeDeadline = s.now().Add(variable.CloseTimeout)
	s.pumpLocked()
	s.readCond.Broadcast()
	s.writeCond.Broadcast()
	return nil
}

// Abort - tear the session down immediately without the close handshake,
// releasing every waiter with ErrPeerClosed.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(ErrPeerClosed)
}

// State - current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleSegment - dispatch one decoded inbound segment. Called by the
// endpoint's read loop only.
func (s *Session) HandleSegment(segment Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.lastRecv = s.now()
	tools.TraceF("session %s receive: Cmd = %d, Seq = %d, Wnd = %d\n",
		s.peer.String(), segment.Cmd, segment.Seq, segment.Wnd)
	switch segment.Cmd {
	case CmdData, CmdClose:
		s.handleSequencedLocked(segment)
	case CmdAck:
		s.establishLocked()
		freed := s.swnd.ack(segment.Seq, segment.Wnd, s.now())
		if freed > 0 {
			s.pumpLocked()
			s.writeCond.Broadcast()
		}
		s.maybeFinishCloseLocked()
	case CmdNack:
		s.swnd.nack(segment.Seq, segment.NackRanges())
		// armed entries go out on the spot, before their timer
		s.retransmitLocked(s.now())
	case CmdPing:
		// keepalive only, lastRecv is already refreshed
	}
}

// Tick - drive retransmission deadlines, close progress, inactivity and
// heartbeat. Called periodically by the endpoint; repeated calls with the
// same timestamp are no-ops.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if now.Sub(s.lastRecv) > variable.IdleTimeout {
		s.failLocked(ErrTimeout)
		return
	}
	if !s.retransmitLocked(now) {
		return
	}
	s.maybeFinishCloseLocked()
	if s.state == StateClosing && now.After(s.closeDeadline) {
		s.becomeClosedLocked()
		return
	}
	if now.Sub(s.lastSend) >= variable.HeartbeatInterval {
		s.outputLocked(NewPingSegment(s.rwnd.free()))
	}
}

// retransmitLocked - flush expired and fast-retransmit-armed fragments.
// Reports false when the retry ceiling killed the session.
func (s *Session) retransmitLocked(now time.Time) bool {
	resend, err := s.swnd.tick(now)
	if err != nil {
		s.failLocked(ErrTimeout)
		return false
	}
	for _, segment := range resend {
		tools.TraceF("session %s retransmit: Seq = %d\n", s.peer.String(), segment.Seq)
		s.outputLocked(segment)
	}
	return true
}

func (s *Session) handleSequencedLocked(segment Segment) {
	s.establishLocked()
	delivered, result := s.rwnd.insert(segment)
	switch result {
	case insertOutOfWindow:
		// misbehaving sender or shrunk window, no feedback
		return
	case insertDuplicate:
		// our previous feedback was presumably lost, regenerate it
		s.sendFeedbackLocked()
		return
	}
	for _, d := range delivered {
		switch d.Cmd {
		case CmdData:
			s.readBuf.Write(d.Payload)
		case CmdClose:
			s.peerClosed = true
		}
	}
	if len(delivered) > 0 {
		s.readCond.Broadcast()
	}
	s.sendFeedbackLocked()
	if s.peerClosed && s.state != StateClosed {
		if s.state != StateClosing {
			s.state = StateClosing
			s.closeDeadline = s.now().Add(variable.CloseTimeout)
		}
		s.writeCond.Broadcast()
		s.maybeFinishCloseLocked()
	}
}

func (s *Session) establishLocked() {
	if s.state == StateInit {
		s.state = StateEstablished
	}
}

// pumpLocked - fragmentation: slice queued writes into DATA segments bounded
// by MaxSegmentSize as long as the send window admits them, then append the
// pending CLOSE after the last queued byte.
func (s *Session) pumpLocked() {
	for len(s.writeQueue) > 0 && !s.swnd.isFull() {
		op := s.writeQueue[0]
		n := int(variable.MaxSegmentSize)
		if remaining := len(op.data) - op.off; remaining < n {
			n = remaining
		}
		more := op.off+n < len(op.data)
		segment := NewDataSegment(s.swnd.nextSeq(), s.rwnd.free(), more, op.data[op.off:op.off+n])
		s.swnd.admit(segment, s.now())
		op.off += n
		s.writeQueueLen -= n
		if op.off == len(op.data) {
			s.writeQueue = s.writeQueue[1:]
		}
		s.outputLocked(segment)
	}
	if s.closeSent && !s.closePushed && len(s.writeQueue) == 0 && !s.swnd.isFull() {
		segment := NewCloseSegment(s.swnd.nextSeq(), s.rwnd.free())
		s.swnd.admit(segment, s.now())
		s.closePushed = true
		s.outputLocked(segment)
	}
	if s.writeQueueLen < variable.WriteQueueLimit {
		s.writeCond.Broadcast()
	}
}

func (s *Session) sendFeedbackLocked() {
	ackSeq, missing := s.rwnd.feedback()
	s.outputLocked(NewAckSegment(ackSeq, s.rwnd.free()))
	if len(missing) > 0 {
		s.outputLocked(NewNackSegment(ackSeq+1, s.rwnd.free(), missing))
	}
}

func (s *Session) outputLocked(segment Segment) {
	s.lastSend = s.now()
	s.send(segment)
}

// maybeFinishCloseLocked - a closing session is done once nothing is left
// in flight: our CLOSE (if any) was acknowledged and the write queue drained.
func (s *Session) maybeFinishCloseLocked() {
	if s.state != StateClosing {
		return
	}
	if s.closeSent && !s.closePushed {
		return
	}
	if s.swnd.isEmpty() && len(s.writeQueue) == 0 {
		s.becomeClosedLocked()
	}
}

// becomeClosedLocked - graceful arrival at Closed, releases window memory
func (s *Session) becomeClosedLocked() {
	if s.state == StateClosed {
		return
	}
	tools.TraceF("session %s closed\n", s.peer.String())
	s.state = StateClosed
	if s.err == nil {
		s.err = ErrPeerClosed
	}
	s.releaseLocked()
}

// failLocked - fatal arrival at Closed (retry ceiling, inactivity, abort)
func (s *Session) failLocked(err error) {
	if s.state == StateClosed {
		return
	}
	tools.TraceF("session %s failed: %v\n", s.peer.String(), err)
	s.state = StateClosed
	if s.err == nil {
		s.err = err
	}
	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	s.swnd = newSendWindow(1)
	s.rwnd = newReceiveWindow(1)
	s.writeQueue = nil
	s.writeQueueLen = 0
	s.readCond.Broadcast()
	s.writeCond.Broadcast()
}

// LocalAddr implements net.Conn
func (s *Session) LocalAddr() net.Addr {
	return s.localAddr
}

// RemoteAddr implements net.Conn
func (s *Session) RemoteAddr() net.Addr {
	return s.peer
}

// SetDeadline implements net.Conn
func (s *Session) SetDeadline(t time.Time) error {
	if err := s.SetReadDeadline(t); err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn. A timer wakes suspended readers when
// the deadline passes.
func (s *Session) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDeadline = t
	if s.readTimer != nil {
		s.readTimer.Stop()
		s.readTimer = nil
	}
	if !t.IsZero() {
		d := t.Sub(s.now())
		s.readTimer = time.AfterFunc(d, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.readCond.Broadcast()
		})
	}
	s.readCond.Broadcast()
	return nil
}

// SetWriteDeadline implements net.Conn
func (s *Session) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDeadline = t
	if s.writeTimer != nil {
		s.writeTimer.Stop()
		s.writeTimer = nil
	}
	if !t.IsZero() {
		d := t.Sub(s.now())
		s.writeTimer = time.AfterFunc(d, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.writeCond.Broadcast()
		})
	}
	s.writeCond.Broadcast()
	return nil
}
