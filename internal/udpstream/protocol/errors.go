package protocol

import (
	"github.com/pkg/errors"
)

// Errors crossing the application boundary. Decode and window-boundary
// failures stay inside the engine and are never surfaced past it.
var (
	// ErrMalformedSegment - the datagram can not be decoded, it is dropped
	ErrMalformedSegment = errors.New("malformed segment")
	// ErrWindowFull - the send window can not admit another fragment now
	ErrWindowFull = errors.New("send window full")
	// ErrWouldBlock - the non-blocking variant of read/write can not progress
	ErrWouldBlock = errors.New("operation would block")
	// ErrTimeout - a fragment exceeded the retry ceiling, the session is dead
	ErrTimeout = errors.New("retransmission retry ceiling exceeded")
	// ErrPeerClosed - the session was closed, pending operations are released
	ErrPeerClosed = errors.New("session closed")
)

// deadlineError implements net.Error for read/write deadline expiry
type deadlineError struct {
	op string
}

func (e *deadlineError) Error() string   { return e.op + " deadline exceeded" }
func (e *deadlineError) Timeout() bool   { return true }
func (e *deadlineError) Temporary() bool { return true }
