package protocol

import (
	"time"

	"github.com/rectcircle/udpstream/internal/variable"
)

// sendEntry - one in-flight fragment awaiting acknowledgment
type sendEntry struct {
	segment       Segment
	firstSent     time.Time
	lastSent      time.Time
	rto           time.Duration
	retries       int
	retransmitted bool
	fastResend    bool
}

// sendWindow - the in-flight fragments, a fixed-capacity arena indexed by
// sequence mod capacity. Entries live in [start, next) and leave only by
// cumulative acknowledgment or session teardown.
type sendWindow struct {
	entries   []*sendEntry
	capacity  uint16
	start     uint32 // oldest unacknowledged sequence
	next      uint32 // next sequence to assign, exclusive end
	remoteWnd uint16 // peer-advertised free slots
	estimator *rttEstimator

	// duplicate NACK counting for fast retransmit
	lastNack uint32
	nackDups int
	hasNack  bool
}

func newSendWindow(capacity uint16) *sendWindow {
	return &sendWindow{
		entries:   make([]*sendEntry, capacity),
		capacity:  capacity,
		remoteWnd: capacity,
		estimator: newRTTEstimator(),
	}
}

func (w *sendWindow) size() int {
	return int(seqSub(w.next, w.start))
}

func (w *sendWindow) isEmpty() bool {
	return w.size() == 0
}

// isFull - the bound is min(local capacity, peer window), but at least one
// slot so a zero peer window can still be probed
func (w *sendWindow) isFull() bool {
	bound := w.capacity
	if w.remoteWnd < bound {
		bound = w.remoteWnd
	}
	if bound < 1 {
		bound = 1
	}
	return w.size() >= int(bound)
}

// nextSeq - the sequence number admit will assign next
func (w *sendWindow) nextSeq() uint32 {
	return w.next
}

// admit - register a fragment as in-flight. The fragment's Seq must be
// nextSeq(). Reports ErrWindowFull when no capacity is left.
func (w *sendWindow) admit(segment Segment, now time.Time) error {
	if w.isFull() {
		return ErrWindowFull
	}
	w.entries[w.next%uint32(w.capacity)] = &sendEntry{
		segment:   segment,
		firstSent: now,
		lastSent:  now,
		rto:       w.estimator.current(),
	}
	w.next++
	return nil
}

// ack - apply a cumulative acknowledgment: every entry with sequence <= ackSeq
// leaves the window. Feeds the estimator when the newest acked entry was never
// retransmitted, and resets the surviving entries' backoff to the fresh
// estimate. Re-applying the same ack frees nothing and changes no timing
// state, only the advertised window is refreshed.
func (w *sendWindow) ack(ackSeq uint32, wnd uint16, now time.Time) (freed int) {
	w.remoteWnd = wnd
	var sample time.Duration
	sampled := false
	for w.size() > 0 && seqLEQ(w.start, ackSeq) {
		idx := w.start % uint32(w.capacity)
		entry := w.entries[idx]
		if entry.segment.Seq == ackSeq && !entry.retransmitted {
			sample = now.Sub(entry.lastSent)
			sampled = true
		}
		w.entries[idx] = nil
		w.start++
		freed++
	}
	if sampled {
		w.estimator.observe(sample)
		for seq := w.start; seqLT(seq, w.next); seq++ {
			w.entries[seq%uint32(w.capacity)].rto = w.estimator.current()
		}
	}
	return freed
}

// nack - record selective negative feedback. The same lowest-missing sequence
// repeated FastRetransmitDupThreshold times arms the listed entries for
// immediate retransmission on the next tick, without waiting for their timer.
func (w *sendWindow) nack(nackSeq uint32, ranges []SeqRange) {
	if w.hasNack && w.lastNack == nackSeq {
		w.nackDups++
	} else {
		w.hasNack = true
		w.lastNack = nackSeq
		w.nackDups = 1
	}
	if w.nackDups < variable.FastRetransmitDupThreshold {
		return
	}
	w.nackDups = 0
	for _, r := range ranges {
		for seq := r.Start; seqLT(seq, r.End); seq++ {
			if entry := w.entry(seq); entry != nil {
				entry.fastResend = true
			}
		}
	}
}

// tick - collect every fragment whose deadline elapsed or that is armed for
// fast retransmit. Each collected fragment gets its retry count incremented
// and its per-entry RTO doubled (capped at RTOMax). A fragment past the retry
// ceiling turns the whole window into ErrTimeout. Idempotent for a repeated
// timestamp: a retransmitted entry's deadline moves past `now`.
func (w *sendWindow) tick(now time.Time) ([]Segment, error) {
	var resend []Segment
	for seq := w.start; seqLT(seq, w.next); seq++ {
		entry := w.entries[seq%uint32(w.capacity)]
		if entry == nil {
			continue
		}
		if !entry.fastResend && now.Sub(entry.lastSent) < entry.rto {
			continue
		}
		if entry.retries+1 > variable.MaxRetries {
			return nil, ErrTimeout
		}
		entry.retries++
		entry.retransmitted = true
		entry.fastResend = false
		entry.lastSent = now
		entry.rto *= 2
		if entry.rto > variable.RTOMax {
			entry.rto = variable.RTOMax
		}
		resend = append(resend, entry.segment)
	}
	return resend, nil
}

// entry - the in-flight entry of `seq`, nil when seq is not outstanding
func (w *sendWindow) entry(seq uint32) *sendEntry {
	if !seqLEQ(w.start, seq) || !seqLT(seq, w.next) {
		return nil
	}
	return w.entries[seq%uint32(w.capacity)]
}
