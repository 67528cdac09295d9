package protocol

// insertResult - what the receive window did with an inbound fragment
type insertResult int

const (
	// insertDelivered - the fragment advanced nextExpected, a contiguous run
	// was handed to reassembly
	insertDelivered = insertResult(iota)
	// insertBuffered - in window but out of order, parked in the reorder buffer
	insertBuffered
	// insertDuplicate - already delivered or already buffered; the fragment is
	// dropped but feedback must be regenerated since the peer missed ours
	insertDuplicate
	// insertOutOfWindow - beyond the window, dropped without feedback
	insertOutOfWindow
)

// receiveWindow - the reorder buffer, a fixed-capacity arena indexed by
// sequence mod capacity. Buffered sequences live in
// [nextExpected, nextExpected+capacity); duplicates and out-of-window
// fragments never reach the application.
type receiveWindow struct {
	entries      []*Segment
	capacity     uint16
	nextExpected uint32 // lowest sequence not yet delivered
	highestSeen  uint32
	seenAny      bool
	buffered     int
}

func newReceiveWindow(capacity uint16) *receiveWindow {
	return &receiveWindow{
		entries:  make([]*Segment, capacity),
		capacity: capacity,
	}
}

// insert - file one sequenced fragment (DATA or CLOSE). When the fragment is
// exactly nextExpected the longest contiguous run now available is returned
// in order, and nextExpected advances past it.
func (w *receiveWindow) insert(segment Segment) ([]Segment, insertResult) {
	if seqLT(segment.Seq, w.nextExpected) {
		return nil, insertDuplicate
	}
	if !seqLT(segment.Seq, w.nextExpected+uint32(w.capacity)) {
		return nil, insertOutOfWindow
	}
	idx := segment.Seq % uint32(w.capacity)
	if w.entries[idx] != nil {
		return nil, insertDuplicate
	}
	owned := segment.Copy()
	w.entries[idx] = &owned
	w.buffered++
	if !w.seenAny || seqLT(w.highestSeen, segment.Seq) {
		w.highestSeen = segment.Seq
		w.seenAny = true
	}
	if segment.Seq != w.nextExpected {
		return nil, insertBuffered
	}
	var delivered []Segment
	for {
		idx := w.nextExpected % uint32(w.capacity)
		entry := w.entries[idx]
		if entry == nil {
			break
		}
		delivered = append(delivered, *entry)
		w.entries[idx] = nil
		w.buffered--
		w.nextExpected++
	}
	return delivered, insertDelivered
}

// free - free slots of the reorder buffer, this is the advertised window
func (w *receiveWindow) free() uint16 {
	return w.capacity - uint16(w.buffered)
}

// feedback - the cumulative acknowledgment (nextExpected-1, mod 2^32) plus the
// missing ranges between nextExpected and highestSeen. Resending the same
// feedback any number of times is safe.
func (w *receiveWindow) feedback() (ackSeq uint32, missing []SeqRange) {
	ackSeq = w.nextExpected - 1
	if !w.seenAny || seqLT(w.highestSeen, w.nextExpected) {
		return ackSeq, nil
	}
	// highestSeen itself is always buffered here, so every gap closes
	inGap := false
	var gapStart uint32
	for seq := w.nextExpected; seqLEQ(seq, w.highestSeen); seq++ {
		if w.entries[seq%uint32(w.capacity)] == nil {
			if !inGap {
				inGap = true
				gapStart = seq
			}
		} else if inGap {
			inGap = false
			missing = append(missing, SeqRange{Start: gapStart, End: seq})
		}
	}
	return ackSeq, missing
}
