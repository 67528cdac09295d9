package protocol

import (
	"testing"
	"time"

	"github.com/rectcircle/udpstream/internal/variable"
)

var testBase = time.Date(2020, 12, 1, 0, 0, 0, 0, time.UTC)

func admitN(t *testing.T, w *sendWindow, n int, now time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		segment := NewDataSegment(w.nextSeq(), 16, false, []byte{byte(i)})
		if err := w.admit(segment, now); err != nil {
			t.Fatalf("admit() err = %v", err)
		}
	}
}

func TestSendWindowAdmit(t *testing.T) {
	t.Run("fill to capacity then WindowFull", func(t *testing.T) {
		w := newSendWindow(4)
		admitN(t, w, 4, testBase)
		segment := NewDataSegment(w.nextSeq(), 16, false, []byte("x"))
		if err := w.admit(segment, testBase); err != ErrWindowFull {
			t.Errorf("admit() err = %v, want ErrWindowFull", err)
		}
	})

	t.Run("peer window bounds below local capacity", func(t *testing.T) {
		w := newSendWindow(8)
		w.ack(0xFFFFFFFF, 2, testBase) // only the advertisement matters
		admitN(t, w, 2, testBase)
		segment := NewDataSegment(w.nextSeq(), 16, false, []byte("x"))
		if err := w.admit(segment, testBase); err != ErrWindowFull {
			t.Errorf("admit() err = %v, want ErrWindowFull", err)
		}
	})

	t.Run("zero peer window still admits one probe", func(t *testing.T) {
		w := newSendWindow(8)
		w.ack(0xFFFFFFFF, 0, testBase)
		admitN(t, w, 1, testBase)
		if !w.isFull() {
			t.Errorf("isFull() = false, want true after the probe slot")
		}
	})
}

func TestSendWindowAck(t *testing.T) {
	t.Run("cumulative ack frees every earlier entry", func(t *testing.T) {
		w := newSendWindow(8)
		admitN(t, w, 4, testBase)
		if freed := w.ack(2, 8, testBase.Add(50*time.Millisecond)); freed != 3 {
			t.Errorf("ack(2) freed = %d, want 3", freed)
		}
		if w.size() != 1 {
			t.Errorf("size() = %d, want 1", w.size())
		}
		if w.entry(3) == nil {
			t.Errorf("entry(3) = nil, want outstanding")
		}
	})

	t.Run("re-applying the same ack changes nothing", func(t *testing.T) {
		w := newSendWindow(8)
		admitN(t, w, 4, testBase)
		w.ack(1, 8, testBase.Add(50*time.Millisecond))
		sizeBefore := w.size()
		rtoBefore := w.entry(2).rto
		if freed := w.ack(1, 8, testBase.Add(90*time.Millisecond)); freed != 0 {
			t.Errorf("second ack(1) freed = %d, want 0", freed)
		}
		if w.size() != sizeBefore {
			t.Errorf("size() = %d, want %d", w.size(), sizeBefore)
		}
		if w.entry(2).rto != rtoBefore {
			t.Errorf("entry(2).rto changed on a duplicate ack")
		}
	})

	t.Run("unambiguous ack feeds the estimator", func(t *testing.T) {
		w := newSendWindow(8)
		admitN(t, w, 1, testBase)
		w.ack(0, 8, testBase.Add(200*time.Millisecond))
		if !w.estimator.hasSample {
			t.Fatalf("estimator got no sample")
		}
		if w.estimator.srtt != 200*time.Millisecond {
			t.Errorf("srtt = %v, want 200ms", w.estimator.srtt)
		}
	})

	t.Run("retransmitted entries do not feed the estimator", func(t *testing.T) {
		w := newSendWindow(8)
		admitN(t, w, 1, testBase)
		// force one retransmission
		if resend, err := w.tick(testBase.Add(variable.RTODefault)); err != nil || len(resend) != 1 {
			t.Fatalf("tick() = (%d, %v), want one retransmission", len(resend), err)
		}
		w.ack(0, 8, testBase.Add(variable.RTODefault).Add(time.Millisecond))
		if w.estimator.hasSample {
			t.Errorf("estimator sampled an ambiguous ack")
		}
	})
}

func TestSendWindowTick(t *testing.T) {
	t.Run("expired entries are retransmitted once per deadline", func(t *testing.T) {
		w := newSendWindow(8)
		admitN(t, w, 3, testBase)
		now := testBase.Add(variable.RTODefault)
		resend, err := w.tick(now)
		if err != nil {
			t.Fatalf("tick() err = %v", err)
		}
		if len(resend) != 3 {
			t.Errorf("tick() retransmitted %d, want 3", len(resend))
		}
		// idempotent under the same timestamp
		resend, err = w.tick(now)
		if err != nil || len(resend) != 0 {
			t.Errorf("second tick() = (%d, %v), want (0, nil)", len(resend), err)
		}
	})

	t.Run("backoff doubles and caps", func(t *testing.T) {
		oldMax := variable.RTOMax
		variable.RTOMax = 10 * variable.RTODefault
		t.Cleanup(func() { variable.RTOMax = oldMax })

		w := newSendWindow(8)
		admitN(t, w, 1, testBase)
		now := testBase
		var rtos []time.Duration
		for i := 0; i < variable.MaxRetries; i++ {
			entry := w.entry(0)
			now = now.Add(entry.rto)
			resend, err := w.tick(now)
			if err != nil {
				t.Fatalf("tick() err = %v on retry %d", err, i+1)
			}
			if len(resend) != 1 {
				t.Fatalf("tick() retransmitted %d, want 1 on retry %d", len(resend), i+1)
			}
			rtos = append(rtos, w.entry(0).rto)
		}
		for i := 1; i < len(rtos); i++ {
			if rtos[i] < rtos[i-1] {
				t.Errorf("rto sequence not monotone: %v", rtos)
			}
			if rtos[i] > variable.RTOMax {
				t.Errorf("rto %v above RTOMax", rtos[i])
			}
		}
		// past the retry ceiling the window reports Timeout
		now = now.Add(w.entry(0).rto)
		if _, err := w.tick(now); err != ErrTimeout {
			t.Errorf("tick() err = %v, want ErrTimeout", err)
		}
	})
}

func TestSendWindowFastRetransmit(t *testing.T) {
	oldThreshold := variable.FastRetransmitDupThreshold
	variable.FastRetransmitDupThreshold = 3
	t.Cleanup(func() { variable.FastRetransmitDupThreshold = oldThreshold })

	w := newSendWindow(8)
	admitN(t, w, 4, testBase)
	ranges := []SeqRange{{Start: 1, End: 2}}
	w.nack(1, ranges)
	w.nack(1, ranges)
	// below the threshold nothing is armed
	if resend, _ := w.tick(testBase.Add(time.Millisecond)); len(resend) != 0 {
		t.Fatalf("tick() retransmitted %d before the duplicate threshold", len(resend))
	}
	w.nack(1, ranges)
	// armed now, fires before the plain timeout deadline
	resend, err := w.tick(testBase.Add(2 * time.Millisecond))
	if err != nil {
		t.Fatalf("tick() err = %v", err)
	}
	if len(resend) != 1 || resend[0].Seq != 1 {
		t.Fatalf("tick() = %v, want the single armed fragment seq 1", resend)
	}
	// a different lowest-missing sequence restarts the count
	w.nack(2, []SeqRange{{Start: 2, End: 3}})
	if resend, _ := w.tick(testBase.Add(3 * time.Millisecond)); len(resend) != 0 {
		t.Errorf("tick() retransmitted %d after the count restarted", len(resend))
	}
}
