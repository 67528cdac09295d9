package protocol

import (
	"math"
	"testing"
)

func TestSeqOrdering(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint32
		wantLT  bool
		wantLEQ bool
	}{
		// Case1
		{name: "equal", a: 5, b: 5, wantLT: false, wantLEQ: true},
		// Case2
		{name: "plain less", a: 5, b: 6, wantLT: true, wantLEQ: true},
		// Case3
		{name: "plain greater", a: 6, b: 5, wantLT: false, wantLEQ: false},
		// Case4
		{name: "across the wrap", a: math.MaxUint32, b: 0, wantLT: true, wantLEQ: true},
		// Case5
		{name: "across the wrap reversed", a: 0, b: math.MaxUint32, wantLT: false, wantLEQ: false},
		// Case6
		{name: "far across the wrap", a: math.MaxUint32 - 100, b: 100, wantLT: true, wantLEQ: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seqLT(tt.a, tt.b); got != tt.wantLT {
				t.Errorf("seqLT(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.wantLT)
			}
			if got := seqLEQ(tt.a, tt.b); got != tt.wantLEQ {
				t.Errorf("seqLEQ(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.wantLEQ)
			}
		})
	}
}

func TestSeqSub(t *testing.T) {
	if got := seqSub(10, 3); got != 7 {
		t.Errorf("seqSub(10, 3) = %d, want 7", got)
	}
	if got := seqSub(2, math.MaxUint32); got != 3 {
		t.Errorf("seqSub(2, MaxUint32) = %d, want 3", got)
	}
}
