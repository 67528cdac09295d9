package protocol

// Sequence numbers are uint32 and wrap at 2^32. All ordering goes through the
// signed difference so comparisons stay correct across the wrap.

// seqLT - a < b in wrap-around order
func seqLT(a, b uint32) bool {
	return int32(a-b) < 0
}

// seqLEQ - a <= b in wrap-around order
func seqLEQ(a, b uint32) bool {
	return int32(a-b) <= 0
}

// seqSub - the distance of the range [b, a)
func seqSub(a, b uint32) uint32 {
	return a - b
}
