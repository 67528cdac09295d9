package protocol

import (
	"time"

	"github.com/rectcircle/udpstream/internal/variable"
)

// rttEstimator - smoothed round-trip statistics, Jacobson/Karels style.
// Samples must come only from segments that were never retransmitted
// (Karn's algorithm), the caller guarantees that.
type rttEstimator struct {
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
	hasSample bool
}

func newRTTEstimator() *rttEstimator {
	return &rttEstimator{rto: variable.RTODefault}
}

// observe - feed one unambiguous round-trip sample
func (e *rttEstimator) observe(sample time.Duration) {
	if !e.hasSample {
		e.srtt = sample
		e.rttvar = sample / 2
		e.hasSample = true
	} else {
		err := sample - e.srtt
		e.srtt += err / 8
		if err < 0 {
			err = -err
		}
		e.rttvar += (err - e.rttvar) / 4
	}
	variance := 4 * e.rttvar
	if variance < variable.ClockGranularity {
		variance = variable.ClockGranularity
	}
	e.rto = clampRTO(e.srtt + variance)
}

// current - the retransmission timeout derived from the smoothed estimate
func (e *rttEstimator) current() time.Duration {
	return e.rto
}

func clampRTO(rto time.Duration) time.Duration {
	if rto < variable.RTOMin {
		return variable.RTOMin
	}
	if rto > variable.RTOMax {
		return variable.RTOMax
	}
	return rto
}
