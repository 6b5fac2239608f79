package telemetry

import (
	"time"
)

// DefaultStep is the assumed inter-sample interval used when the protocol
// carries no explicit intra-batch timing. At the sensor's nominal 100Hz
// output rate this is 10ms.
const DefaultStep = 10 * time.Millisecond

// Synthesizer assigns absolute timestamps to the samples of one channel
// batch, given only the arrival instant of the whole frame.
//
// The arrival instant becomes the timestamp of the LAST sample in the
// channel; earlier samples are backdated by Step multiplied by their distance
// from the end:
//
//	timestamp[i] = arrival − (batchSize − 1 − i) × step
//
// Each channel is timestamped independently from the same arrival instant, so
// same-index samples across X/Y/Z are time-aligned. This is a deliberate
// approximation: true inter-sample timing is not transmitted, so synthesized
// timestamps must not be treated as ground truth.
type Synthesizer struct {
	// Step is the assumed inter-sample interval. Zero means DefaultStep.
	Step time.Duration
}

// step returns the effective inter-sample interval.
func (s Synthesizer) step() time.Duration {
	if s.Step <= 0 {
		return DefaultStep
	}
	return s.Step
}

// At returns the synthesized timestamp for the sample at index i in a channel
// batch of size n arriving at the given instant.
func (s Synthesizer) At(arrival time.Time, n, i int) time.Time {
	return arrival.Add(-time.Duration(n-1-i) * s.step())
}

// Stamp applies synthesized timestamps to every sample in the batch, treating
// each sample's batchSize/batchIndex metadata-free position: samples are
// assumed to be in wire order and all from one channel.
func (s Synthesizer) Stamp(arrival time.Time, batch Batch) {
	n := len(batch)
	for i := range batch {
		batch[i].Timestamp = s.At(arrival, n, i)
	}
}
