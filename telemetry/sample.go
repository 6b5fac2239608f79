// Package telemetry defines the canonical in-memory representation of decoded
// sensor readings and the synthesis of per-sample timestamps.
package telemetry

import (
	"time"
)

// Channel identifies which waveform stream a sample belongs to.
type Channel int

const (
	// ChannelUnlabeled marks samples from a frame carrying a single
	// undifferentiated waveform.
	ChannelUnlabeled Channel = iota
	// ChannelX is the first labeled waveform stream.
	ChannelX
	// ChannelY is the second labeled waveform stream.
	ChannelY
	// ChannelZ is the third labeled waveform stream.
	ChannelZ
)

// String returns the wire marker for the channel ("" for unlabeled).
func (c Channel) String() string {
	switch c {
	case ChannelX:
		return "X"
	case ChannelY:
		return "Y"
	case ChannelZ:
		return "Z"
	default:
		return "unlabeled"
	}
}

// Metadata keys attached to transport-decoded samples.
const (
	MetaSource      = "source"      // transport identity
	MetaRaw         = "raw"         // bool, always true for transport-decoded samples
	MetaBatchIndex  = "batchIndex"  // position of the sample within its channel batch
	MetaBatchSize   = "batchSize"   // number of samples in the channel batch
	MetaTemperature = "temperature" // optional, from the T<int>H<int>V<int> prefix
	MetaHumidity    = "humidity"    // optional
	MetaVoltage     = "voltage"     // optional
)

// Sample is one scalar reading. Amplitude is always a parsed number, never
// text; Timestamp is synthesized from the frame's arrival instant.
type Sample struct {
	Amplitude float64        `json:"amplitude"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   Channel        `json:"channel"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Batch is the ordered set of samples produced from one frame, across all of
// its channels. Samples from the same channel appear in wire order.
type Batch []Sample

// ByChannel splits the batch into per-channel sub-batches, preserving order.
func (b Batch) ByChannel() map[Channel]Batch {
	out := make(map[Channel]Batch)
	for _, s := range b {
		out[s.Channel] = append(out[s.Channel], s)
	}
	return out
}
