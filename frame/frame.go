// Package frame implements the wire grammar of the seismic sensor protocol.
//
// The protocol is an ad-hoc ASCII line grammar, comma-separated, with frames
// delimited by the transport (newline on the serial line, one message per
// WebSocket frame). A frame carries one to three synchronized waveform
// channels plus optional environmental metadata:
//
//	3.14                          one unlabeled sample
//	1.0,2.0,3.0                   three unlabeled samples
//	X1.0,2.0,3.0                  three X samples
//	X1.0,2.0,Y0.5,0.6             dual waveform
//	X1.0,2.0,Y0.5,Y0.6,Z2.1,2.2   triple waveform
//	T25H60V90,X1.0,2.0,Y0.5,0.6   metadata prefix + channels
//
// The push transport additionally carries a structured JSON envelope
// {"type": ..., "payload": ...}; only envelopes of a recognized type are
// forwarded, others are ignored.
//
// Decode is stateless: one text unit in, one tagged Result out. Encode is the
// symmetric inverse, used for simulated and test traffic.
package frame

import (
	"time"

	"github.com/svjp05/seismic-web-server/telemetry"
)

// Separator is the field separator of the line grammar.
const Separator = ","

// EnvelopeTypeData is the only envelope type forwarded to channel processing.
const EnvelopeTypeData = "earthquake-data"

// Kind discriminates the variants of a decoded unit.
type Kind int

const (
	// KindNoData means the unit decoded to zero valid samples. Not an error.
	KindNoData Kind = iota
	// KindBare is a single unlabeled numeric sample.
	KindBare
	// KindMultiChannel is a line-grammar frame with one or more channel
	// segments (labeled or a single unlabeled segment).
	KindMultiChannel
	// KindEnvelope is a structured JSON envelope of a recognized type.
	KindEnvelope
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBare:
		return "bare"
	case KindMultiChannel:
		return "multichannel"
	case KindEnvelope:
		return "envelope"
	default:
		return "nodata"
	}
}

// Metadata holds the optional environmental prefix of a frame. Fields are nil
// when the prefix was absent or partial.
type Metadata struct {
	Temperature *int
	Humidity    *int
	Voltage     *int
}

// Empty reports whether no metadata field was present.
func (m Metadata) Empty() bool {
	return m.Temperature == nil && m.Humidity == nil && m.Voltage == nil
}

// Segment is one channel's ordered list of parsed amplitudes within a frame.
// Tokens that failed numeric parsing have already been dropped.
type Segment struct {
	Channel telemetry.Channel
	Values  []float64
}

// Envelope is a decoded structured control message from the push transport.
type Envelope struct {
	Type    string          `json:"type"`
	Payload EnvelopePayload `json:"payload"`
}

// EnvelopePayload carries a single pre-decoded sample. Amplitude accepts
// either a JSON number or a numeric string on the wire.
type EnvelopePayload struct {
	Amplitude Number         `json:"amplitude"`
	Timestamp int64          `json:"timestamp,omitempty"` // unix milliseconds, 0 = unset
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Time returns the payload timestamp, or the zero time when unset.
func (p EnvelopePayload) Time() time.Time {
	if p.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.Timestamp)
}

// Result is the tagged decode variant. Exactly one of the payload fields is
// meaningful, selected by Kind:
//
//	KindNoData       nothing
//	KindBare         Segments (one unlabeled segment of one value)
//	KindMultiChannel Segments and Meta
//	KindEnvelope     Envelope
type Result struct {
	Kind     Kind
	Meta     Metadata
	Segments []Segment
	Envelope *Envelope
}

// Empty reports whether the result carries no samples at all.
func (r Result) Empty() bool {
	if r.Kind == KindEnvelope {
		return r.Envelope == nil
	}
	for _, seg := range r.Segments {
		if len(seg.Values) > 0 {
			return false
		}
	}
	return true
}

// SampleCount returns the total number of decoded samples across segments.
func (r Result) SampleCount() int {
	if r.Kind == KindEnvelope {
		if r.Envelope != nil {
			return 1
		}
		return 0
	}
	n := 0
	for _, seg := range r.Segments {
		n += len(seg.Values)
	}
	return n
}
