package frame

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/telemetry"
)

// segState tracks the channel tokenizer position. Channel order on the wire
// is fixed: X first, then Y, then Z.
type segState int

const (
	expectPrefix segState = iota // before any channel marker
	expectX                      // consuming X tokens; Y or Z marker may follow
	expectY                      // consuming Y tokens; Z marker may follow
	expectZ                      // consuming Z tokens; no marker may follow
)

// Decode parses one raw text unit into a Result.
//
// Units that look like JSON (leading '{' or '[') take the envelope path: a
// malformed document is an error, an unrecognized envelope type decodes to
// KindNoData without error. Everything else goes through the line grammar,
// where individual non-numeric tokens are dropped from their channel without
// failing the frame. A unit that yields zero valid samples decodes to
// KindNoData; "no data" is a result, not an error.
func Decode(unit string) (Result, error) {
	s := strings.TrimSpace(unit)
	if s == "" {
		return Result{Kind: KindNoData}, nil
	}

	if s[0] == '{' || s[0] == '[' {
		return decodeEnvelope(s)
	}

	if !strings.Contains(s, Separator) {
		return decodeBare(s), nil
	}

	fields := strings.Split(s, Separator)

	meta, ok := scanMetaPrefix(fields[0])
	if ok {
		fields = fields[1:]
		if len(fields) == 0 {
			return Result{Kind: KindNoData}, nil
		}
	}

	if startsChannel(fields[0], 'X') {
		segments := scanChannels(fields)
		res := Result{Kind: KindMultiChannel, Meta: meta, Segments: segments}
		if res.Empty() {
			return Result{Kind: KindNoData}, nil
		}
		return res, nil
	}

	// No X segment: a stray Y or Z marker is a distinct error rather than a
	// silent reinterpretation as unlabeled data.
	for _, f := range fields {
		if startsChannel(f, 'Y') || startsChannel(f, 'Z') {
			return Result{Kind: KindNoData}, errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrOrphanChannel, f),
				"frame", "Decode", "channel order check")
		}
	}

	values := parseTokens(fields)
	if len(values) == 0 {
		return Result{Kind: KindNoData}, nil
	}
	return Result{
		Kind: KindMultiChannel,
		Meta: meta,
		Segments: []Segment{
			{Channel: telemetry.ChannelUnlabeled, Values: values},
		},
	}, nil
}

// decodeBare handles a unit with no separator: a single bare number.
func decodeBare(s string) Result {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Result{Kind: KindNoData}
	}
	return Result{
		Kind: KindBare,
		Segments: []Segment{
			{Channel: telemetry.ChannelUnlabeled, Values: []float64{v}},
		},
	}
}

// decodeEnvelope handles the structured JSON control path.
func decodeEnvelope(s string) (Result, error) {
	if s[0] == '[' {
		// JSON arrays are syntactically valid control traffic but carry no
		// recognized envelope, so they are ignored without error.
		var probe []json.RawMessage
		if err := json.Unmarshal([]byte(s), &probe); err != nil {
			return Result{Kind: KindNoData}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidEnvelope, err),
				"frame", "Decode", "envelope unmarshal")
		}
		return Result{Kind: KindNoData}, nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Result{Kind: KindNoData}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidEnvelope, err),
			"frame", "Decode", "envelope unmarshal")
	}

	if env.Type != EnvelopeTypeData {
		return Result{Kind: KindNoData}, nil
	}
	return Result{Kind: KindEnvelope, Envelope: &env}, nil
}

// scanMetaPrefix parses a T<int>H<int>V<int> metadata field. A field
// qualifies when it starts with 'T' followed by a digit. Missing trailing
// groups produce partial metadata with nil fields; they do not disqualify the
// prefix.
func scanMetaPrefix(field string) (Metadata, bool) {
	f := strings.TrimSpace(field)
	if len(f) < 2 || f[0] != 'T' || !isDigit(f[1]) {
		return Metadata{}, false
	}

	var meta Metadata
	i := 1
	meta.Temperature, i = scanInt(f, i)

	if i < len(f) && f[i] == 'H' {
		meta.Humidity, i = scanInt(f, i+1)
	}
	if i < len(f) && f[i] == 'V' {
		meta.Voltage, i = scanInt(f, i+1)
	}

	// Trailing junk after the recognized groups disqualifies the prefix so
	// the field falls through to token parsing (and is dropped there).
	if i != len(f) {
		return Metadata{}, false
	}
	return meta, true
}

// scanInt reads a decimal integer starting at i. Returns nil when no digits
// are present.
func scanInt(s string, i int) (*int, int) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i == start {
		return nil, i
	}
	v, err := strconv.Atoi(s[start:i])
	if err != nil {
		return nil, i
	}
	return &v, i
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// startsChannel reports whether the field opens a channel segment with the
// given marker.
func startsChannel(field string, marker byte) bool {
	f := strings.TrimSpace(field)
	return len(f) > 0 && f[0] == marker
}

// scanChannels walks the comma-delimited fields with an explicit state
// machine. The first field is known to start with 'X'. Marker characters are
// stripped from the fields that carry them; a segment's subsequent fields may
// optionally repeat the marker. Out-of-order markers are not stripped, so
// those tokens fail numeric parsing and are dropped.
func scanChannels(fields []string) []Segment {
	state := expectX
	var x, y, z []string

	for idx, raw := range fields {
		f := strings.TrimSpace(raw)

		switch state {
		case expectX:
			if idx > 0 && startsChannel(f, 'Y') {
				state = expectY
				y = append(y, f[1:])
				continue
			}
			if idx > 0 && startsChannel(f, 'Z') {
				state = expectZ
				z = append(z, f[1:])
				continue
			}
			if startsChannel(f, 'X') {
				f = f[1:]
			}
			x = append(x, f)

		case expectY:
			if startsChannel(f, 'Z') {
				state = expectZ
				z = append(z, f[1:])
				continue
			}
			if startsChannel(f, 'Y') {
				f = f[1:]
			}
			y = append(y, f)

		case expectZ:
			if startsChannel(f, 'Z') {
				f = f[1:]
			}
			z = append(z, f)
		}
	}

	segments := []Segment{
		{Channel: telemetry.ChannelX, Values: parseTokens(x)},
	}
	if y != nil {
		segments = append(segments, Segment{Channel: telemetry.ChannelY, Values: parseTokens(y)})
	}
	if z != nil {
		segments = append(segments, Segment{Channel: telemetry.ChannelZ, Values: parseTokens(z)})
	}
	return segments
}

// parseTokens numerically parses each token independently, silently dropping
// the ones with no valid numeric form.
func parseTokens(tokens []string) []float64 {
	var out []float64
	for _, tok := range tokens {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
