package frame

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/svjp05/seismic-web-server/errors"
)

// formatValue renders an amplitude the way the sensor firmware does.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// EncodeValue encodes a single unlabeled sample.
func EncodeValue(v float64) string {
	return formatValue(v)
}

// EncodeSeries encodes an unlabeled multi-sample frame.
func EncodeSeries(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, Separator)
}

// EncodeChannels encodes a labeled frame in the fixed wire order
// T…H…V…,X…,Y…,Z…. The metadata prefix is emitted only when meta carries at
// least one field. A frame with a Y or Z segment must also have an X segment;
// violating the channel order invariant is an error, not a best-effort frame.
func EncodeChannels(meta Metadata, x, y, z []float64) (string, error) {
	if len(x) == 0 && (len(y) > 0 || len(z) > 0) {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: Y/Z without X", errors.ErrOrphanChannel),
			"frame", "EncodeChannels", "channel order check")
	}

	var parts []string
	if !meta.Empty() {
		parts = append(parts, encodeMetaPrefix(meta))
	}

	appendSegment := func(marker string, values []float64) {
		for i, v := range values {
			if i == 0 {
				parts = append(parts, marker+formatValue(v))
			} else {
				parts = append(parts, formatValue(v))
			}
		}
	}

	appendSegment("X", x)
	appendSegment("Y", y)
	appendSegment("Z", z)

	return strings.Join(parts, Separator), nil
}

// encodeMetaPrefix renders the T<int>H<int>V<int> header, skipping absent
// fields.
func encodeMetaPrefix(meta Metadata) string {
	var b strings.Builder
	if meta.Temperature != nil {
		fmt.Fprintf(&b, "T%d", *meta.Temperature)
	}
	if meta.Humidity != nil {
		fmt.Fprintf(&b, "H%d", *meta.Humidity)
	}
	if meta.Voltage != nil {
		fmt.Fprintf(&b, "V%d", *meta.Voltage)
	}
	return b.String()
}

// EncodeEnvelope encodes a structured envelope for the push transport.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapInvalid(err, "frame", "EncodeEnvelope", "marshal envelope")
	}
	return data, nil
}
