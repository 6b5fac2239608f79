package frame

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svjp05/seismic-web-server/errors"
)

func TestEncodeValueRoundTrip(t *testing.T) {
	// Round-trip law: encode then decode yields the original value within
	// floating-point tolerance.
	values := []float64{0, 1, -1, 3.14, 0.001, -273.15, 1e6, 1.23456789e-4}
	for _, v := range values {
		res, err := Decode(EncodeValue(v))
		require.NoError(t, err)
		require.Equal(t, KindBare, res.Kind, "value %v", v)
		assert.InDelta(t, v, res.Segments[0].Values[0], 1e-12)
	}
}

func TestEncodeSeriesRoundTrip(t *testing.T) {
	series := []float64{1.5, -2.25, 0, 99.999}
	res, err := Decode(EncodeSeries(series))
	require.NoError(t, err)
	require.Equal(t, KindMultiChannel, res.Kind)
	require.Len(t, res.Segments[0].Values, len(series))
	for i, v := range series {
		assert.InDelta(t, v, res.Segments[0].Values[i], 1e-12)
	}
}

func TestEncodeChannelsWireForm(t *testing.T) {
	wire, err := EncodeChannels(Metadata{}, []float64{1, 2}, []float64{0.5, 0.6}, nil)
	require.NoError(t, err)
	assert.Equal(t, "X1,2,Y0.5,0.6", wire)
}

func TestEncodeChannelsWithMetadata(t *testing.T) {
	meta := Metadata{Temperature: intPtr(25), Humidity: intPtr(60), Voltage: intPtr(90)}
	wire, err := EncodeChannels(meta, []float64{1, 2}, []float64{0.5, 0.6}, []float64{2.1, 2.2})
	require.NoError(t, err)
	assert.Equal(t, "T25H60V90,X1,2,Y0.5,0.6,Z2.1,2.2", wire)
}

func TestEncodeChannelsPartialMetadata(t *testing.T) {
	wire, err := EncodeChannels(Metadata{Temperature: intPtr(7)}, []float64{1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "T7,X1", wire)
}

func TestEncodeChannelsRejectsOrphans(t *testing.T) {
	_, err := EncodeChannels(Metadata{}, nil, []float64{1}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOrphanChannel)

	_, err = EncodeChannels(Metadata{}, nil, nil, []float64{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOrphanChannel)
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Type: EnvelopeTypeData,
		Payload: EnvelopePayload{
			Amplitude: Number(4.2),
			Timestamp: 1700000000000,
			Metadata:  map[string]any{"station": "obs-7"},
		},
	}
	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	res, err := Decode(string(data))
	require.NoError(t, err)
	require.Equal(t, KindEnvelope, res.Kind)
	assert.Equal(t, 4.2, res.Envelope.Payload.Amplitude.Float64())
	assert.Equal(t, env.Payload.Timestamp, res.Envelope.Payload.Timestamp)
	assert.Equal(t, "obs-7", res.Envelope.Payload.Metadata["station"])
}

func TestNumberUnmarshal(t *testing.T) {
	var n Number
	require.NoError(t, json.Unmarshal([]byte(`3.5`), &n))
	assert.Equal(t, 3.5, n.Float64())

	require.NoError(t, json.Unmarshal([]byte(`"3.5"`), &n))
	assert.Equal(t, 3.5, n.Float64())

	require.NoError(t, json.Unmarshal([]byte(`null`), &n))
	assert.Equal(t, 0.0, n.Float64())

	assert.Error(t, json.Unmarshal([]byte(`"not a number"`), &n))
	assert.Error(t, json.Unmarshal([]byte(`true`), &n))
}

func TestFormatValueNoExponentDrift(t *testing.T) {
	// The 'g' format must stay parseable for extreme magnitudes.
	for _, v := range []float64{math.MaxFloat64, math.SmallestNonzeroFloat64} {
		res, err := Decode(EncodeValue(v))
		require.NoError(t, err)
		require.Equal(t, KindBare, res.Kind)
		assert.Equal(t, v, res.Segments[0].Values[0])
	}
}
