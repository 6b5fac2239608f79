package frame

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/telemetry"
)

func intPtr(i int) *int { return &i }

func TestDecodeBareNumber(t *testing.T) {
	res, err := Decode("3.14")
	require.NoError(t, err)
	assert.Equal(t, KindBare, res.Kind)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, telemetry.ChannelUnlabeled, res.Segments[0].Channel)
	assert.Equal(t, []float64{3.14}, res.Segments[0].Values)
	assert.Equal(t, 1, res.SampleCount())
}

func TestDecodeBareNonNumeric(t *testing.T) {
	res, err := Decode("abc")
	require.NoError(t, err, "non-numeric bare input is no data, not an error")
	assert.Equal(t, KindNoData, res.Kind)
	assert.True(t, res.Empty())
}

func TestDecodeUnlabeledSeries(t *testing.T) {
	res, err := Decode("1.0,2.0,3.0")
	require.NoError(t, err)
	assert.Equal(t, KindMultiChannel, res.Kind)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, telemetry.ChannelUnlabeled, res.Segments[0].Channel)
	assert.Equal(t, []float64{1.0, 2.0, 3.0}, res.Segments[0].Values)
}

func TestDecodeSingleChannel(t *testing.T) {
	res, err := Decode("X1.0,2.0,3.0")
	require.NoError(t, err)
	assert.Equal(t, KindMultiChannel, res.Kind)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, telemetry.ChannelX, res.Segments[0].Channel)
	assert.Equal(t, []float64{1.0, 2.0, 3.0}, res.Segments[0].Values)
}

func TestDecodeDualChannel(t *testing.T) {
	res, err := Decode("X1.0,2.0,Y0.5,0.6")
	require.NoError(t, err)

	want := []Segment{
		{Channel: telemetry.ChannelX, Values: []float64{1.0, 2.0}},
		{Channel: telemetry.ChannelY, Values: []float64{0.5, 0.6}},
	}
	if diff := cmp.Diff(want, res.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTripleChannelRepeatedMarkers(t *testing.T) {
	res, err := Decode("X1.0,2.0,Y0.5,Y0.6,Z2.1,2.2")
	require.NoError(t, err)

	want := []Segment{
		{Channel: telemetry.ChannelX, Values: []float64{1.0, 2.0}},
		{Channel: telemetry.ChannelY, Values: []float64{0.5, 0.6}},
		{Channel: telemetry.ChannelZ, Values: []float64{2.1, 2.2}},
	}
	if diff := cmp.Diff(want, res.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 6, res.SampleCount())
}

func TestDecodeMetadataPrefix(t *testing.T) {
	res, err := Decode("T25H60V90,X1.0,2.0,Y0.5,0.6")
	require.NoError(t, err)
	assert.Equal(t, KindMultiChannel, res.Kind)

	require.NotNil(t, res.Meta.Temperature)
	require.NotNil(t, res.Meta.Humidity)
	require.NotNil(t, res.Meta.Voltage)
	assert.Equal(t, 25, *res.Meta.Temperature)
	assert.Equal(t, 60, *res.Meta.Humidity)
	assert.Equal(t, 90, *res.Meta.Voltage)

	require.Len(t, res.Segments, 2)
	assert.Equal(t, []float64{1.0, 2.0}, res.Segments[0].Values)
	assert.Equal(t, []float64{0.5, 0.6}, res.Segments[1].Values)
}

func TestDecodePartialMetadataPrefix(t *testing.T) {
	res, err := Decode("T5H,X1.0,2.0")
	require.NoError(t, err)
	require.NotNil(t, res.Meta.Temperature)
	assert.Equal(t, 5, *res.Meta.Temperature)
	assert.Nil(t, res.Meta.Humidity)
	assert.Nil(t, res.Meta.Voltage)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, []float64{1.0, 2.0}, res.Segments[0].Values)
}

func TestDecodeMetadataPrefixUnlabeled(t *testing.T) {
	res, err := Decode("T25H60V90,1.0,2.0")
	require.NoError(t, err)
	assert.Equal(t, KindMultiChannel, res.Kind)
	require.NotNil(t, res.Meta.Voltage)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, telemetry.ChannelUnlabeled, res.Segments[0].Channel)
	assert.Equal(t, []float64{1.0, 2.0}, res.Segments[0].Values)
}

func TestDecodeDropsBadTokens(t *testing.T) {
	res, err := Decode("X1.0,garbage,3.0")
	require.NoError(t, err, "a single bad token must not fail the frame")
	require.Len(t, res.Segments, 1)
	assert.Equal(t, []float64{1.0, 3.0}, res.Segments[0].Values)
}

func TestDecodeAllTokensBadIsNoData(t *testing.T) {
	res, err := Decode("X?,!,nope")
	require.NoError(t, err)
	assert.Equal(t, KindNoData, res.Kind)
}

func TestDecodeOrphanChannelIsError(t *testing.T) {
	for _, input := range []string{"Y1.0,2.0", "1.0,Z2.0", "Y0.5,Z0.6"} {
		_, err := Decode(input)
		require.Error(t, err, "input %q", input)
		assert.ErrorIs(t, err, errors.ErrOrphanChannel, "input %q", input)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	res, err := Decode(`{"type":"earthquake-data","payload":{"amplitude":"3.5"}}`)
	require.NoError(t, err)
	assert.Equal(t, KindEnvelope, res.Kind)
	require.NotNil(t, res.Envelope)
	assert.Equal(t, 3.5, res.Envelope.Payload.Amplitude.Float64(),
		"string amplitude must be coerced to a number")
	assert.Equal(t, 1, res.SampleCount())
}

func TestDecodeEnvelopeNumericAmplitude(t *testing.T) {
	res, err := Decode(`{"type":"earthquake-data","payload":{"amplitude":2.25,"timestamp":1700000000000}}`)
	require.NoError(t, err)
	require.NotNil(t, res.Envelope)
	assert.Equal(t, 2.25, res.Envelope.Payload.Amplitude.Float64())
	assert.Equal(t, int64(1700000000000), res.Envelope.Payload.Timestamp)
	assert.False(t, res.Envelope.Payload.Time().IsZero())
}

func TestDecodeEnvelopeUnrecognizedTypeIgnored(t *testing.T) {
	res, err := Decode(`{"type":"heartbeat","payload":{}}`)
	require.NoError(t, err, "unrecognized envelope types are ignored without error")
	assert.Equal(t, KindNoData, res.Kind)
}

func TestDecodeEnvelopeMalformedIsError(t *testing.T) {
	_, err := Decode(`{"type":"earthquake-data","payload":`)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidEnvelope)
	assert.True(t, errors.IsInvalid(err))
}

func TestDecodeJSONArrayIgnored(t *testing.T) {
	res, err := Decode(`[1,2,3]`)
	require.NoError(t, err)
	assert.Equal(t, KindNoData, res.Kind)
}

func TestDecodeEmptyUnit(t *testing.T) {
	for _, input := range []string{"", "   ", "\r\n"} {
		res, err := Decode(input)
		require.NoError(t, err)
		assert.Equal(t, KindNoData, res.Kind)
	}
}

func TestDecodeTripleChannelProperty(t *testing.T) {
	// For triple-channel frames the total sample count is the sum of the
	// per-channel counts and every channel keeps its own length.
	cases := []struct {
		xs, ys, zs []float64
	}{
		{[]float64{1}, []float64{2}, []float64{3}},
		{[]float64{1, 2, 3}, []float64{4, 5}, []float64{6}},
		{[]float64{0.1, -0.2}, []float64{0.3, 0.4}, []float64{-0.5, 0.6}},
	}
	for _, tc := range cases {
		wire, err := EncodeChannels(
			Metadata{Temperature: intPtr(20), Humidity: intPtr(50), Voltage: intPtr(80)},
			tc.xs, tc.ys, tc.zs)
		require.NoError(t, err)

		res, err := Decode(wire)
		require.NoError(t, err, "wire %q", wire)
		require.Len(t, res.Segments, 3, "wire %q", wire)
		assert.Equal(t, tc.xs, res.Segments[0].Values)
		assert.Equal(t, tc.ys, res.Segments[1].Values)
		assert.Equal(t, tc.zs, res.Segments[2].Values)
		assert.Equal(t, len(tc.xs)+len(tc.ys)+len(tc.zs), res.SampleCount())
		assert.Equal(t, 20, *res.Meta.Temperature)
		assert.Equal(t, 50, *res.Meta.Humidity)
		assert.Equal(t, 80, *res.Meta.Voltage)
	}
}

func TestScanMetaPrefixRejectsTrailingJunk(t *testing.T) {
	_, ok := scanMetaPrefix("T25H60V90junk")
	assert.False(t, ok)

	_, ok = scanMetaPrefix("Temperature")
	assert.False(t, ok)

	meta, ok := scanMetaPrefix("T1H2V3")
	require.True(t, ok)
	assert.Equal(t, 1, *meta.Temperature)
	assert.Equal(t, 2, *meta.Humidity)
	assert.Equal(t, 3, *meta.Voltage)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "nodata", KindNoData.String())
	assert.Equal(t, "bare", KindBare.String())
	assert.Equal(t, "multichannel", KindMultiChannel.String())
	assert.Equal(t, "envelope", KindEnvelope.String())
}

func ExampleDecode() {
	res, _ := Decode("T25H60V90,X1.0,2.0,Y0.5,0.6")
	fmt.Println(res.Kind, res.SampleCount(), *res.Meta.Temperature)
	// Output: multichannel 4 25
}
