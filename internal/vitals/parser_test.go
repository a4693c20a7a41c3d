package vitals

import (
	"strings"
	"testing"
	"time"

	"vital-watch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same draw, clamped to the requested range.
type fixedSource struct{ n int }

func (f fixedSource) Intn(n int) int {
	if f.n >= n {
		return n - 1
	}
	return f.n
}

func TestParseFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"37.0", 37, true},
		{"37.5abc", 37.5, true},
		{"  72 ", 72, true},
		{"-4.25", -4.25, true},
		{"+3", 3, true},
		{".5", 0.5, true},
		{"5.", 5, true},
		{"1e3", 1000, true},
		{"12.3.4", 12.3, true},
		{"", 0, false},
		{"--", 0, false},
		{"abc12", 0, false},
		{"NaN", 0, false},
		{"Infinity", 0, false},
		{"1e999", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseFloat(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-9, "input %q", tc.in)
		}
	}
}

func TestParseInt(t *testing.T) {
	v, ok := ParseInt("2.9")
	require.True(t, ok)
	assert.EqualValues(t, 2, v)

	_, ok = ParseInt("x1")
	assert.False(t, ok)
}

func TestAlertLevel(t *testing.T) {
	assert.Equal(t, 0, AlertLevel(""))
	assert.Equal(t, 1, AlertLevel("1"))
	assert.Equal(t, 2, AlertLevel("2"))
	assert.Equal(t, 0, AlertLevel("7"))
	assert.Equal(t, 0, AlertLevel("-1"))
	assert.Equal(t, 0, AlertLevel("high"))
}

func TestMeasure_UnavailableNeverNaN(t *testing.T) {
	for _, in := range []models.Field{"", "--", "null", "n/a", "NaN"} {
		m := Measure(in)
		assert.False(t, m.Valid, "input %q", in)
		assert.Equal(t, models.Unavailable, m.Display(1))
		assert.Nil(t, m.Ptr())
	}
}

func TestParseECGSamples(t *testing.T) {
	samples, err := ParseECGSamples("[0.1, 0.2, -0.3]")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, -0.3}, samples)

	samples, err = ParseECGSamples("")
	require.NoError(t, err)
	assert.Empty(t, samples)

	_, err = ParseECGSamples("[0.1, oops")
	require.ErrorIs(t, err, ErrMalformedWaveform)

	_, err = ParseECGSamples(`["a","b"]`)
	require.ErrorIs(t, err, ErrMalformedWaveform)
}

func TestParser_Parse_NormalRecord(t *testing.T) {
	p := NewParser(NewEstimator(fixedSource{}))
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := models.FeedRecord{
		CreatedAt: ts,
		Field1:    "37.0",
		Field2:    "0",
		Field3:    "72",
		Field4:    "98",
		Field7:    "0.12",
		Field8:    models.Field("[" + strings.TrimSuffix(strings.Repeat("0.1,", 12), ",") + "]"),
	}

	v := p.Parse(rec)
	assert.Equal(t, ts, v.Timestamp)
	assert.Equal(t, "37.0", v.Temperature.Display(1))
	assert.Equal(t, 72.0, v.HeartRate.Value)
	assert.Equal(t, 98.0, v.SpO2.Value)
	assert.Len(t, v.ECGSamples, 12)
	assert.Equal(t, models.BloodPressure{Systolic: 120, Diastolic: 80}, v.BP)

	status := Classify(v)
	assert.Equal(t, models.VitalStatus{
		Temperature:   models.BandNormal,
		HeartRate:     models.BandNormal,
		SpO2:          models.BandNormal,
		BloodPressure: models.BandNormal,
	}, status)
	assert.Equal(t, models.AlertNormal, AlertStatus(v.AlertLevel))
}

func TestParser_Parse_MalformedWaveformFallsBack(t *testing.T) {
	p := NewParser(NewEstimator(fixedSource{n: 10}))
	v := p.Parse(models.FeedRecord{Field1: "--", Field3: "72", Field4: "98", Field8: "{broken"})

	assert.False(t, v.Temperature.Valid)
	assert.NotNil(t, v.ECGSamples)
	assert.Empty(t, v.ECGSamples)
	assert.Equal(t, models.BloodPressure{Systolic: 125, Diastolic: 85}, v.BP)
}
