package vitals

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"

	"vital-watch/internal/models"
)

// ErrMalformedWaveform is returned when field8 is not a JSON array of numbers.
var ErrMalformedWaveform = errors.New("malformed ECG waveform")

var (
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
)

// ParseFloat reads the longest leading decimal number of s, ignoring leading whitespace
// and any trailing text. Non-finite results are reported as not ok.
func ParseFloat(s string) (float64, bool) {
	m := floatPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ParseInt reads the leading integer of s.
func ParseInt(s string) (int64, bool) {
	m := intPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Measure converts a provider field into a Measurement.
func Measure(f models.Field) models.Measurement {
	v, ok := ParseFloat(string(f))
	if !ok {
		return models.Measurement{}
	}
	return models.Available(v)
}

// AlertLevel parses field2. Anything outside 0..2 is the default level 0.
func AlertLevel(f models.Field) int {
	v, ok := ParseInt(string(f))
	if !ok || v < 0 || v > 2 {
		return 0
	}
	return int(v)
}

// ParseECGSamples decodes field8. An empty or null field has no samples; anything else that
// is not a JSON number array is an error.
func ParseECGSamples(f models.Field) ([]float64, error) {
	raw := strings.TrimSpace(string(f))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var samples []float64
	if err := json.Unmarshal([]byte(raw), &samples); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWaveform, err)
	}
	return samples, nil
}

// Waveform returns the record's ECG samples, treating a malformed waveform as absent.
func Waveform(rec models.FeedRecord) []float64 {
	samples, err := ParseECGSamples(rec.Field8)
	if err != nil {
		log.Printf("[entry %d] Ignoring waveform of record at %s: %v", rec.EntryID, rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), err)
		return nil
	}
	return samples
}

// Parser turns feed records into Vitals.
type Parser struct {
	estimator *Estimator
}

func NewParser(estimator *Estimator) *Parser {
	return &Parser{estimator: estimator}
}

func (p *Parser) Parse(rec models.FeedRecord) models.Vitals {
	v := models.Vitals{
		Timestamp:   rec.CreatedAt,
		Temperature: Measure(rec.Field1),
		AlertLevel:  AlertLevel(rec.Field2),
		HeartRate:   Measure(rec.Field3),
		SpO2:        Measure(rec.Field4),
		AvgECG:      Measure(rec.Field7),
		ECGSamples:  Waveform(rec),
	}
	if v.ECGSamples == nil {
		v.ECGSamples = []float64{}
	}
	v.BP = p.estimator.Estimate(v.ECGSamples, v.HeartRate, v.SpO2)
	return v
}
