package vitals

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"vital-watch/internal/models"
)

const (
	// MinWaveformSamples is the shortest waveform that carries usable signal.
	MinWaveformSamples = 10

	// 0.5 mV is taken as the spread of a resting waveform.
	referenceSpread = 0.5

	baselineSystolic  = 120
	baselineDiastolic = 80
	baselineJitter    = 5

	minSystolic  = 80
	maxSystolic  = 200
	minDiastolic = 40
	maxDiastolic = 120
)

// ECGVariability is the population standard deviation of the samples normalized against
// referenceSpread and capped at 1. Fewer than MinWaveformSamples samples score 0.
func ECGVariability(samples []float64) float64 {
	n := len(samples)
	if n < MinWaveformSamples {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(n)
	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	stdDev := math.Sqrt(sq / float64(n))
	return math.Min(stdDev/referenceSpread, 1)
}

// RandomSource supplies the jitter for the fallback estimate.
type RandomSource interface {
	Intn(n int) int
}

// Estimator derives a heuristic blood pressure from heart rate, SpO2 and ECG variability.
type Estimator struct {
	mu  sync.Mutex
	rnd RandomSource
}

// NewEstimator uses a time-seeded source when rnd is nil.
func NewEstimator(rnd RandomSource) *Estimator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Estimator{rnd: rnd}
}

func (e *Estimator) Estimate(samples []float64, heartRate, spo2 models.Measurement) models.BloodPressure {
	if len(samples) < MinWaveformSamples || !heartRate.Valid {
		return e.baseline()
	}

	hrEffect := heartRateEffect(heartRate.Value)
	spo2Effect := 0.0
	if spo2.Valid && spo2.Value < 95 {
		spo2Effect = 5 * (95 - spo2.Value) / 5
	}
	ecgEffect := ECGVariability(samples) * 10

	systolic := jsRound(baselineSystolic + 0.6*hrEffect + 0.2*spo2Effect + 0.2*ecgEffect)
	diastolic := jsRound(baselineDiastolic + 0.4*hrEffect + 0.1*spo2Effect + 0.1*ecgEffect)

	return models.BloodPressure{
		Systolic:  int(clamp(systolic, minSystolic, maxSystolic)),
		Diastolic: int(clamp(diastolic, minDiastolic, maxDiastolic)),
	}
}

// ForRecord estimates from a record's own fields.
func (e *Estimator) ForRecord(rec models.FeedRecord) models.BloodPressure {
	return e.Estimate(Waveform(rec), Measure(rec.Field3), Measure(rec.Field4))
}

func (e *Estimator) baseline() models.BloodPressure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.BloodPressure{
		Systolic:  baselineSystolic + e.rnd.Intn(2*baselineJitter+1) - baselineJitter,
		Diastolic: baselineDiastolic + e.rnd.Intn(2*baselineJitter+1) - baselineJitter,
	}
}

func heartRateEffect(hr float64) float64 {
	switch {
	case hr < 60:
		return -10 * (1 - hr/60)
	case hr > 100:
		return 15 * (hr - 100) / 50
	default:
		return 0
	}
}

// jsRound rounds half up, as the dashboard always has.
func jsRound(x float64) float64 {
	return math.Floor(x + 0.5)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
