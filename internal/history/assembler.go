package history

import (
	"context"
	"fmt"
	"time"

	"vital-watch/internal/feed"
	"vital-watch/internal/models"
	"vital-watch/internal/vitals"
)

// WindowSource is the part of the provider client the assembler needs.
type WindowSource interface {
	Window(ctx context.Context, channelID string, days, results int) ([]models.FeedRecord, error)
}

// Assembler builds chart series from a bounded window of records. The day count bounds the
// provider query; renderCap bounds how many records end up in the series.
type Assembler struct {
	source    WindowSource
	estimator *vitals.Estimator
	renderCap int
}

func NewAssembler(source WindowSource, estimator *vitals.Estimator, renderCap int) *Assembler {
	if renderCap <= 0 {
		renderCap = 15
	}
	return &Assembler{source: source, estimator: estimator, renderCap: renderCap}
}

// Assemble fails with feed.ErrNoData when the window is empty.
func (a *Assembler) Assemble(ctx context.Context, channelID string, days int) (models.HistoricalSeries, error) {
	if channelID == "" {
		return models.HistoricalSeries{}, feed.ErrMissingChannel
	}
	if days <= 0 {
		days = 1
	}
	records, err := a.source.Window(ctx, channelID, days, a.renderCap)
	if err != nil {
		return models.HistoricalSeries{}, fmt.Errorf("history for channel %s: %w", channelID, err)
	}
	if len(records) == 0 {
		return models.HistoricalSeries{}, fmt.Errorf("history for channel %s: %w", channelID, feed.ErrNoData)
	}
	if len(records) > a.renderCap {
		records = records[len(records)-a.renderCap:]
	}
	return Build(records, a.estimator), nil
}

// Build converts records, oldest first, into index-aligned series. Every record contributes
// one index; an unparseable field leaves a nil at that index only.
func Build(records []models.FeedRecord, estimator *vitals.Estimator) models.HistoricalSeries {
	n := len(records)
	s := models.HistoricalSeries{
		Timestamps:  make([]time.Time, 0, n),
		Temperature: make([]*float64, 0, n),
		HeartRate:   make([]*float64, 0, n),
		SpO2:        make([]*float64, 0, n),
		AvgECG:      make([]*float64, 0, n),
		BP:          make([]models.BPPoint, 0, n),
	}
	for _, rec := range records {
		s.Timestamps = append(s.Timestamps, rec.CreatedAt)
		s.Temperature = append(s.Temperature, vitals.Measure(rec.Field1).Ptr())
		s.HeartRate = append(s.HeartRate, vitals.Measure(rec.Field3).Ptr())
		s.SpO2 = append(s.SpO2, vitals.Measure(rec.Field4).Ptr())
		s.AvgECG = append(s.AvgECG, vitals.Measure(rec.Field7).Ptr())

		bp := estimator.ForRecord(rec)
		sys, dia := bp.Systolic, bp.Diastolic
		s.BP = append(s.BP, models.BPPoint{Systolic: &sys, Diastolic: &dia})
	}
	return s
}
