package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"vital-watch/internal/models"
	"vital-watch/internal/vitals"
)

// ContentType is the MIME type of a CSV download.
const ContentType = "text/csv;charset=utf-8"

const isoMillis = "2006-01-02T15:04:05.000Z"

var Header = []string{
	"timestamp", "temperature", "alertLevel", "heartRate", "spo2",
	"latitude", "longitude", "avgEcg", "systolicBP", "diastolicBP",
}

// Exporter renders feeds as CSV or XLSX, recomputing blood pressure per record.
type Exporter struct {
	estimator *vitals.Estimator
}

func NewExporter(estimator *vitals.Estimator) *Exporter {
	return &Exporter{estimator: estimator}
}

// Row is one exported record. Numeric cells that did not parse are nil.
type Row struct {
	Timestamp time.Time
	Cells     []*float64
}

// Rows keeps the order of records. Cells follow Header after the timestamp.
func (e *Exporter) Rows(records []models.FeedRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		bp := e.estimator.ForRecord(rec)
		sys, dia := float64(bp.Systolic), float64(bp.Diastolic)
		rows = append(rows, Row{
			Timestamp: rec.CreatedAt,
			Cells: []*float64{
				vitals.Measure(rec.Field1).Ptr(),
				alertCell(rec.Field2),
				vitals.Measure(rec.Field3).Ptr(),
				vitals.Measure(rec.Field4).Ptr(),
				vitals.Measure(rec.Field5).Ptr(),
				vitals.Measure(rec.Field6).Ptr(),
				vitals.Measure(rec.Field7).Ptr(),
				&sys,
				&dia,
			},
		})
	}
	return rows
}

func (e *Exporter) WriteCSV(w io.Writer, records []models.FeedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	line := make([]string, len(Header))
	for _, row := range e.Rows(records) {
		line[0] = ISOTimestamp(row.Timestamp)
		for i, cell := range row.Cells {
			line[i+1] = formatCell(cell)
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e *Exporter) CSV(records []models.FeedRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile stores data under dir and returns the full path. Only the base of filename is used.
func WriteFile(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir %s: %w", dir, err)
	}
	fullPath := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("write export %s: %w", fullPath, err)
	}
	return fullPath, nil
}

// Filename builds a default export name such as vitals_42_20240501T100000Z.csv.
func Filename(channelID string, at time.Time, ext string) string {
	return fmt.Sprintf("vitals_%s_%s.%s", channelID, at.UTC().Format("20060102T150405Z"), ext)
}

func ISOTimestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

func alertCell(f models.Field) *float64 {
	v, ok := vitals.ParseInt(string(f))
	if !ok {
		return nil
	}
	fv := float64(v)
	return &fv
}

func formatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
