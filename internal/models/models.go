package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Unavailable is what the dashboard shows for a reading that could not be parsed.
const Unavailable = "--"

// Field is one opaque provider field. The provider sends strings, bare numbers or null.
type Field string

func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Field(s)
		return nil
	}
	*f = Field(data)
	return nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

// FeedRecord is one timestamped sample from a telemetry channel.
//
// field1=temperature, field2=alert level, field3=heart rate, field4=spo2,
// field5=latitude, field6=longitude, field7=avg ECG, field8=ECG samples (JSON array).
type FeedRecord struct {
	CreatedAt time.Time `json:"created_at"`
	EntryID   int64     `json:"entry_id,omitempty"`
	Field1    Field     `json:"field1"`
	Field2    Field     `json:"field2"`
	Field3    Field     `json:"field3"`
	Field4    Field     `json:"field4"`
	Field5    Field     `json:"field5"`
	Field6    Field     `json:"field6"`
	Field7    Field     `json:"field7"`
	Field8    Field     `json:"field8"`
}

// FeedResponse is the body of GET /{channel}/feeds.json.
type FeedResponse struct {
	Channel json.RawMessage `json:"channel,omitempty"`
	Feeds   []FeedRecord    `json:"feeds"`
}

// Measurement is a numeric reading that may be unavailable.
type Measurement struct {
	Value float64
	Valid bool
}

func Available(v float64) Measurement {
	return Measurement{Value: v, Valid: true}
}

// Display renders the value with the given number of decimals, or Unavailable.
// A negative precision uses the shortest representation.
func (m Measurement) Display(precision int) string {
	if !m.Valid {
		return Unavailable
	}
	return strconv.FormatFloat(m.Value, 'f', precision, 64)
}

// Ptr returns nil for an unavailable reading.
func (m Measurement) Ptr() *float64 {
	if !m.Valid {
		return nil
	}
	v := m.Value
	return &v
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measurement) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Measurement{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Available(v)
	return nil
}

type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// Vitals is the typed view of one FeedRecord.
type Vitals struct {
	Timestamp   time.Time     `json:"timestamp"`
	Temperature Measurement   `json:"temperature"`
	AlertLevel  int           `json:"alertLevel"`
	HeartRate   Measurement   `json:"heartRate"`
	SpO2        Measurement   `json:"spo2"`
	AvgECG      Measurement   `json:"avgEcg"`
	ECGSamples  []float64     `json:"ecgSamples"`
	BP          BloodPressure `json:"bp"`
}

// Location is the best known position of a channel's wearer.
type Location struct {
	Lat         *float64  `json:"lat"`
	Lng         *float64  `json:"lng"`
	Accuracy    float64   `json:"accuracy"`
	IsLastKnown bool      `json:"isLastKnown"`
	Timestamp   time.Time `json:"timestamp"`
}

type Band string

const (
	BandNormal   Band = "Normal"
	BandLow      Band = "Low"
	BandElevated Band = "Elevated"
	BandUnknown  Band = "Unknown"
)

const (
	AlertNormal       = "Normal"
	AlertModerateRisk = "Moderate Risk"
	AlertHighRisk     = "High Risk"
)

type VitalStatus struct {
	Temperature   Band `json:"temperature"`
	HeartRate     Band `json:"heartRate"`
	SpO2          Band `json:"spo2"`
	BloodPressure Band `json:"bloodPressure"`
}

// Snapshot is the current-vitals view handed to the dashboard.
type Snapshot struct {
	ChannelID           string      `json:"channelId"`
	Vitals              Vitals      `json:"vitals"`
	Status              VitalStatus `json:"status"`
	AlertLevel          int         `json:"alertLevel"`
	Override            *int        `json:"override,omitempty"`
	EffectiveAlertLevel int         `json:"effectiveAlertLevel"`
	AlertStatus         string      `json:"alertStatus"`
	Location            Location    `json:"location"`
	FetchedAt           time.Time   `json:"fetchedAt"`
}

type BPPoint struct {
	Systolic  *int `json:"systolic"`
	Diastolic *int `json:"diastolic"`
}

// HistoricalSeries holds index-aligned per-field series. A nil entry means that field was
// unparseable at that instant.
type HistoricalSeries struct {
	Timestamps  []time.Time `json:"timestamps"`
	Temperature []*float64  `json:"temperature"`
	HeartRate   []*float64  `json:"heartRate"`
	SpO2        []*float64  `json:"spo2"`
	AvgECG      []*float64  `json:"avgEcg"`
	BP          []BPPoint   `json:"bp"`
}

// LoggingBuffer is the persisted accumulation of a channel's continuous log.
type LoggingBuffer struct {
	Feeds []FeedRecord `json:"feeds"`
}

// Patient is one entry of the patient registry.
type Patient struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	PhoneNumber string          `json:"phone_number"`
	UniqueID    int64           `json:"unique_id"`
	Age         int             `json:"age"`
	Medications json.RawMessage `json:"medications,omitempty"`
}

// ChannelID is the telemetry channel bound to the patient.
func (p Patient) ChannelID() string {
	if p.UniqueID == 0 {
		return ""
	}
	return strconv.FormatInt(p.UniqueID, 10)
}

// CommandPayload arrives on the MQTT control topics and the Kafka command topic.
type CommandPayload struct {
	ChannelID string `json:"channelId"`
	Action    string `json:"action"`
	Level     *int   `json:"level,omitempty"`
}

const (
	ActionOverride      = "override"
	ActionClearOverride = "clear_override"
	ActionLoggerStart   = "logger_start"
	ActionLoggerStop    = "logger_stop"
	ActionLoggerExport  = "logger_export"
	ActionLoggerClear   = "logger_clear"
)

// LoggingSession is the persisted state of a channel's continuous logger.
type LoggingSession struct {
	ChannelID      string
	Status         string
	StartTime      int64
	EndTime        *int64
	LastRecordTime *int64
}
