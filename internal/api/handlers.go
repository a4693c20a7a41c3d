package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vital-watch/internal/export"
	"vital-watch/internal/feed"
	"vital-watch/internal/handler"
	"vital-watch/internal/models"
	"vital-watch/internal/recorder"

	"github.com/go-chi/chi/v5"
)

type VitalsService interface {
	Snapshot(channelID string) (models.Snapshot, bool)
	PollChannel(ctx context.Context, channelID string) (models.Snapshot, error)
	SetOverride(channelID string, level int) error
	ClearOverride(channelID string)
}

type HistoryService interface {
	Assemble(ctx context.Context, channelID string, days int) (models.HistoricalSeries, error)
}

// ExportSource fetches the records behind a file export.
type ExportSource interface {
	Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error)
	Window(ctx context.Context, channelID string, days, results int) ([]models.FeedRecord, error)
}

type PatientSource interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
}

type LoggerService interface {
	Get(channelID string) *recorder.Logger
	Start(channelID string) error
	Stop(channelID string)
}

type Deps struct {
	Vitals   VitalsService
	History  HistoryService
	Feeds    ExportSource
	Patients PatientSource
	Loggers  LoggerService
	Exporter *export.Exporter
	// ExportResults caps how many records a file export fetches.
	ExportResults int
	HistoryDays   int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	deps Deps
	now  func() time.Time
}

func NewHandlers(deps Deps) *Handlers {
	if deps.ExportResults <= 0 {
		deps.ExportResults = 8000
	}
	if deps.HistoryDays <= 0 {
		deps.HistoryDays = 1
	}
	return &Handlers{deps: deps, now: time.Now}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vital-watch",
		"time":    h.now().UTC().Format(time.RFC3339),
	})
}

type patientView struct {
	models.Patient
	ChannelID string `json:"channelId"`
}

func (h *Handlers) ListPatients(w http.ResponseWriter, r *http.Request) {
	if h.deps.Patients == nil {
		respondError(w, http.StatusNotFound, "patient registry is not configured")
		return
	}
	patients, err := h.deps.Patients.ListPatients(r.Context())
	if err != nil {
		log.Printf("Failed to list patients: %v", err)
		respondError(w, http.StatusBadGateway, "patient registry unavailable")
		return
	}
	views := make([]patientView, 0, len(patients))
	for _, p := range patients {
		views = append(views, patientView{Patient: p, ChannelID: p.ChannelID()})
	}
	respond(w, http.StatusOK, views)
}

// GetVitals returns the cached snapshot, polling the provider when there is none or
// when refresh=true.
func (h *Handlers) GetVitals(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if r.URL.Query().Get("refresh") != "true" {
		if snapshot, ok := h.deps.Vitals.Snapshot(channelID); ok {
			respond(w, http.StatusOK, snapshot)
			return
		}
	}
	snapshot, err := h.deps.Vitals.PollChannel(r.Context(), channelID)
	if err != nil {
		respondFailure(w, channelID, err)
		return
	}
	respond(w, http.StatusOK, snapshot)
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	days, ok := intParam(r, "days", h.deps.HistoryDays)
	if !ok {
		respondError(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	series, err := h.deps.History.Assemble(r.Context(), channelID, days)
	if err != nil {
		respondFailure(w, channelID, err)
		return
	}
	respond(w, http.StatusOK, series)
}

func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	records, ok := h.exportRecords(w, r, channelID)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.deps.Exporter.WriteCSV(&buf, records); err != nil {
		respondFailure(w, channelID, err)
		return
	}
	attach(w, export.ContentType, h.filename(r, channelID, "csv"), buf.Bytes())
}

func (h *Handlers) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	records, ok := h.exportRecords(w, r, channelID)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.deps.Exporter.WriteXLSX(&buf, records); err != nil {
		respondFailure(w, channelID, err)
		return
	}
	attach(w, export.XLSXContentType, h.filename(r, channelID, "xlsx"), buf.Bytes())
}

// exportRecords fetches the latest ExportResults records, or a days window when days is given.
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request, channelID string) ([]models.FeedRecord, bool) {
	var (
		records []models.FeedRecord
		err     error
	)
	if r.URL.Query().Has("days") {
		days, ok := intParam(r, "days", 1)
		if !ok || days <= 0 {
			respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return nil, false
		}
		records, err = h.deps.Feeds.Window(r.Context(), channelID, days, h.deps.ExportResults)
	} else {
		records, err = h.deps.Feeds.Latest(r.Context(), channelID, h.deps.ExportResults)
	}
	if err != nil {
		respondFailure(w, channelID, err)
		return nil, false
	}
	return records, true
}

type overrideRequest struct {
	Level *int `json:"level"`
}

func (h *Handlers) SetOverride(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == nil {
		respondError(w, http.StatusBadRequest, "body must be {\"level\": 0|1|2}")
		return
	}
	if err := h.deps.Vitals.SetOverride(channelID, *req.Level); err != nil {
		respondFailure(w, channelID, err)
		return
	}
	h.respondOverride(w, channelID)
}

func (h *Handlers) ClearOverride(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	h.deps.Vitals.ClearOverride(channelID)
	h.respondOverride(w, channelID)
}

func (h *Handlers) respondOverride(w http.ResponseWriter, channelID string) {
	if snapshot, ok := h.deps.Vitals.Snapshot(channelID); ok {
		respond(w, http.StatusOK, snapshot)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loggerState struct {
	ChannelID string `json:"channelId"`
	IsLogging bool   `json:"isLogging"`
	Buffered  int    `json:"buffered"`
}

func stateOf(l *recorder.Logger) loggerState {
	return loggerState{ChannelID: l.ChannelID(), IsLogging: l.IsLogging(), Buffered: l.Buffered()}
}

func (h *Handlers) GetLogger(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, stateOf(h.deps.Loggers.Get(chi.URLParam(r, "channelId"))))
}

func (h *Handlers) StartLogger(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if err := h.deps.Loggers.Start(channelID); err != nil {
		respondFailure(w, channelID, err)
		return
	}
	respond(w, http.StatusOK, stateOf(h.deps.Loggers.Get(channelID)))
}

func (h *Handlers) StopLogger(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	h.deps.Loggers.Stop(channelID)
	respond(w, http.StatusOK, stateOf(h.deps.Loggers.Get(channelID)))
}

// ExportLogger downloads the buffered log. With save=true the file is also written to the
// export directory.
func (h *Handlers) ExportLogger(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	l := h.deps.Loggers.Get(channelID)
	if r.URL.Query().Get("save") == "true" {
		path, err := l.ExportToCSV()
		if err != nil {
			respondFailure(w, channelID, err)
			return
		}
		respond(w, http.StatusOK, map[string]string{"path": path})
		return
	}
	data, err := l.CSV()
	if err != nil {
		respondFailure(w, channelID, err)
		return
	}
	attach(w, export.ContentType, h.filename(r, channelID, "csv"), data)
}

func (h *Handlers) ClearLogger(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	l := h.deps.Loggers.Get(channelID)
	if err := l.ClearStoredData(r.Context()); err != nil {
		respondFailure(w, channelID, err)
		return
	}
	respond(w, http.StatusOK, stateOf(l))
}

func (h *Handlers) filename(r *http.Request, channelID, ext string) string {
	name := filepath.Base(strings.TrimSpace(r.URL.Query().Get("filename")))
	if name == "" || name == "." || name == "/" {
		return export.Filename(channelID, h.now(), ext)
	}
	if !strings.HasSuffix(strings.ToLower(name), "."+ext) {
		name += "." + ext
	}
	return name
}

// Helper functions

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

// respondFailure maps pipeline errors so the dashboard can tell "no data" from
// "connection problem".
func respondFailure(w http.ResponseWriter, channelID string, err error) {
	var fe *feed.FetchError
	switch {
	case errors.Is(err, feed.ErrMissingChannel), errors.Is(err, handler.ErrInvalidAlertLevel):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, feed.ErrNoData), errors.Is(err, recorder.ErrNothingToExport):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &fe):
		log.Printf("[%s] Provider fetch failed: %v", channelID, err)
		respondError(w, http.StatusBadGateway, "connection problem")
	default:
		log.Printf("[%s] Request failed: %v", channelID, err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func attach(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func intParam(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
