package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"vital-watch/internal/feed"
	"vital-watch/internal/location"
	"vital-watch/internal/models"
	"vital-watch/internal/recorder"
	"vital-watch/internal/vitals"
)

// ErrInvalidAlertLevel is returned for overrides outside 0..2.
var ErrInvalidAlertLevel = errors.New("alert level must be 0, 1 or 2")

type FeedSource interface {
	Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error)
}

// ChannelSource lists the channels to monitor, usually the patient registry.
type ChannelSource interface {
	ChannelIDs(ctx context.Context) ([]string, error)
}

// Publisher forwards every fresh snapshot, e.g. to MQTT or Kafka.
type Publisher interface {
	PublishSnapshot(snapshot models.Snapshot) error
}

type MonitorOptions struct {
	StaticChannels []string
	// HistoryResults is how many recent records a poll fetches for location fallback.
	HistoryResults int
}

// Monitor keeps the current-vitals snapshot of every channel fresh.
type Monitor struct {
	source         FeedSource
	channelSource  ChannelSource
	staticChannels []string
	historyResults int
	parser         *vitals.Parser
	resolver       *location.Resolver
	loggers        *recorder.Manager
	now            func() time.Time

	publishersMu sync.RWMutex
	publishers   []Publisher

	channels    []string
	snapshots   map[string]models.Snapshot
	overrides   map[string]int
	channelsMu  sync.RWMutex
	snapshotsMu sync.RWMutex
	overridesMu sync.RWMutex
}

func NewMonitor(source FeedSource, channelSource ChannelSource, parser *vitals.Parser, resolver *location.Resolver, loggers *recorder.Manager, opts MonitorOptions, publishers ...Publisher) *Monitor {
	if opts.HistoryResults <= 0 {
		opts.HistoryResults = 20
	}
	return &Monitor{
		source:         source,
		channelSource:  channelSource,
		staticChannels: opts.StaticChannels,
		historyResults: opts.HistoryResults,
		parser:         parser,
		resolver:       resolver,
		loggers:        loggers,
		publishers:     publishers,
		now:            time.Now,
		channels:       append([]string(nil), opts.StaticChannels...),
		snapshots:      make(map[string]models.Snapshot),
		overrides:      make(map[string]int),
	}
}

// AddPublisher registers a publisher for subsequent snapshots.
func (m *Monitor) AddPublisher(p Publisher) {
	m.publishersMu.Lock()
	m.publishers = append(m.publishers, p)
	m.publishersMu.Unlock()
}

// RefreshChannels reloads the channel list from the registry. The static list is kept
// when the registry is unavailable.
func (m *Monitor) RefreshChannels(ctx context.Context) error {
	if m.channelSource == nil {
		return nil
	}
	ids, err := m.channelSource.ChannelIDs(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	var merged []string
	for _, id := range append(append([]string(nil), m.staticChannels...), ids...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	m.channelsMu.Lock()
	m.channels = merged
	m.channelsMu.Unlock()
	return nil
}

func (m *Monitor) Channels() []string {
	m.channelsMu.RLock()
	defer m.channelsMu.RUnlock()
	return append([]string(nil), m.channels...)
}

// PollChannel fetches the latest records of one channel and rebuilds its snapshot.
func (m *Monitor) PollChannel(ctx context.Context, channelID string) (models.Snapshot, error) {
	feeds, err := m.source.Latest(ctx, channelID, m.historyResults)
	if err != nil {
		return models.Snapshot{}, err
	}
	recent := feed.MostRecentFirst(feeds)

	v := m.parser.Parse(recent[0])
	snapshot := models.Snapshot{
		ChannelID:  channelID,
		Vitals:     v,
		Status:     vitals.Classify(v),
		AlertLevel: v.AlertLevel,
		Location:   m.resolver.Resolve(ctx, channelID, recent),
		FetchedAt:  m.now(),
	}
	m.applyOverride(&snapshot)

	m.snapshotsMu.Lock()
	m.snapshots[channelID] = snapshot
	m.snapshotsMu.Unlock()

	m.publishersMu.RLock()
	publishers := m.publishers
	m.publishersMu.RUnlock()
	for _, p := range publishers {
		if err := p.PublishSnapshot(snapshot); err != nil {
			log.Printf("[%s] Failed to publish snapshot: %v", channelID, err)
		}
	}
	return snapshot, nil
}

// Snapshot returns the cached snapshot of a channel.
func (m *Monitor) Snapshot(channelID string) (models.Snapshot, bool) {
	m.snapshotsMu.RLock()
	snapshot, ok := m.snapshots[channelID]
	m.snapshotsMu.RUnlock()
	if !ok {
		return models.Snapshot{}, false
	}
	m.applyOverride(&snapshot)
	return snapshot, true
}

// SetOverride pins the alert level of a channel until ClearOverride.
func (m *Monitor) SetOverride(channelID string, level int) error {
	if channelID == "" {
		return feed.ErrMissingChannel
	}
	if level < 0 || level > 2 {
		return ErrInvalidAlertLevel
	}
	m.overridesMu.Lock()
	m.overrides[channelID] = level
	m.overridesMu.Unlock()
	log.Printf("[%s] Manual alert override set to %q", channelID, vitals.AlertStatus(level))
	return nil
}

func (m *Monitor) ClearOverride(channelID string) {
	m.overridesMu.Lock()
	delete(m.overrides, channelID)
	m.overridesMu.Unlock()
	log.Printf("[%s] Manual alert override cleared", channelID)
}

func (m *Monitor) applyOverride(snapshot *models.Snapshot) {
	m.overridesMu.RLock()
	level, ok := m.overrides[snapshot.ChannelID]
	m.overridesMu.RUnlock()

	snapshot.Override = nil
	if ok {
		snapshot.Override = &level
	}
	snapshot.EffectiveAlertLevel = vitals.EffectiveAlertLevel(snapshot.AlertLevel, snapshot.Override)
	snapshot.AlertStatus = vitals.AlertStatus(snapshot.EffectiveAlertLevel)
}

// RunPollCycle polls every channel immediately and then every interval until ctx ends.
func (m *Monitor) RunPollCycle(ctx context.Context, interval time.Duration) {
	log.Printf("Poll cycle started. Will refresh vitals every %s.", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("Poll cycle stopping.")
			return
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context) {
	if err := m.RefreshChannels(ctx); err != nil {
		log.Printf("Could not refresh channels from registry, keeping %d known channel(s): %v", len(m.Channels()), err)
	}

	channels := m.Channels()
	failures := make(map[string]string)
	var failuresMu sync.Mutex
	var wg sync.WaitGroup
	for _, channelID := range channels {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			if _, err := m.PollChannel(ctx, channelID); err != nil {
				failuresMu.Lock()
				failures[channelID] = describeFailure(err)
				failuresMu.Unlock()
			}
		}(channelID)
	}
	wg.Wait()

	log.Println(m.report(channels, failures))
}

func describeFailure(err error) string {
	var fe *feed.FetchError
	switch {
	case errors.Is(err, feed.ErrNoData):
		return "no data"
	case errors.As(err, &fe):
		return "connection problem"
	default:
		return err.Error()
	}
}

func (m *Monitor) report(channels []string, failures map[string]string) string {
	var report strings.Builder
	report.WriteString("\n--- Vitals Report ---\n")
	report.WriteString(fmt.Sprintf("%-12s | %-13s | %-6s | %-5s | %-5s | %-7s | %-10s\n", "Channel", "Alert", "Temp", "HR", "SpO2", "BP", "Location"))
	report.WriteString(strings.Repeat("-", 76) + "\n")

	if len(channels) == 0 {
		report.WriteString("No channels being monitored.\n")
	}
	sorted := append([]string(nil), channels...)
	sort.Strings(sorted)
	for _, channelID := range sorted {
		if reason, failed := failures[channelID]; failed {
			report.WriteString(fmt.Sprintf("%-12s | %s\n", channelID, reason))
			continue
		}
		snapshot, ok := m.Snapshot(channelID)
		if !ok {
			continue
		}
		loc := "unknown"
		if snapshot.Location.Lat != nil {
			loc = "current"
			if snapshot.Location.IsLastKnown {
				loc = "last known"
			}
		}
		v := snapshot.Vitals
		report.WriteString(fmt.Sprintf(
			"%-12s | %-13s | %-6s | %-5s | %-5s | %-7s | %-10s\n",
			channelID,
			snapshot.AlertStatus,
			v.Temperature.Display(1),
			v.HeartRate.Display(0),
			v.SpO2.Display(0),
			fmt.Sprintf("%d/%d", v.BP.Systolic, v.BP.Diastolic),
			loc,
		))
	}
	if m.loggers != nil {
		if active := m.loggers.Active(); len(active) > 0 {
			report.WriteString(fmt.Sprintf("Continuous logging (%d): [%s]\n", len(active), strings.Join(active, ", ")))
		}
	}
	report.WriteString(strings.Repeat("-", 76))
	return report.String()
}

// RouteCommandMessage decodes a command from MQTT or Kafka and executes it.
func (m *Monitor) RouteCommandMessage(msgValue []byte) {
	var cmd models.CommandPayload
	if err := json.Unmarshal(msgValue, &cmd); err != nil {
		log.Printf("Error unmarshalling command message: %v. Raw message: %s", err, string(msgValue))
		return
	}
	if err := m.ExecuteCommand(cmd); err != nil {
		log.Printf("[%s] Command %q failed: %v", cmd.ChannelID, cmd.Action, err)
	}
}

func (m *Monitor) ExecuteCommand(cmd models.CommandPayload) error {
	if cmd.ChannelID == "" {
		return feed.ErrMissingChannel
	}
	switch cmd.Action {
	case models.ActionOverride:
		if cmd.Level == nil {
			return ErrInvalidAlertLevel
		}
		return m.SetOverride(cmd.ChannelID, *cmd.Level)
	case models.ActionClearOverride:
		m.ClearOverride(cmd.ChannelID)
		return nil
	}

	if m.loggers == nil {
		return fmt.Errorf("continuous logging is not configured")
	}
	switch cmd.Action {
	case models.ActionLoggerStart:
		return m.loggers.Start(cmd.ChannelID)
	case models.ActionLoggerStop:
		m.loggers.Stop(cmd.ChannelID)
		return nil
	case models.ActionLoggerExport:
		path, err := m.loggers.Get(cmd.ChannelID).ExportToCSV()
		if err != nil {
			return err
		}
		log.Printf("[%s] Exported continuous log to %s", cmd.ChannelID, path)
		return nil
	case models.ActionLoggerClear:
		return m.loggers.Get(cmd.ChannelID).ClearStoredData(context.Background())
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}
