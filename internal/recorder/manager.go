package recorder

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"vital-watch/internal/database"
	"vital-watch/internal/export"
)

// Manager owns one Logger per channel. Loggers it starts run until Stop or until the
// context given to NewManager ends.
type Manager struct {
	ctx      context.Context
	source   FeedSource
	store    database.KVStore
	sessions SessionStore
	exporter *export.Exporter
	opts     Options

	mu      sync.Mutex
	loggers map[string]*Logger
}

func NewManager(ctx context.Context, source FeedSource, store database.KVStore, sessions SessionStore, exporter *export.Exporter, opts Options) *Manager {
	return &Manager{
		ctx:      ctx,
		source:   source,
		store:    store,
		sessions: sessions,
		exporter: exporter,
		opts:     opts,
		loggers:  make(map[string]*Logger),
	}
}

// Get returns the channel's logger, creating a stopped one on first use.
func (m *Manager) Get(channelID string) *Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loggers[channelID]
	if !ok {
		l = New(channelID, m.source, m.store, m.sessions, m.exporter, m.opts)
		m.loggers[channelID] = l
	}
	return l
}

func (m *Manager) Start(channelID string) error {
	return m.Get(channelID).Start(m.ctx)
}

func (m *Manager) Stop(channelID string) {
	m.Get(channelID).Stop()
}

// Restore restarts every logger whose session was still running at shutdown. The first
// fetch of each restored logger runs in the background.
func (m *Manager) Restore() error {
	if m.sessions == nil {
		return nil
	}
	sessions, err := m.sessions.GetActiveSessions()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		l := m.Get(s.ChannelID)
		if s.LastRecordTime != nil {
			l.SetCursor(time.Unix(*s.LastRecordTime, 0).UTC())
		}
		if err := l.StartInBackground(m.ctx); err != nil {
			log.Printf("[%s] Failed to restore continuous logging: %v", s.ChannelID, err)
		}
	}
	log.Printf("Restored %d continuous logging session(s).", len(sessions))
	return nil
}

// Active lists the channels currently logging.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, l := range m.loggers {
		if l.IsLogging() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
