package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"vital-watch/internal/database"
	"vital-watch/internal/export"
	"vital-watch/internal/feed"
	"vital-watch/internal/models"
)

// ErrNothingToExport is returned by ExportToCSV when the buffer is empty.
var ErrNothingToExport = errors.New("logging buffer is empty")

// FeedSource is the part of the provider client the logger polls.
type FeedSource interface {
	Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error)
	Since(ctx context.Context, channelID string, start time.Time) ([]models.FeedRecord, error)
}

// SessionStore persists which channels are being logged so they survive a restart.
type SessionStore interface {
	StartSession(channelID string) error
	StopSession(channelID string) error
	ResetCursor(channelID string) error
	BatchUpdateLastRecordTime(updates map[string]int64) error
	GetActiveSessions() ([]models.LoggingSession, error)
}

type Options struct {
	Interval       time.Duration
	BufferLimit    int
	InitialResults int
	ExportDir      string
	// OnOverflow is called after the buffer was flushed to path because it grew past
	// BufferLimit. flushed is the number of records written.
	OnOverflow func(channelID string, flushed int, path string)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.BufferLimit <= 0 {
		o.BufferLimit = 1000
	}
	if o.InitialResults <= 0 {
		o.InitialResults = 100
	}
	if o.ExportDir == "" {
		o.ExportDir = "./exports"
	}
	return o
}

// Logger continuously appends a channel's new records to a persisted buffer.
type Logger struct {
	channelID string
	source    FeedSource
	store     database.KVStore
	sessions  SessionStore
	exporter  *export.Exporter
	opts      Options
	now       func() time.Time

	mu      sync.Mutex
	buffer  []models.FeedRecord
	cursor  time.Time
	loaded  bool
	logging bool
	stop    chan struct{}

	// generation changes on every clear so fetches started before it are dropped.
	generation int
}

func New(channelID string, source FeedSource, store database.KVStore, sessions SessionStore, exporter *export.Exporter, opts Options) *Logger {
	return &Logger{
		channelID: channelID,
		source:    source,
		store:     store,
		sessions:  sessions,
		exporter:  exporter,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

func (l *Logger) ChannelID() string { return l.channelID }

// SetCursor seeds the timestamp cursor when no buffered record provides one.
func (l *Logger) SetCursor(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.cursor) {
		l.cursor = t
	}
}

// Start loads the persisted buffer, fetches once and then keeps fetching every Interval
// until Stop is called or ctx ends. Starting a running logger is a no-op.
func (l *Logger) Start(ctx context.Context) error {
	return l.start(ctx, false)
}

// StartInBackground is Start without waiting for the first fetch.
func (l *Logger) StartInBackground(ctx context.Context) error {
	return l.start(ctx, true)
}

func (l *Logger) start(ctx context.Context, background bool) error {
	if l.channelID == "" {
		return feed.ErrMissingChannel
	}

	l.mu.Lock()
	if l.logging {
		l.mu.Unlock()
		return nil
	}
	l.loadLocked(ctx)
	l.logging = true
	stop := make(chan struct{})
	l.stop = stop
	l.mu.Unlock()

	if l.sessions != nil {
		if err := l.sessions.StartSession(l.channelID); err != nil {
			log.Printf("[%s] Failed to persist logging session: %v", l.channelID, err)
		}
	}
	log.Printf("[%s] Continuous logging started (every %s, flush above %d records)", l.channelID, l.opts.Interval, l.opts.BufferLimit)

	if background {
		go func() {
			l.initialPoll(ctx)
			l.run(ctx, stop)
		}()
		return nil
	}
	l.initialPoll(ctx)
	go l.run(ctx, stop)
	return nil
}

func (l *Logger) initialPoll(ctx context.Context) {
	if err := l.Poll(ctx); err != nil {
		log.Printf("[%s] Initial logging fetch failed: %v", l.channelID, err)
	}
}

func (l *Logger) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			if l.stop == stop {
				l.logging = false
				l.stop = nil
			}
			l.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := l.Poll(ctx); err != nil {
				log.Printf("[%s] Logging fetch failed: %v", l.channelID, err)
			}
		}
	}
}

// Stop cancels future fetches. A fetch already in flight still completes.
func (l *Logger) Stop() {
	l.mu.Lock()
	if !l.logging {
		l.mu.Unlock()
		return
	}
	close(l.stop)
	l.stop = nil
	l.logging = false
	l.mu.Unlock()

	if l.sessions != nil {
		if err := l.sessions.StopSession(l.channelID); err != nil {
			log.Printf("[%s] Failed to mark logging session stopped: %v", l.channelID, err)
		}
	}
	log.Printf("[%s] Continuous logging stopped", l.channelID)
}

func (l *Logger) IsLogging() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logging
}

// Buffered returns the number of records waiting in the buffer.
func (l *Logger) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked(context.Background())
	return len(l.buffer)
}

// Poll fetches the records after the cursor and appends them to the buffer.
func (l *Logger) Poll(ctx context.Context) error {
	l.mu.Lock()
	l.loadLocked(ctx)
	cursor := l.cursor
	generation := l.generation
	l.mu.Unlock()

	var (
		feeds []models.FeedRecord
		err   error
	)
	if cursor.IsZero() {
		feeds, err = l.source.Latest(ctx, l.channelID, l.opts.InitialResults)
	} else {
		// start= is inclusive and has second resolution.
		feeds, err = l.source.Since(ctx, l.channelID, cursor.Add(time.Second))
	}
	if err != nil && !errors.Is(err, feed.ErrNoData) {
		return err
	}
	if len(feeds) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generation != generation {
		log.Printf("[%s] Dropping %d fetched records: buffer was cleared during the fetch", l.channelID, len(feeds))
		return nil
	}

	l.buffer = append(l.buffer, feeds...)
	l.cursor = feeds[len(feeds)-1].CreatedAt

	if len(l.buffer) > l.opts.BufferLimit {
		flushed := len(l.buffer)
		path, err := l.writeLocked()
		if err != nil {
			log.Printf("[%s] Auto-export of %d buffered records failed, keeping buffer: %v", l.channelID, flushed, err)
		} else {
			l.buffer = append([]models.FeedRecord(nil), feeds...)
			log.Printf("[%s] WARNING: buffer exceeded %d records; flushed %d to %s and kept only the latest fetch", l.channelID, l.opts.BufferLimit, flushed, path)
			if l.opts.OnOverflow != nil {
				l.opts.OnOverflow(l.channelID, flushed, path)
			}
		}
	}

	l.persistLocked(ctx)
	if l.sessions != nil {
		if err := l.sessions.BatchUpdateLastRecordTime(map[string]int64{l.channelID: l.cursor.Unix()}); err != nil {
			log.Printf("[%s] Failed to persist logging cursor: %v", l.channelID, err)
		}
	}
	return nil
}

// ExportToCSV writes the current buffer to the export directory and returns the file path.
func (l *Logger) ExportToCSV() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked(context.Background())
	if len(l.buffer) == 0 {
		return "", ErrNothingToExport
	}
	return l.writeLocked()
}

// CSV renders the current buffer without writing a file.
func (l *Logger) CSV() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked(context.Background())
	if len(l.buffer) == 0 {
		return nil, ErrNothingToExport
	}
	return l.exporter.CSV(l.buffer)
}

// ClearStoredData drops the buffer, its persisted copy and the cursor.
func (l *Logger) ClearStoredData(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = nil
	l.cursor = time.Time{}
	l.loaded = true
	l.generation++
	if err := l.store.Remove(ctx, database.FeedBufferKey(l.channelID)); err != nil {
		return fmt.Errorf("clear logging buffer for channel %s: %w", l.channelID, err)
	}
	if l.sessions != nil {
		if err := l.sessions.ResetCursor(l.channelID); err != nil {
			return fmt.Errorf("reset logging cursor for channel %s: %w", l.channelID, err)
		}
	}
	log.Printf("[%s] Cleared stored logging data", l.channelID)
	return nil
}

func (l *Logger) writeLocked() (string, error) {
	data, err := l.exporter.CSV(l.buffer)
	if err != nil {
		return "", err
	}
	return export.WriteFile(l.opts.ExportDir, export.Filename(l.channelID, l.now(), "csv"), data)
}

func (l *Logger) loadLocked(ctx context.Context) {
	if l.loaded {
		return
	}
	l.loaded = true

	key := database.FeedBufferKey(l.channelID)
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Printf("[%s] Failed to load logging buffer: %v", l.channelID, err)
		}
		return
	}

	var buf models.LoggingBuffer
	if err := json.Unmarshal([]byte(raw), &buf); err != nil {
		log.Printf("[%s] Discarding corrupt logging buffer: %v", l.channelID, err)
		if err := l.store.Remove(ctx, key); err != nil {
			log.Printf("[%s] Failed to remove corrupt logging buffer: %v", l.channelID, err)
		}
		return
	}
	l.buffer = buf.Feeds
	if n := len(buf.Feeds); n > 0 && buf.Feeds[n-1].CreatedAt.After(l.cursor) {
		l.cursor = buf.Feeds[n-1].CreatedAt
	}
	log.Printf("[%s] Restored %d buffered records", l.channelID, len(buf.Feeds))
}

func (l *Logger) persistLocked(ctx context.Context) {
	data, err := json.Marshal(models.LoggingBuffer{Feeds: l.buffer})
	if err != nil {
		log.Printf("[%s] Failed to encode logging buffer: %v", l.channelID, err)
		return
	}
	if err := l.store.Set(ctx, database.FeedBufferKey(l.channelID), string(data)); err != nil {
		log.Printf("[%s] Failed to persist logging buffer: %v", l.channelID, err)
	}
}
