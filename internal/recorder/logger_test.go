package recorder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vital-watch/internal/database"
	"vital-watch/internal/export"
	"vital-watch/internal/models"
	"vital-watch/internal/vitals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zeroSource struct{}

func (zeroSource) Intn(int) int { return 0 }

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func records(from, n int) []models.FeedRecord {
	out := make([]models.FeedRecord, n)
	for i := range out {
		idx := from + i
		out[i] = models.FeedRecord{
			CreatedAt: base.Add(time.Duration(idx) * 15 * time.Second),
			EntryID:   int64(idx + 1),
			Field1:    "36.8",
			Field3:    "72",
			Field4:    "98",
		}
	}
	return out
}

func newTestLogger(t *testing.T, src FeedSource, kv database.KVStore, sessions SessionStore, opts Options) *Logger {
	t.Helper()
	if opts.ExportDir == "" {
		opts.ExportDir = t.TempDir()
	}
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	l := New("42", src, kv, sessions, export.NewExporter(vitals.NewEstimator(zeroSource{})), opts)
	l.now = func() time.Time { return base }
	return l
}

func storedFeeds(t *testing.T, kv *fakeKVStore) []models.FeedRecord {
	t.Helper()
	raw, err := kv.Get(context.Background(), database.FeedBufferKey("42"))
	require.NoError(t, err)
	var buf models.LoggingBuffer
	require.NoError(t, json.Unmarshal([]byte(raw), &buf))
	return buf.Feeds
}

func TestLogger_StartFetchesImmediatelyThenFollowsCursor(t *testing.T) {
	src := &scriptedSource{batches: [][]models.FeedRecord{records(0, 2), records(2, 1), nil}}
	kv := newFakeKVStore()
	sessions := newFakeSessions()
	l := newTestLogger(t, src, kv, sessions, Options{InitialResults: 50})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Start(ctx))
	defer l.Stop()

	assert.True(t, l.IsLogging())
	require.Equal(t, 1, src.callCount())
	assert.Equal(t, 50, src.calls[0].latest)
	assert.Equal(t, 2, l.Buffered())
	assert.Equal(t, database.SessionRunning, sessions.status["42"])

	require.NoError(t, l.Poll(ctx))
	assert.Equal(t, base.Add(15*time.Second+time.Second), src.calls[1].since)
	assert.Equal(t, 3, l.Buffered())
	assert.Equal(t, base.Add(30*time.Second).Unix(), sessions.cursors["42"])

	// an empty fetch is not an error and does not move the cursor
	require.NoError(t, l.Poll(ctx))
	assert.Equal(t, base.Add(31*time.Second), src.calls[2].since)
	assert.Len(t, storedFeeds(t, kv), 3)
}

func TestLogger_StartIsIdempotentAndStopIsQueryable(t *testing.T) {
	src := &scriptedSource{batches: [][]models.FeedRecord{records(0, 1)}}
	sessions := newFakeSessions()
	l := newTestLogger(t, src, newFakeKVStore(), sessions, Options{})

	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Start(ctx))
	assert.Equal(t, 1, src.callCount())

	l.Stop()
	l.Stop()
	assert.False(t, l.IsLogging())
	assert.Equal(t, database.SessionStopped, sessions.status["42"])
}

func TestLogger_ResumesFromPersistedBuffer(t *testing.T) {
	kv := newFakeKVStore()
	data, err := json.Marshal(models.LoggingBuffer{Feeds: records(0, 3)})
	require.NoError(t, err)
	kv.data[database.FeedBufferKey("42")] = string(data)

	src := &scriptedSource{batches: [][]models.FeedRecord{records(3, 1)}}
	l := newTestLogger(t, src, kv, nil, Options{})
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Equal(t, 1, src.callCount())
	assert.True(t, src.calls[0].since.Equal(base.Add(31*time.Second)))
	assert.Equal(t, 4, l.Buffered())
	assert.Len(t, storedFeeds(t, kv), 4)
}

func TestLogger_CorruptBufferIsDiscarded(t *testing.T) {
	kv := newFakeKVStore()
	kv.data[database.FeedBufferKey("42")] = "{oops"

	src := &scriptedSource{batches: [][]models.FeedRecord{nil}}
	l := newTestLogger(t, src, kv, nil, Options{})
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	assert.Equal(t, 0, l.Buffered())
	_, err := kv.Get(context.Background(), database.FeedBufferKey("42"))
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.NotZero(t, src.calls[0].latest)
}

func TestLogger_OverflowFlushesAndKeepsLatestFetch(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{batches: [][]models.FeedRecord{records(0, 2), records(2, 2)}}
	kv := newFakeKVStore()

	var hookFlushed int
	var hookPath string
	l := newTestLogger(t, src, kv, nil, Options{
		BufferLimit: 3,
		ExportDir:   dir,
		OnOverflow: func(channelID string, flushed int, path string) {
			hookFlushed = flushed
			hookPath = path
		},
	})

	ctx := context.Background()
	require.NoError(t, l.Poll(ctx))
	assert.Equal(t, 2, l.Buffered())
	assert.Empty(t, hookPath)

	require.NoError(t, l.Poll(ctx))
	assert.Equal(t, 4, hookFlushed)
	assert.Equal(t, filepath.Join(dir, "vitals_42_20240501T100000Z.csv"), hookPath)
	assert.Equal(t, 2, l.Buffered())

	feeds := storedFeeds(t, kv)
	require.Len(t, feeds, 2)
	assert.EqualValues(t, 3, feeds[0].EntryID)

	content, err := os.ReadFile(hookPath)
	require.NoError(t, err)
	assert.Equal(t, 5, len(splitLines(string(content))))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestLogger_ExportAndClear(t *testing.T) {
	dir := t.TempDir()
	src := &scriptedSource{batches: [][]models.FeedRecord{records(0, 2)}}
	kv := newFakeKVStore()
	sessions := newFakeSessions()
	l := newTestLogger(t, src, kv, sessions, Options{ExportDir: dir})

	_, err := l.ExportToCSV()
	require.ErrorIs(t, err, ErrNothingToExport)

	ctx := context.Background()
	require.NoError(t, l.Poll(ctx))

	path, err := l.ExportToCSV()
	require.NoError(t, err)
	assert.FileExists(t, path)

	data, err := l.CSV()
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-05-01T10:00:15.000Z")

	require.NoError(t, l.ClearStoredData(ctx))
	assert.Equal(t, 0, l.Buffered())
	_, err = kv.Get(ctx, database.FeedBufferKey("42"))
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Contains(t, sessions.resets, "42")
}

func TestLogger_SchedulesRepeatedFetches(t *testing.T) {
	src := &scriptedSource{}
	l := newTestLogger(t, src, newFakeKVStore(), nil, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Start(ctx))

	require.Eventually(t, func() bool { return src.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	l.Stop()
	time.Sleep(20 * time.Millisecond)
	after := src.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, src.callCount())
}

func TestLogger_ContextCancelEndsLogging(t *testing.T) {
	src := &scriptedSource{}
	sessions := newFakeSessions()
	l := newTestLogger(t, src, newFakeKVStore(), sessions, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !l.IsLogging() }, time.Second, 5*time.Millisecond)
	// shutdown keeps the session so it is restored on the next boot
	assert.Equal(t, database.SessionRunning, sessions.status["42"])
}

func TestLogger_MissingChannel(t *testing.T) {
	l := New("", &scriptedSource{}, newFakeKVStore(), nil, export.NewExporter(vitals.NewEstimator(zeroSource{})), Options{})
	assert.Error(t, l.Start(context.Background()))
	assert.False(t, l.IsLogging())
}

func TestLogger_PersistedBufferExportsWithoutStart(t *testing.T) {
	kv := newFakeKVStore()
	data, err := json.Marshal(models.LoggingBuffer{Feeds: records(0, 3)})
	require.NoError(t, err)
	kv.data[database.FeedBufferKey("42")] = string(data)

	src := &scriptedSource{}
	l := newTestLogger(t, src, kv, nil, Options{})

	assert.Equal(t, 3, l.Buffered())

	csv, err := l.CSV()
	require.NoError(t, err)
	assert.Len(t, splitLines(string(csv)), 4)

	path, err := l.ExportToCSV()
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.False(t, l.IsLogging())
	assert.Zero(t, src.callCount())
}

func TestLogger_ClearDuringFetchDropsStaleRecords(t *testing.T) {
	kv := newFakeKVStore()
	src := newGatedSource(records(0, 2))
	l := newTestLogger(t, src, kv, nil, Options{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- l.Poll(ctx) }()

	<-src.entered
	require.NoError(t, l.ClearStoredData(ctx))
	close(src.release)
	require.NoError(t, <-done)

	assert.Zero(t, l.Buffered())
	_, err := kv.Get(ctx, database.FeedBufferKey("42"))
	assert.ErrorIs(t, err, database.ErrNotFound)

	// The cursor was not advanced by the dropped fetch, so the next poll starts fresh.
	go func() { done <- l.Poll(ctx) }()
	<-src.entered
	require.NoError(t, <-done)
	assert.Equal(t, 2, l.Buffered())
}
