package recorder

import (
	"context"
	"sync"
	"time"

	"vital-watch/internal/database"
	"vital-watch/internal/feed"
	"vital-watch/internal/models"
)

type fakeKVStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]string)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", database.ErrNotFound
	}
	return v, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKVStore) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type sourceCall struct {
	latest  int
	since   time.Time
	channel string
}

// scriptedSource answers each call with the next batch; an exhausted script means no data.
type scriptedSource struct {
	mu      sync.Mutex
	batches [][]models.FeedRecord
	calls   []sourceCall
}

func (s *scriptedSource) next() ([]models.FeedRecord, error) {
	if len(s.batches) == 0 {
		return nil, feed.ErrNoData
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	if len(b) == 0 {
		return nil, feed.ErrNoData
	}
	return b, nil
}

func (s *scriptedSource) Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceCall{latest: results, channel: channelID})
	return s.next()
}

func (s *scriptedSource) Since(ctx context.Context, channelID string, start time.Time) ([]models.FeedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceCall{since: start, channel: channelID})
	return s.next()
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeSessions struct {
	mu       sync.Mutex
	status   map[string]string
	cursors  map[string]int64
	resets   []string
	restored []models.LoggingSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{status: map[string]string{}, cursors: map[string]int64{}}
}

func (f *fakeSessions) StartSession(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[channelID] = database.SessionRunning
	return nil
}

func (f *fakeSessions) StopSession(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[channelID] = database.SessionStopped
	return nil
}

func (f *fakeSessions) ResetCursor(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cursors, channelID)
	f.resets = append(f.resets, channelID)
	return nil
}

func (f *fakeSessions) BatchUpdateLastRecordTime(updates map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range updates {
		f.cursors[k] = v
	}
	return nil
}

func (f *fakeSessions) GetActiveSessions() ([]models.LoggingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restored, nil
}

// gatedSource blocks every fetch until release is closed, reporting entry on entered.
type gatedSource struct {
	batch   []models.FeedRecord
	entered chan struct{}
	release chan struct{}
}

func newGatedSource(batch []models.FeedRecord) *gatedSource {
	return &gatedSource{batch: batch, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedSource) wait() ([]models.FeedRecord, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.batch, nil
}

func (g *gatedSource) Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error) {
	return g.wait()
}

func (g *gatedSource) Since(ctx context.Context, channelID string, start time.Time) ([]models.FeedRecord, error) {
	return g.wait()
}
