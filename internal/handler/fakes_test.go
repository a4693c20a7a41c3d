package handler

import (
	"context"
	"sync"
	"time"

	"vital-watch/internal/database"
	"vital-watch/internal/feed"
	"vital-watch/internal/models"
)

type zeroSource struct{}

func (zeroSource) Intn(int) int { return 0 }

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", database.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// channelFeeds serves canned records per channel; a channel listed in errs fails instead.
type channelFeeds struct {
	mu      sync.Mutex
	records map[string][]models.FeedRecord
	errs    map[string]error
	latest  []int
}

func (c *channelFeeds) Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = append(c.latest, results)
	if err, ok := c.errs[channelID]; ok {
		return nil, err
	}
	recs := c.records[channelID]
	if len(recs) == 0 {
		return nil, feed.ErrNoData
	}
	return recs, nil
}

func (c *channelFeeds) Since(ctx context.Context, channelID string, start time.Time) ([]models.FeedRecord, error) {
	return nil, feed.ErrNoData
}

type staticChannels struct {
	ids []string
	err error
}

func (s staticChannels) ChannelIDs(ctx context.Context) ([]string, error) {
	return s.ids, s.err
}

type capturePublisher struct {
	mu        sync.Mutex
	snapshots []models.Snapshot
}

func (p *capturePublisher) PublishSnapshot(snapshot models.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snapshot)
	return nil
}
