package location

import (
	"context"
	"sync"

	"vital-watch/internal/database"
)

// fakeKVStore is an in-memory KVStore for unit tests.
type fakeKVStore struct {
	mu      sync.Mutex
	data    map[string]string
	removed []string
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
	f.removed = append(f.removed, key)
	return nil
}
