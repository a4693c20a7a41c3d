package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// KVStore is the persistence collaborator shared by the location resolver and the
// continuous logger.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

func FeedBufferKey(channelID string) string {
	return "thingspeak_data_" + channelID
}

func LastLocationKey(channelID string) string {
	return "lastKnownLocation_" + channelID
}
