package location

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"vital-watch/internal/database"
	"vital-watch/internal/models"
	"vital-watch/internal/vitals"
)

// DefaultAccuracy is the accuracy radius, in metres, reported for every fix.
const DefaultAccuracy = 15

// Resolver finds the best known location of a channel and remembers the last valid fix.
type Resolver struct {
	store database.KVStore
	now   func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewResolver(store database.KVStore) *Resolver {
	return &Resolver{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// Fix reports the coordinates of a record. Zero on either axis means no fix.
func Fix(rec models.FeedRecord) (lat, lng float64, ok bool) {
	lat, latOK := vitals.ParseFloat(string(rec.Field5))
	lng, lngOK := vitals.ParseFloat(string(rec.Field6))
	if !latOK || !lngOK || lat == 0 || lng == 0 {
		return 0, 0, false
	}
	return lat, lng, true
}

// Resolve takes records ordered most recent first. The first record is the current one;
// the rest are scanned in order before falling back to the cached fix.
func (r *Resolver) Resolve(ctx context.Context, channelID string, records []models.FeedRecord) models.Location {
	lock := r.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()

	if len(records) > 0 {
		if lat, lng, ok := Fix(records[0]); ok {
			loc := newLocation(lat, lng, false, records[0].CreatedAt)
			r.remember(ctx, channelID, loc)
			return loc
		}
		for _, rec := range records[1:] {
			if lat, lng, ok := Fix(rec); ok {
				loc := newLocation(lat, lng, true, rec.CreatedAt)
				r.remember(ctx, channelID, loc)
				return loc
			}
		}
	}

	if loc, ok := r.cached(ctx, channelID); ok {
		return loc
	}

	return models.Location{
		Accuracy:    DefaultAccuracy,
		IsLastKnown: true,
		Timestamp:   r.now(),
	}
}

func newLocation(lat, lng float64, lastKnown bool, ts time.Time) models.Location {
	return models.Location{
		Lat:         &lat,
		Lng:         &lng,
		Accuracy:    DefaultAccuracy,
		IsLastKnown: lastKnown,
		Timestamp:   ts,
	}
}

func (r *Resolver) remember(ctx context.Context, channelID string, loc models.Location) {
	if channelID == "" {
		return
	}
	loc.IsLastKnown = true
	data, err := json.Marshal(loc)
	if err != nil {
		log.Printf("[%s] Failed to encode last known location: %v", channelID, err)
		return
	}
	if err := r.store.Set(ctx, database.LastLocationKey(channelID), string(data)); err != nil {
		log.Printf("[%s] Failed to persist last known location: %v", channelID, err)
	}
}

func (r *Resolver) cached(ctx context.Context, channelID string) (models.Location, bool) {
	if channelID == "" {
		return models.Location{}, false
	}
	key := database.LastLocationKey(channelID)
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Printf("[%s] Failed to read last known location: %v", channelID, err)
		}
		return models.Location{}, false
	}

	var loc models.Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		log.Printf("[%s] Discarding corrupt last known location: %v", channelID, err)
		if err := r.store.Remove(ctx, key); err != nil {
			log.Printf("[%s] Failed to remove corrupt last known location: %v", channelID, err)
		}
		return models.Location{}, false
	}
	return loc, true
}

func (r *Resolver) lockFor(channelID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[channelID] = lock
	}
	return lock
}
